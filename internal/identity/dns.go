package identity

import (
	"net/netip"
	"strings"

	"github.com/miekg/dns"

	"grimm.is/flowmeta/internal/logging"
	"grimm.is/flowmeta/internal/packet"
)

const dnsPort = 53

// DNSHarvester names addresses from the A and AAAA answers in DNS
// responses. The name recorded is the one the client asked for, which
// can differ from the owner of the final record when CNAMEs are chased.
type DNSHarvester struct {
	store  *Store
	logger *logging.Logger
}

// NewDNSHarvester feeds store.
func NewDNSHarvester(store *Store, logger *logging.Logger) *DNSHarvester {
	if logger == nil {
		logger = logging.Default()
	}
	return &DNSHarvester{store: store, logger: logger.WithComponent("dns-harvester")}
}

// Observe inspects one packet. Only UDP responses from port 53 are read.
func (h *DNSHarvester) Observe(v *packet.View) {
	udp := v.UDP()
	if udp == nil || udp.SrcPort != dnsPort || len(udp.Payload) == 0 {
		return
	}

	msg := new(dns.Msg)
	if err := msg.Unpack(udp.Payload); err != nil {
		h.logger.Debug("unparseable dns payload", "packet", v.String(), "error", err)
		return
	}
	if !msg.Response || msg.Rcode != dns.RcodeSuccess {
		return
	}

	asked := ""
	if len(msg.Question) > 0 {
		asked = fqdnTrim(msg.Question[0].Name)
	}

	for _, rr := range msg.Answer {
		var addr netip.Addr
		var ok bool
		switch a := rr.(type) {
		case *dns.A:
			addr, ok = netip.AddrFromSlice(a.A.To4())
		case *dns.AAAA:
			addr, ok = netip.AddrFromSlice(a.AAAA.To16())
		default:
			continue
		}
		if !ok {
			continue
		}
		name := asked
		if name == "" {
			name = fqdnTrim(rr.Header().Name)
		}
		h.store.Set(addr, Identity{Hostname: name, Source: SourceDNS})
		h.logger.Debug("dns answer observed", "addr", addr, "hostname", name)
	}
}

func fqdnTrim(name string) string {
	return strings.ToLower(strings.TrimSuffix(name, "."))
}
