package identity

import (
	"net/netip"
	"strings"
	"sync"

	"github.com/insomniacslk/dhcp/dhcpv4"

	"grimm.is/flowmeta/internal/logging"
	"grimm.is/flowmeta/internal/packet"
)

const (
	bootpServerPort = 67
	bootpClientPort = 68

	// cap on remembered REQUEST hostnames still waiting for their ACK
	maxPendingHostnames = 4096
)

// DHCPHarvester learns address to MAC and hostname bindings from DHCPv4
// exchanges it sees on the wire. Clients put their hostname in the
// REQUEST; the server's ACK carries the address, so the hostname is held
// per client MAC until the ACK shows up.
type DHCPHarvester struct {
	store  *Store
	logger *logging.Logger

	mu      sync.Mutex
	pending map[string]string // chaddr -> hostname
}

// NewDHCPHarvester feeds store.
func NewDHCPHarvester(store *Store, logger *logging.Logger) *DHCPHarvester {
	if logger == nil {
		logger = logging.Default()
	}
	return &DHCPHarvester{
		store:   store,
		logger:  logger.WithComponent("dhcp-harvester"),
		pending: make(map[string]string),
	}
}

// Observe inspects one packet. Anything that isn't BOOTP is ignored.
func (h *DHCPHarvester) Observe(v *packet.View) {
	udp := v.UDP()
	if udp == nil || len(udp.Payload) == 0 {
		return
	}
	if !isBOOTP(udp.SrcPort, udp.DstPort) {
		return
	}

	msg, err := dhcpv4.FromBytes(udp.Payload)
	if err != nil {
		h.logger.Debug("unparseable dhcp payload", "packet", v.String(), "error", err)
		return
	}
	h.handle(msg)
}

func isBOOTP(sport, dport uint16) bool {
	return (sport == bootpClientPort && dport == bootpServerPort) ||
		(sport == bootpServerPort && dport == bootpClientPort)
}

func (h *DHCPHarvester) handle(msg *dhcpv4.DHCPv4) {
	mac := msg.ClientHWAddr.String()

	switch msg.MessageType() {
	case dhcpv4.MessageTypeDiscover, dhcpv4.MessageTypeRequest:
		if name := cleanHostname(msg.HostName()); name != "" {
			h.remember(mac, name)
		}

	case dhcpv4.MessageTypeAck:
		addr, ok := netip.AddrFromSlice(msg.YourIPAddr.To4())
		if !ok || addr.IsUnspecified() {
			// ACK to an INFORM carries no lease
			return
		}
		name := cleanHostname(msg.HostName())
		if name == "" {
			name = h.take(mac)
		} else {
			h.take(mac)
		}
		h.store.Set(addr, Identity{MAC: mac, Hostname: name, Source: SourceDHCP})
		h.logger.Info("dhcp lease observed", "addr", addr, "mac", mac, "hostname", name)

	case dhcpv4.MessageTypeRelease:
		h.take(mac)
	}
}

func (h *DHCPHarvester) remember(mac, name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.pending[mac]; !ok && len(h.pending) >= maxPendingHostnames {
		// drop everything rather than track insertion order for a cache
		// this small
		h.pending = make(map[string]string)
	}
	h.pending[mac] = name
}

func (h *DHCPHarvester) take(mac string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	name := h.pending[mac]
	delete(h.pending, mac)
	return name
}

func cleanHostname(s string) string {
	return strings.TrimRight(strings.TrimSpace(s), "\x00.")
}
