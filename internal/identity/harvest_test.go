package identity

import (
	"net"
	"net/netip"
	"testing"

	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/flowmeta/internal/packet"
	"grimm.is/flowmeta/internal/testutil"
)

const (
	clientMAC = "aa:bb:cc:00:00:42"
	serverMAC = "aa:bb:cc:00:00:01"
)

func udpView(src, dst string, sport, dport uint16, payload []byte) *packet.View {
	v := testutil.UDP(clientMAC, serverMAC, src, dst, sport, dport)
	v.Transport.Payload = payload
	return v
}

func dhcpBytes(t *testing.T, mods ...dhcpv4.Modifier) []byte {
	t.Helper()
	msg, err := dhcpv4.New(mods...)
	require.NoError(t, err)
	return msg.ToBytes()
}

func TestDHCPHarvesterRequestThenAck(t *testing.T) {
	s, _ := newTestStore(t)
	h := NewDHCPHarvester(s, nil)
	hw := testutil.MAC(clientMAC)

	req := dhcpBytes(t,
		dhcpv4.WithMessageType(dhcpv4.MessageTypeRequest),
		dhcpv4.WithHwAddr(hw),
		dhcpv4.WithOption(dhcpv4.OptHostName("laptop")),
	)
	h.Observe(udpView("0.0.0.0", "255.255.255.255", 68, 67, req))
	assert.Equal(t, 0, s.Len(), "a request alone must not create a binding")

	ack := dhcpBytes(t,
		dhcpv4.WithMessageType(dhcpv4.MessageTypeAck),
		dhcpv4.WithHwAddr(hw),
		dhcpv4.WithYourIP(net.IPv4(192, 168, 1, 50)),
	)
	h.Observe(udpView("192.168.1.1", "192.168.1.50", 67, 68, ack))

	id, ok := s.LookupIP(netip.MustParseAddr("192.168.1.50"))
	require.True(t, ok)
	assert.Equal(t, clientMAC, id.MAC)
	assert.Equal(t, "laptop", id.Hostname)
	assert.Equal(t, SourceDHCP, id.Source)
}

func TestDHCPHarvesterIgnores(t *testing.T) {
	s, _ := newTestStore(t)
	h := NewDHCPHarvester(s, nil)

	// ACK without a lease
	ack := dhcpBytes(t,
		dhcpv4.WithMessageType(dhcpv4.MessageTypeAck),
		dhcpv4.WithHwAddr(testutil.MAC(clientMAC)),
	)
	h.Observe(udpView("192.168.1.1", "192.168.1.50", 67, 68, ack))

	// wrong ports
	h.Observe(udpView("192.168.1.1", "192.168.1.50", 1000, 68, ack))
	// garbage
	h.Observe(udpView("192.168.1.1", "192.168.1.50", 67, 68, []byte{1, 2, 3}))
	// tcp
	h.Observe(testutil.TCP(clientMAC, serverMAC, "10.0.0.1", "10.0.0.2", 67, 68))

	assert.Equal(t, 0, s.Len())
}

func dnsResponse(t *testing.T, qname string, answers ...dns.RR) []byte {
	t.Helper()
	q := new(dns.Msg)
	q.SetQuestion(qname, dns.TypeA)
	r := new(dns.Msg)
	r.SetReply(q)
	r.Answer = answers
	b, err := r.Pack()
	require.NoError(t, err)
	return b
}

func TestDNSHarvester(t *testing.T) {
	s, _ := newTestStore(t)
	h := NewDNSHarvester(s, nil)

	resp := dnsResponse(t, "www.Example.com.",
		&dns.CNAME{Hdr: dns.RR_Header{Name: "www.example.com.", Rrtype: dns.TypeCNAME, Class: dns.ClassINET, Ttl: 60}, Target: "edge.cdn.net."},
		&dns.A{Hdr: dns.RR_Header{Name: "edge.cdn.net.", Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 60}, A: net.IPv4(93, 184, 216, 34)},
		&dns.AAAA{Hdr: dns.RR_Header{Name: "edge.cdn.net.", Rrtype: dns.TypeAAAA, Class: dns.ClassINET, Ttl: 60}, AAAA: net.ParseIP("2606:2800:220:1::1")},
	)
	h.Observe(udpView("10.0.0.53", "10.0.0.5", 53, 40000, resp))

	id, ok := s.LookupIP(netip.MustParseAddr("93.184.216.34"))
	require.True(t, ok)
	assert.Equal(t, "www.example.com", id.Hostname)
	assert.Equal(t, SourceDNS, id.Source)

	_, ok = s.LookupIP(netip.MustParseAddr("2606:2800:220:1::1"))
	assert.True(t, ok)
	assert.Equal(t, 2, s.Len())
}

func TestDNSHarvesterIgnoresQueriesAndFailures(t *testing.T) {
	s, _ := newTestStore(t)
	h := NewDNSHarvester(s, nil)

	q := new(dns.Msg)
	q.SetQuestion("example.com.", dns.TypeA)
	qb, err := q.Pack()
	require.NoError(t, err)
	h.Observe(udpView("10.0.0.5", "10.0.0.53", 53, 53, qb))

	nx := new(dns.Msg)
	nx.SetRcode(q, dns.RcodeNameError)
	nx.Answer = []dns.RR{&dns.A{Hdr: dns.RR_Header{Name: "example.com.", Rrtype: dns.TypeA, Class: dns.ClassINET}, A: net.IPv4(1, 2, 3, 4)}}
	nb, err := nx.Pack()
	require.NoError(t, err)
	h.Observe(udpView("10.0.0.53", "10.0.0.5", 53, 40000, nb))

	h.Observe(udpView("10.0.0.53", "10.0.0.5", 53, 40000, []byte("junk")))

	assert.Equal(t, 0, s.Len())
}
