package classify

import (
	"bytes"
	"strings"
	"testing"

	"grimm.is/flowmeta/internal/logging"
	"grimm.is/flowmeta/internal/packet"
	"grimm.is/flowmeta/internal/testutil"
)

const (
	mac1 = "AA:AA:AA:AA:AA:01"
	mac2 = "AA:AA:AA:AA:AA:02"
)

func newTestStatic() (*Static, *bytes.Buffer) {
	var buf bytes.Buffer
	return NewStatic(nil, logging.New(logging.Config{Level: logging.LevelDebug, Output: &buf, JSON: true})), &buf
}

func TestCheck(t *testing.T) {
	s, _ := newTestStatic()

	tcp := testutil.TCP(mac1, mac2, "10.0.0.1", "10.0.0.2", 1000, 80)
	udp := testutil.UDP(mac1, mac2, "10.0.0.1", "10.0.0.53", 40000, 53)
	icmp := testutil.IPOnly(mac1, mac2, "10.0.0.1", "10.0.0.2", packet.ProtoICMP)
	v6 := testutil.TCP(mac1, mac2, "2001:db8::1", "2001:db8::2", 1000, 443)
	arp := testutil.L2(mac1, mac2, packet.EtherTypeARP)

	tests := []struct {
		name  string
		attr  string
		value string
		pkt   *packet.View
		want  bool
	}{
		{"eth_src match", EthSrc, "aa:aa:aa:aa:aa:01", tcp, true},
		{"eth_src other", EthSrc, mac2, tcp, false},
		{"eth_dst match", EthDst, "aa-aa-aa-aa-aa-02", tcp, true},
		{"eth_type hex", EthType, "0x0800", tcp, true},
		{"eth_type decimal", EthType, "2048", tcp, true},
		{"eth_type arp", EthType, "0x0806", arp, true},
		{"eth_type mismatch", EthType, "0x86dd", tcp, false},
		{"ip_src cidr", IPSrc, "10.0.0.0/24", tcp, true},
		{"ip_src range", IPSrc, "10.0.0.1-10.0.0.9", tcp, true},
		{"ip_dst literal", IPDst, "10.0.0.2", tcp, true},
		{"ip_dst outside", IPDst, "10.0.1.0/24", tcp, false},
		{"ip_src v6", IPSrc, "2001:db8::/64", v6, true},
		{"ip_src v4 space v6 packet", IPSrc, "10.0.0.0/8", v6, false},
		{"ip_src on l2", IPSrc, "10.0.0.0/8", arp, false},
		{"tcp_src", TCPSrc, "1000", tcp, true},
		{"tcp_dst", TCPDst, "80", tcp, true},
		{"tcp_dst wrong", TCPDst, "81", tcp, false},
		{"tcp_dst no range", TCPDst, "80-90", tcp, false},
		{"tcp_dst on udp", TCPDst, "53", udp, false},
		{"tcp_dst on icmp", TCPDst, "80", icmp, false},
		{"udp_dst", UDPDst, "53", udp, true},
		{"udp_src", UDPSrc, "40000", udp, true},
		{"udp_dst on tcp", UDPDst, "80", tcp, false},
		{"eth_src on nil", EthSrc, mac1, nil, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := s.Check(tc.attr, tc.value, tc.pkt); got != tc.want {
				t.Errorf("Check(%q, %q) = %v; want %v", tc.attr, tc.value, got, tc.want)
			}
		})
	}
}

func TestCheckMissingEthernet(t *testing.T) {
	s, _ := newTestStatic()
	pkt := testutil.TCP(mac1, mac2, "10.0.0.1", "10.0.0.2", 1000, 80)
	pkt.Eth = nil

	if s.Check(EthSrc, mac1, pkt) {
		t.Error("eth_src matched a packet without ethernet")
	}
	if s.Check(EthType, "0x0800", pkt) {
		t.Error("eth_type matched a packet without ethernet")
	}
	if !s.Check(IPSrc, "10.0.0.1", pkt) {
		t.Error("ip_src should still match")
	}
}

func TestCheckUnknownAttribute(t *testing.T) {
	s, buf := newTestStatic()
	pkt := testutil.TCP(mac1, mac2, "10.0.0.1", "10.0.0.2", 1000, 80)

	if s.Check("vlan_id", "10", pkt) {
		t.Error("unknown attribute matched")
	}
	out := buf.String()
	if !strings.Contains(out, `"level":"ERROR"`) || !strings.Contains(out, "vlan_id") {
		t.Errorf("expected an error log naming vlan_id, got %q", out)
	}

	// a bad predicate does not poison the next one
	if !s.Check(TCPDst, "80", pkt) {
		t.Error("tcp_dst 80 should match after an unknown attribute")
	}
}

func TestValidate(t *testing.T) {
	s, _ := newTestStatic()

	for _, attr := range Attributes {
		if err := s.Validate(attr, "definitely not valid"); err == nil {
			t.Errorf("Validate(%q) accepted garbage", attr)
		}
	}

	tests := []struct {
		attr, value string
		ok          bool
	}{
		{EthSrc, mac1, true},
		{EthType, "0x88cc", true},
		{IPDst, "192.168.0.1-192.168.0.20", true},
		{TCPDst, "443", true},
		{UDPSrc, "5353", true},
		{IPDst, "192.168.0.20-192.168.0.1", false},
		{"dns_name", "example.com", false},
	}
	for _, tt := range tests {
		err := s.Validate(tt.attr, tt.value)
		if (err == nil) != tt.ok {
			t.Errorf("Validate(%q, %q) error = %v; want ok=%v", tt.attr, tt.value, err, tt.ok)
		}
	}
}
