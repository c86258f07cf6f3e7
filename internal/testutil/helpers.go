// Package testutil holds helpers shared by package tests.
package testutil

import (
	"net"
	"net/netip"
	"os"
	"testing"
	"time"

	"grimm.is/flowmeta/internal/packet"
)

// RequirePrivileged skips the test unless FLOWMETA_PRIV_TEST is set. Tests
// that open netlink or raw sockets need CAP_NET_ADMIN and a kernel to talk
// to, so they only run where someone opted in.
func RequirePrivileged(t *testing.T) {
	t.Helper()
	if os.Getenv("FLOWMETA_PRIV_TEST") == "" {
		t.Skip("Skipping test: requires FLOWMETA_PRIV_TEST environment")
	}
}

// MAC parses s or panics.
func MAC(s string) net.HardwareAddr {
	hw, err := net.ParseMAC(s)
	if err != nil {
		panic(err)
	}
	return hw
}

// TCP builds an Ethernet/IP/TCP view. Either address family works.
func TCP(ethSrc, ethDst, ipSrc, ipDst string, sport, dport uint16) *packet.View {
	return transport(packet.ProtoTCP, ethSrc, ethDst, ipSrc, ipDst, sport, dport)
}

// UDP builds an Ethernet/IP/UDP view.
func UDP(ethSrc, ethDst, ipSrc, ipDst string, sport, dport uint16) *packet.View {
	return transport(packet.ProtoUDP, ethSrc, ethDst, ipSrc, ipDst, sport, dport)
}

// IPOnly builds an Ethernet/IP view with no transport layer, e.g. ICMP.
func IPOnly(ethSrc, ethDst, ipSrc, ipDst string, proto uint8) *packet.View {
	src := netip.MustParseAddr(ipSrc)
	dst := netip.MustParseAddr(ipDst)
	var version uint8 = 4
	etype := packet.EtherTypeIPv4
	if src.Is6() {
		version, etype = 6, packet.EtherTypeIPv6
	}
	return &packet.View{
		Timestamp: time.Now(),
		Eth:       &packet.Ethernet{Src: MAC(ethSrc), Dst: MAC(ethDst), EtherType: etype},
		IP:        &packet.IP{Version: version, Src: src, Dst: dst, Protocol: proto},
	}
}

// L2 builds an Ethernet-only view.
func L2(ethSrc, ethDst string, etherType uint16) *packet.View {
	return &packet.View{
		Timestamp: time.Now(),
		Eth:       &packet.Ethernet{Src: MAC(ethSrc), Dst: MAC(ethDst), EtherType: etherType},
	}
}

func transport(proto uint8, ethSrc, ethDst, ipSrc, ipDst string, sport, dport uint16) *packet.View {
	v := IPOnly(ethSrc, ethDst, ipSrc, ipDst, proto)
	v.Transport = &packet.Transport{Protocol: proto, SrcPort: sport, DstPort: dport}
	return v
}
