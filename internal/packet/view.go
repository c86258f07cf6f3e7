// Package packet is the decoded, read-only view of a frame that the flow
// table and the classifiers work from. Layers that weren't present on the
// wire are nil.
package packet

import (
	"fmt"
	"net"
	"net/netip"
	"time"
)

// IP protocol numbers the core cares about.
const (
	ProtoICMP   uint8 = 1
	ProtoTCP    uint8 = 6
	ProtoUDP    uint8 = 17
	ProtoICMPv6 uint8 = 58
)

// Common ethertypes.
const (
	EtherTypeIPv4 uint16 = 0x0800
	EtherTypeARP  uint16 = 0x0806
	EtherTypeIPv6 uint16 = 0x86dd
	EtherTypeLLDP uint16 = 0x88cc
)

// View is one decoded packet.
type View struct {
	Timestamp time.Time
	Length    int

	Eth       *Ethernet
	IP        *IP
	Transport *Transport

	// Link-local control protocols, set only on frames decoded with their
	// Ethernet header.
	ARP  *ARP
	LLDP *LLDP
}

// Ethernet carries the link-layer addresses. EtherType is the type of the
// payload after any 802.1Q tags.
type Ethernet struct {
	Src, Dst  net.HardwareAddr
	EtherType uint16
}

// IP is the network layer, either version. Addresses are unmapped, so an
// IPv4-mapped IPv6 address shows up as plain IPv4.
type IP struct {
	Version  uint8
	Src, Dst netip.Addr
	Protocol uint8
}

// Transport is set for protocols that carry ports (TCP and UDP).
type Transport struct {
	Protocol         uint8
	SrcPort, DstPort uint16
	Payload          []byte
}

// ARP operations.
const (
	ARPRequest uint16 = 1
	ARPReply   uint16 = 2
)

// ARP is an IPv4 over Ethernet ARP message.
type ARP struct {
	Operation uint16
	SenderMAC net.HardwareAddr
	SenderIP  netip.Addr
	TargetMAC net.HardwareAddr
	TargetIP  netip.Addr
}

// Gratuitous reports whether the sender is announcing its own address.
func (a *ARP) Gratuitous() bool {
	return a.SenderIP.IsValid() && a.SenderIP == a.TargetIP
}

// LLDP is the part of an LLDP data unit that names the sending system.
type LLDP struct {
	// ChassisMAC is nil unless the chassis ID subtype is a MAC address.
	ChassisMAC net.HardwareAddr
	SysName    string
	MgmtAddr   netip.Addr
}

// TCP returns the transport layer if it is TCP.
func (v *View) TCP() *Transport {
	if v != nil && v.Transport != nil && v.Transport.Protocol == ProtoTCP {
		return v.Transport
	}
	return nil
}

// UDP returns the transport layer if it is UDP.
func (v *View) UDP() *Transport {
	if v != nil && v.Transport != nil && v.Transport.Protocol == ProtoUDP {
		return v.Transport
	}
	return nil
}

// Malformed reports whether the view carries neither an IP nor an
// Ethernet layer, leaving nothing to correlate on.
func (v *View) Malformed() bool {
	return v == nil || (v.IP == nil && v.Eth == nil)
}

func (v *View) String() string {
	if v == nil {
		return "<nil>"
	}
	switch {
	case v.IP != nil && v.Transport != nil:
		return fmt.Sprintf("%s %s -> %s",
			ProtoName(v.IP.Protocol),
			netip.AddrPortFrom(v.IP.Src, v.Transport.SrcPort),
			netip.AddrPortFrom(v.IP.Dst, v.Transport.DstPort))
	case v.IP != nil:
		return fmt.Sprintf("%s %s -> %s", ProtoName(v.IP.Protocol), v.IP.Src, v.IP.Dst)
	case v.ARP != nil:
		return fmt.Sprintf("arp op %d %s is-at %s", v.ARP.Operation, v.ARP.SenderIP, v.ARP.SenderMAC)
	case v.Eth != nil:
		return fmt.Sprintf("eth 0x%04x %s -> %s", v.Eth.EtherType, v.Eth.Src, v.Eth.Dst)
	}
	return "malformed"
}

// ProtoName renders an IP protocol number for logs.
func ProtoName(p uint8) string {
	switch p {
	case ProtoICMP:
		return "icmp"
	case ProtoTCP:
		return "tcp"
	case ProtoUDP:
		return "udp"
	case ProtoICMPv6:
		return "icmpv6"
	}
	return fmt.Sprintf("ip/%d", p)
}
