package packet

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// ErrNoLayers is returned when nothing usable could be decoded.
var ErrNoLayers = errors.New("no ethernet or ip layer")

var decodeOptions = gopacket.DecodeOptions{Lazy: true, NoCopy: true}

// Decode parses an Ethernet frame. The returned view may reference frame,
// so the caller must not reuse the buffer while the view is in use.
func Decode(frame []byte, ts time.Time) (*View, error) {
	return decode(gopacket.NewPacket(frame, layers.LayerTypeEthernet, decodeOptions), len(frame), ts)
}

// DecodeL3 parses a bare IP packet, as handed over by netfilter. When
// hwHeader holds a full Ethernet header (nflog, nfqueue on ingress) the
// link layer is rebuilt from it; a 6-byte hwHeader is taken as the source
// MAC only.
func DecodeL3(payload, hwHeader []byte, ts time.Time) (*View, error) {
	if len(payload) == 0 {
		return nil, ErrNoLayers
	}
	var first gopacket.LayerType
	switch payload[0] >> 4 {
	case 4:
		first = layers.LayerTypeIPv4
	case 6:
		first = layers.LayerTypeIPv6
	default:
		return nil, fmt.Errorf("unknown ip version %d", payload[0]>>4)
	}

	v, err := decode(gopacket.NewPacket(payload, first, decodeOptions), len(payload), ts)
	if err != nil {
		return nil, err
	}

	switch {
	case len(hwHeader) >= 14:
		v.Eth = &Ethernet{
			Dst:       cloneMAC(hwHeader[0:6]),
			Src:       cloneMAC(hwHeader[6:12]),
			EtherType: uint16(hwHeader[12])<<8 | uint16(hwHeader[13]),
		}
	case len(hwHeader) >= 6:
		v.Eth = &Ethernet{Src: cloneMAC(hwHeader[:6])}
	}
	if v.Eth != nil && v.IP != nil {
		// the kernel header may still carry an 802.1Q type
		if v.IP.Version == 4 {
			v.Eth.EtherType = EtherTypeIPv4
		} else {
			v.Eth.EtherType = EtherTypeIPv6
		}
	}
	return v, nil
}

func decode(p gopacket.Packet, length int, ts time.Time) (*View, error) {
	v := &View{Timestamp: ts, Length: length}

	if l, ok := p.Layer(layers.LayerTypeEthernet).(*layers.Ethernet); ok {
		v.Eth = &Ethernet{
			Src:       cloneMAC(l.SrcMAC),
			Dst:       cloneMAC(l.DstMAC),
			EtherType: uint16(l.EthernetType),
		}
		if q, ok := p.Layer(layers.LayerTypeDot1Q).(*layers.Dot1Q); ok {
			v.Eth.EtherType = uint16(q.Type)
		}
	}

	if v.Eth != nil {
		decodeLinkControl(p, v)
	}

	if l, ok := p.Layer(layers.LayerTypeIPv4).(*layers.IPv4); ok {
		v.IP = &IP{
			Version:  4,
			Src:      addrFrom(l.SrcIP),
			Dst:      addrFrom(l.DstIP),
			Protocol: uint8(l.Protocol),
		}
	} else if l, ok := p.Layer(layers.LayerTypeIPv6).(*layers.IPv6); ok {
		v.IP = &IP{
			Version:  6,
			Src:      addrFrom(l.SrcIP),
			Dst:      addrFrom(l.DstIP),
			Protocol: uint8(l.NextHeader),
		}
		// extension headers push the real protocol further down
		if tl := p.TransportLayer(); tl != nil {
			switch tl.LayerType() {
			case layers.LayerTypeTCP:
				v.IP.Protocol = ProtoTCP
			case layers.LayerTypeUDP:
				v.IP.Protocol = ProtoUDP
			}
		}
	}

	if l, ok := p.Layer(layers.LayerTypeTCP).(*layers.TCP); ok {
		v.Transport = &Transport{
			Protocol: ProtoTCP,
			SrcPort:  uint16(l.SrcPort),
			DstPort:  uint16(l.DstPort),
			Payload:  l.Payload,
		}
	} else if l, ok := p.Layer(layers.LayerTypeUDP).(*layers.UDP); ok {
		v.Transport = &Transport{
			Protocol: ProtoUDP,
			SrcPort:  uint16(l.SrcPort),
			DstPort:  uint16(l.DstPort),
			Payload:  l.Payload,
		}
	}

	if v.Eth == nil && v.IP == nil {
		if el := p.ErrorLayer(); el != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoLayers, el.Error())
		}
		return nil, ErrNoLayers
	}
	return v, nil
}

// decodeLinkControl fills the ARP and LLDP views. Only IPv4 over Ethernet
// ARP is kept; other hardware or protocol types carry nothing the identity
// store can use.
func decodeLinkControl(p gopacket.Packet, v *View) {
	if l, ok := p.Layer(layers.LayerTypeARP).(*layers.ARP); ok {
		if l.AddrType == layers.LinkTypeEthernet && l.Protocol == layers.EthernetTypeIPv4 &&
			len(l.SourceHwAddress) == 6 && len(l.SourceProtAddress) == 4 {
			v.ARP = &ARP{
				Operation: l.Operation,
				SenderMAC: cloneMAC(l.SourceHwAddress),
				SenderIP:  addrFrom(l.SourceProtAddress),
				TargetMAC: cloneMAC(l.DstHwAddress),
				TargetIP:  addrFrom(l.DstProtAddress),
			}
		}
		return
	}

	l, ok := p.Layer(layers.LayerTypeLinkLayerDiscovery).(*layers.LinkLayerDiscovery)
	if !ok {
		return
	}
	v.LLDP = &LLDP{}
	if l.ChassisID.Subtype == layers.LLDPChassisIDSubTypeMACAddr && len(l.ChassisID.ID) == 6 {
		v.LLDP.ChassisMAC = cloneMAC(l.ChassisID.ID)
	}
	if info, ok := p.Layer(layers.LayerTypeLinkLayerDiscoveryInfo).(*layers.LinkLayerDiscoveryInfo); ok {
		v.LLDP.SysName = strings.TrimRight(info.SysName, "\x00")
		switch info.MgmtAddress.Subtype {
		case layers.IANAAddressFamilyIPV4, layers.IANAAddressFamilyIPV6:
			v.LLDP.MgmtAddr = addrFrom(info.MgmtAddress.Address)
		}
	}
}

func addrFrom(ip net.IP) netip.Addr {
	a, ok := netip.AddrFromSlice(ip)
	if !ok {
		return netip.Addr{}
	}
	return a.Unmap()
}

func cloneMAC(hw []byte) net.HardwareAddr {
	out := make(net.HardwareAddr, len(hw))
	copy(out, hw)
	return out
}
