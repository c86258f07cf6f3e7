package flowtable

import (
	"bytes"
	"net/netip"

	"grimm.is/flowmeta/internal/packet"
)

type direction int

const (
	noMatch direction = iota
	forward
	reverse
)

func (d direction) String() string {
	switch d {
	case forward:
		return "forward"
	case reverse:
		return "reverse"
	}
	return "none"
}

// ipDirection compares a packet's address pair with the key's.
func (k *L34Key) ipDirection(src, dst netip.Addr) direction {
	src, dst = src.Unmap(), dst.Unmap()
	switch {
	case src == k.IPA && dst == k.IPB:
		return forward
	case src == k.IPB && dst == k.IPA:
		return reverse
	}
	return noMatch
}

// matches applies the correlation rule for IP packets: the address pair
// must match in some direction, and if the packet has ports they must
// line up in that same direction. The protocol number is not compared.
func (k *L34Key) matches(ip *packet.IP, tr *packet.Transport) bool {
	dir := k.ipDirection(ip.Src, ip.Dst)
	if dir == noMatch {
		return false
	}
	if tr == nil {
		return true
	}
	if k.Ports == nil {
		return false
	}
	if dir == forward {
		return tr.SrcPort == k.Ports.A && tr.DstPort == k.Ports.B
	}
	return tr.SrcPort == k.Ports.B && tr.DstPort == k.Ports.A
}

// matches reports a MAC pair match in either direction with the same
// ethertype.
func (k *L2Key) matches(eth *packet.Ethernet) bool {
	if eth.EtherType != k.EtherType {
		return false
	}
	if bytes.Equal(eth.Src, k.EthA) && bytes.Equal(eth.Dst, k.EthB) {
		return true
	}
	return bytes.Equal(eth.Src, k.EthB) && bytes.Equal(eth.Dst, k.EthA)
}

// keyFor builds the key a new record for pkt would get. L3/4 wins when
// the packet has an IP layer.
func keyFor(pkt *packet.View) (Key, bool) {
	if pkt == nil {
		return Key{}, false
	}
	switch {
	case pkt.IP != nil:
		k := &L34Key{
			IPA:   pkt.IP.Src.Unmap(),
			IPB:   pkt.IP.Dst.Unmap(),
			Proto: pkt.IP.Protocol,
		}
		if tr := pkt.Transport; tr != nil {
			k.Ports = &PortPair{A: tr.SrcPort, B: tr.DstPort}
		}
		return Key{L34: k}, true
	case pkt.Eth != nil:
		return Key{L2: &L2Key{
			EthA:      append([]byte(nil), pkt.Eth.Src...),
			EthB:      append([]byte(nil), pkt.Eth.Dst...),
			EtherType: pkt.Eth.EtherType,
		}}, true
	}
	return Key{}, false
}
