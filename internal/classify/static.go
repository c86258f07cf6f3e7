// Package classify evaluates static classification predicates, such as
// ip_src = 10.1.0.0/24 or tcp_dst = 443, against decoded packets.
package classify

import (
	"fmt"
	"strconv"

	"grimm.is/flowmeta/internal/addrspace"
	"grimm.is/flowmeta/internal/logging"
	"grimm.is/flowmeta/internal/packet"
)

// Predicate attribute names.
const (
	EthSrc  = "eth_src"
	EthDst  = "eth_dst"
	EthType = "eth_type"
	IPSrc   = "ip_src"
	IPDst   = "ip_dst"
	TCPSrc  = "tcp_src"
	TCPDst  = "tcp_dst"
	UDPSrc  = "udp_src"
	UDPDst  = "udp_dst"
)

// Attributes lists every attribute Check understands.
var Attributes = []string{EthSrc, EthDst, EthType, IPSrc, IPDst, TCPSrc, TCPDst, UDPSrc, UDPDst}

// Static checks one attribute/value predicate at a time. It keeps no
// state beyond its collaborators and is safe for concurrent use.
type Static struct {
	match  *addrspace.Matcher
	logger *logging.Logger
}

// NewStatic builds a Static around m.
func NewStatic(m *addrspace.Matcher, logger *logging.Logger) *Static {
	if logger == nil {
		logger = logging.Default()
	}
	if m == nil {
		m = addrspace.New(logger)
	}
	return &Static{match: m, logger: logger.WithComponent("classify")}
}

// Check reports whether pkt satisfies attribute = value. A packet missing
// the layer the attribute needs is a non-match. An unknown attribute is
// logged and is also a non-match.
func (s *Static) Check(attribute, value string, pkt *packet.View) bool {
	if pkt == nil {
		return false
	}

	switch attribute {
	case EthSrc, EthDst, EthType:
		if pkt.Eth == nil {
			return false
		}
		switch attribute {
		case EthSrc:
			return s.match.MatchMAC(pkt.Eth.Src.String(), value)
		case EthDst:
			return s.match.MatchMAC(pkt.Eth.Dst.String(), value)
		default:
			return s.match.MatchEtherType(strconv.Itoa(int(pkt.Eth.EtherType)), value)
		}

	case IPSrc:
		if pkt.IP == nil || !pkt.IP.Src.IsValid() {
			return false
		}
		return s.match.MatchAddr(pkt.IP.Src, value)
	case IPDst:
		if pkt.IP == nil || !pkt.IP.Dst.IsValid() {
			return false
		}
		return s.match.MatchAddr(pkt.IP.Dst, value)

	case TCPSrc:
		return s.portEquals(pkt.TCP(), true, value)
	case TCPDst:
		return s.portEquals(pkt.TCP(), false, value)
	case UDPSrc:
		return s.portEquals(pkt.UDP(), true, value)
	case UDPDst:
		return s.portEquals(pkt.UDP(), false, value)
	}

	s.logger.Error("policy attribute not recognized", "attribute", attribute, "value", value)
	return false
}

// portEquals is exact equality; ports are never range matched.
func (s *Static) portEquals(tr *packet.Transport, src bool, value string) bool {
	if tr == nil {
		return false
	}
	want, err := addrspace.ParsePort(value)
	if err != nil {
		s.logger.Error("port predicate value is not a port", "value", value, "error", err)
		return false
	}
	if src {
		return tr.SrcPort == want
	}
	return tr.DstPort == want
}

// Validate checks that value is well formed for attribute, without a
// packet. Policy loading uses it to reject bad rules up front.
func (s *Static) Validate(attribute, value string) error {
	var ok bool
	switch attribute {
	case EthSrc, EthDst:
		ok = s.match.IsValidMAC(value)
	case EthType:
		ok = s.match.IsValidEtherType(value)
	case IPSrc, IPDst:
		ok = s.match.IsValidIPSpace(value)
	case TCPSrc, TCPDst, UDPSrc, UDPDst:
		ok = s.match.IsValidPort(value)
	default:
		return fmt.Errorf("unknown attribute %q", attribute)
	}
	if !ok {
		return fmt.Errorf("invalid value %q for %s", value, attribute)
	}
	return nil
}
