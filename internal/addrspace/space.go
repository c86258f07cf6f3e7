package addrspace

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
)

// Kind says which of the three address-space forms a Space was written in.
type Kind int

const (
	KindAddr Kind = iota
	KindRange
	KindPrefix
)

func (k Kind) String() string {
	switch k {
	case KindAddr:
		return "address"
	case KindRange:
		return "range"
	case KindPrefix:
		return "cidr"
	}
	return "unknown"
}

// Space is a parsed IP address space: a single address, an inclusive
// dashed range, or a CIDR block.
type Space struct {
	Kind   Kind
	Prefix netip.Prefix // KindPrefix
	Lo, Hi netip.Addr   // KindAddr (Lo == Hi) and KindRange
}

var (
	errRangeParts    = errors.New("range must have exactly two bounds")
	errRangeVersion  = errors.New("range bounds are different IP versions")
	errRangeReversed = errors.New("range lower bound is not below upper bound")
)

// ParseSpace parses the three-way grammar used by ip_src and ip_dst
// predicates. A value containing "/" is a CIDR, one containing "-" is a
// range, anything else must be a plain address.
func ParseSpace(s string) (Space, error) {
	s = strings.TrimSpace(s)
	switch {
	case strings.Contains(s, "/"):
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return Space{}, fmt.Errorf("cidr %q: %w", s, err)
		}
		if p.Addr().Is4In6() {
			p = netip.PrefixFrom(p.Addr().Unmap(), p.Bits()-96)
			if !p.IsValid() {
				return Space{}, fmt.Errorf("cidr %q: mapped prefix shorter than /96", s)
			}
		}
		return Space{Kind: KindPrefix, Prefix: p.Masked()}, nil

	case strings.Contains(s, "-"):
		parts := strings.Split(s, "-")
		if len(parts) != 2 {
			return Space{}, fmt.Errorf("range %q: %w", s, errRangeParts)
		}
		lo, err := ParseAddr(parts[0])
		if err != nil {
			return Space{}, fmt.Errorf("range %q: %w", s, err)
		}
		hi, err := ParseAddr(parts[1])
		if err != nil {
			return Space{}, fmt.Errorf("range %q: %w", s, err)
		}
		if lo.Is4() != hi.Is4() {
			return Space{}, fmt.Errorf("range %q: %w", s, errRangeVersion)
		}
		if lo.Compare(hi) >= 0 {
			return Space{}, fmt.Errorf("range %q: %w", s, errRangeReversed)
		}
		return Space{Kind: KindRange, Lo: lo, Hi: hi}, nil

	default:
		a, err := ParseAddr(s)
		if err != nil {
			return Space{}, err
		}
		return Space{Kind: KindAddr, Lo: a, Hi: a}, nil
	}
}

// ParseAddr parses an IPv4 or IPv6 address, dropping any zone and
// unmapping IPv4-mapped IPv6 so both spellings compare equal.
func ParseAddr(s string) (netip.Addr, error) {
	a, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return netip.Addr{}, err
	}
	return a.WithZone("").Unmap(), nil
}

// Contains reports whether a falls inside the space. An address of the
// other IP version is never contained.
func (sp Space) Contains(a netip.Addr) bool {
	if !a.IsValid() {
		return false
	}
	a = a.WithZone("").Unmap()
	switch sp.Kind {
	case KindPrefix:
		return sp.Prefix.Contains(a)
	case KindAddr, KindRange:
		if a.Is4() != sp.Lo.Is4() {
			return false
		}
		return sp.Lo.Compare(a) <= 0 && a.Compare(sp.Hi) <= 0
	}
	return false
}

func (sp Space) String() string {
	switch sp.Kind {
	case KindPrefix:
		return sp.Prefix.String()
	case KindRange:
		return sp.Lo.String() + "-" + sp.Hi.String()
	}
	return sp.Lo.String()
}

// ParseEtherType accepts a 0x-prefixed hex value or a decimal value.
// Range is not checked here; see IsValidEtherType.
func ParseEtherType(s string) (int, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		n, err := strconv.ParseInt(s[2:], 16, 32)
		return int(n), err
	}
	n, err := strconv.ParseInt(s, 10, 32)
	return int(n), err
}

// ParsePort parses a decimal transport port in [1, 65535].
func ParsePort(s string) (uint16, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n < 1 || n > 65535 {
		return 0, fmt.Errorf("port %d out of range", n)
	}
	return uint16(n), nil
}

// ParseMAC parses a 48-bit MAC in any of the usual spellings: colon or
// hyphen separated, Cisco dotted, or twelve bare hex digits.
func ParseMAC(s string) (net.HardwareAddr, error) {
	s = strings.TrimSpace(s)
	if len(s) == 12 && !strings.ContainsAny(s, ":-.") {
		var b strings.Builder
		for i := 0; i < 12; i += 2 {
			if i > 0 {
				b.WriteByte(':')
			}
			b.WriteString(s[i : i+2])
		}
		s = b.String()
	}
	hw, err := net.ParseMAC(s)
	if err != nil {
		return nil, err
	}
	if len(hw) != 6 {
		return nil, fmt.Errorf("mac %q: not a 48-bit address", s)
	}
	return hw, nil
}
