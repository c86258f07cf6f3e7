// Package addrspace validates and matches the address-like values that
// classification predicates carry: MAC addresses, ethertypes, IP address
// spaces and transport ports.
//
// Nothing in here returns an error to the caller. A value that doesn't
// parse is logged and treated as "not valid" or "no match", so one bad
// predicate can't abort evaluation of its siblings.
package addrspace

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/netip"
	"strings"

	"grimm.is/flowmeta/internal/logging"
)

// Diagnostic codes attached to match-failure logs.
const (
	CodeEtherTypeHexA   = "E1000010"
	CodeEtherTypeDecA   = "E1000011"
	CodeEtherTypeHexB   = "E1000012"
	CodeEtherTypeDecB   = "E1000013"
	CodeSpaceCIDR       = "E1000015"
	CodeSpaceRangeParts = "E1000016"
	CodeSpaceRange      = "E1000017"
	CodeSpaceAddr       = "E1000019"
	CodeAddr            = "E1000021"
)

// Matcher is safe for concurrent use; it holds nothing but a logger.
type Matcher struct {
	log *logging.Logger
}

// New returns a Matcher that logs through logger.
func New(logger *logging.Logger) *Matcher {
	if logger == nil {
		logger = logging.Default()
	}
	return &Matcher{log: logger.WithComponent("addrspace")}
}

// IsValidMAC reports whether value parses as a 48-bit MAC address.
func (m *Matcher) IsValidMAC(value string) bool {
	if _, err := ParseMAC(value); err != nil {
		m.log.Debug("invalid mac address", "value", value, "error", err)
		return false
	}
	return true
}

// IsValidEtherType reports whether value is a hex (0x...) or decimal
// integer in [1, 65535].
func (m *Matcher) IsValidEtherType(value string) bool {
	n, err := ParseEtherType(value)
	if err != nil {
		m.log.Debug("invalid ethertype", "value", value, "error", err)
		return false
	}
	if n < 1 || n > 65535 {
		m.log.Debug("ethertype out of range", "value", value)
		return false
	}
	return true
}

// IsValidIPSpace reports whether value is a CIDR block, an ascending
// same-version range A-B, or a single IPv4/IPv6 address.
func (m *Matcher) IsValidIPSpace(value string) bool {
	if _, err := ParseSpace(value); err != nil {
		m.log.Debug("invalid ip space", "value", value, "error", err)
		return false
	}
	return true
}

// IsValidPort reports whether value is an integer in [1, 65535].
func (m *Matcher) IsValidPort(value string) bool {
	if _, err := ParsePort(value); err != nil {
		m.log.Debug("invalid transport port", "value", value, "error", err)
		return false
	}
	return true
}

// MatchMAC reports whether a and b are the same MAC address, whatever
// case or separator style either is written in.
func (m *Matcher) MatchMAC(a, b string) bool {
	ha, err := ParseMAC(a)
	if err != nil {
		m.log.Debug("mac parse failed", "value", a, "error", err)
		return false
	}
	hb, err := ParseMAC(b)
	if err != nil {
		m.log.Debug("mac parse failed", "value", b, "error", err)
		return false
	}
	return bytes.Equal(ha, hb)
}

// MatchEtherType compares two ethertypes after normalizing hex and
// decimal spellings to integers.
func (m *Matcher) MatchEtherType(a, b string) bool {
	na, ok := m.etherType(a, CodeEtherTypeHexA, CodeEtherTypeDecA)
	if !ok {
		return false
	}
	nb, ok := m.etherType(b, CodeEtherTypeHexB, CodeEtherTypeDecB)
	if !ok {
		return false
	}
	return na == nb
}

func (m *Matcher) etherType(v, hexCode, decCode string) (int, bool) {
	n, err := ParseEtherType(v)
	if err != nil {
		code := decCode
		if len(v) >= 2 && (v[:2] == "0x" || v[:2] == "0X") {
			code = hexCode
		}
		m.fail("ethertype conversion failed", code, "value", v, "error", err)
		return 0, false
	}
	return n, true
}

// MatchIPSpace reports whether address lies in space. A version mismatch
// is a plain non-match.
func (m *Matcher) MatchIPSpace(address, space string) bool {
	sp, err := ParseSpace(space)
	if err != nil {
		m.fail("ip space parse failed", spaceCode(space, err), "space", space, "error", err)
		return false
	}
	a, err := ParseAddr(address)
	if err != nil {
		m.fail("ip address parse failed", CodeAddr, "address", address, "error", err)
		return false
	}
	return sp.Contains(a)
}

// MatchAddr is MatchIPSpace for an address that is already parsed, as it
// is when it comes straight off a decoded packet.
func (m *Matcher) MatchAddr(address netip.Addr, space string) bool {
	sp, err := ParseSpace(space)
	if err != nil {
		m.fail("ip space parse failed", spaceCode(space, err), "space", space, "error", err)
		return false
	}
	return sp.Contains(address)
}

func spaceCode(space string, err error) string {
	switch {
	case strings.Contains(space, "/"):
		return CodeSpaceCIDR
	case strings.Contains(space, "-"):
		if errors.Is(err, errRangeParts) {
			return CodeSpaceRangeParts
		}
		return CodeSpaceRange
	}
	return CodeSpaceAddr
}

func (m *Matcher) fail(msg, code string, args ...any) {
	attrs := make([]slog.Attr, 0, 1+len(args)/2)
	attrs = append(attrs, logging.Code(code))
	for i := 0; i+1 < len(args); i += 2 {
		key, _ := args[i].(string)
		attrs = append(attrs, slog.Any(key, args[i+1]))
	}
	m.log.LogAttrs(context.Background(), logging.LevelError, msg, attrs...)
}
