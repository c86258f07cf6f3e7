package flowtable

import (
	"encoding/json"
	"fmt"
	"maps"
	"net"
	"net/netip"
	"strconv"
	"time"

	"grimm.is/flowmeta/internal/identity"
)

// Reference identifies a flow record for the life of the process. The
// first record gets 1; references are never handed out twice, even after
// the record they named has been evicted.
type Reference uint64

func (r Reference) String() string { return strconv.FormatUint(uint64(r), 10) }

// ParseReference parses the decimal form used in URLs.
func ParseReference(s string) (Reference, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	return Reference(n), err
}

// PortPair holds transport ports in the order of the packet that created
// the record: A is that packet's source port.
type PortPair struct {
	A uint16 `json:"a"`
	B uint16 `json:"b"`
}

// L34Key identifies a flow by IP pair and, when the protocol has them,
// ports. IPA is the source of the first packet seen.
type L34Key struct {
	IPA   netip.Addr `json:"ip_a"`
	IPB   netip.Addr `json:"ip_b"`
	Proto uint8      `json:"proto"`
	Ports *PortPair  `json:"ports,omitempty"`
}

// L2Key identifies a non-IP flow by MAC pair and ethertype.
type L2Key struct {
	EthA      net.HardwareAddr `json:"eth_a"`
	EthB      net.HardwareAddr `json:"eth_b"`
	EtherType uint16           `json:"ethertype"`
}

// MarshalJSON writes the MACs in colon form rather than as raw bytes.
func (k L2Key) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		EthA      string `json:"eth_a"`
		EthB      string `json:"eth_b"`
		EtherType uint16 `json:"ethertype"`
	}{k.EthA.String(), k.EthB.String(), k.EtherType})
}

// Key is exactly one of L34 or L2.
type Key struct {
	L34 *L34Key `json:"l34,omitempty"`
	L2  *L2Key  `json:"l2,omitempty"`
}

// String renders the key for logs and listings, endpoint A first.
func (k Key) String() string {
	switch {
	case k.L34 != nil:
		l := k.L34
		if l.Ports != nil {
			return fmt.Sprintf("%s <-> %s proto %d",
				netip.AddrPortFrom(l.IPA, l.Ports.A), netip.AddrPortFrom(l.IPB, l.Ports.B), l.Proto)
		}
		return fmt.Sprintf("%s <-> %s proto %d", l.IPA, l.IPB, l.Proto)
	case k.L2 != nil:
		return fmt.Sprintf("%s <-> %s ethertype 0x%04x", k.L2.EthA, k.L2.EthB, k.L2.EtherType)
	}
	return "empty"
}

// Actions is the classification payload a caller attaches to a flow. The
// table stores it and hands it back; it never interprets it.
type Actions struct {
	// Classification holds the matched rule's actions, e.g. qos_treatment.
	Classification map[string]string `json:"classification,omitempty"`
	// Rule names the policy rule that produced Classification.
	Rule string `json:"rule,omitempty"`
	// OutQueue is filled in from the queueing policy; 0 is the default queue.
	OutQueue int `json:"out_queue"`
}

// Clone returns a deep copy.
func (a *Actions) Clone() *Actions {
	if a == nil {
		return nil
	}
	c := *a
	c.Classification = maps.Clone(a.Classification)
	return &c
}

// Record is one tracked flow.
type Record struct {
	Ref                 Reference                        `json:"ref"`
	Key                 Key                              `json:"key"`
	TimeFirst           time.Time                        `json:"time_first"`
	TimeLast            time.Time                        `json:"time_last"`
	PacketsToController uint64                           `json:"packets_to_controller"`
	Actions             *Actions                         `json:"actions,omitempty"`
	Identities          map[netip.Addr]identity.Identity `json:"identities,omitempty"`
}

// clone copies r so callers outside the lock can't reach table memory.
func (r *Record) clone() Record {
	c := *r
	if r.Key.L34 != nil {
		k := *r.Key.L34
		if k.Ports != nil {
			p := *k.Ports
			k.Ports = &p
		}
		c.Key.L34 = &k
	}
	if r.Key.L2 != nil {
		k := *r.Key.L2
		k.EthA = append(net.HardwareAddr(nil), k.EthA...)
		k.EthB = append(net.HardwareAddr(nil), k.EthB...)
		c.Key.L2 = &k
	}
	c.Actions = r.Actions.Clone()
	c.Identities = maps.Clone(r.Identities)
	return c
}

// Age is how long the record has been idle as of now.
func (r Record) Age(now time.Time) time.Duration {
	return now.Sub(r.TimeLast)
}
