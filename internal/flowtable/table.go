// Package flowtable is the flow correlation table: it maps each packet to
// the flow record it belongs to, in either direction, creates records for
// new flows and ages out idle ones.
//
// Lookup is a linear scan in insertion order, as first match wins. A
// hashed index keyed on the unordered endpoint pair would make lookup
// O(1) but is not needed at the flow counts a controller sees.
package flowtable

import (
	"container/list"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"grimm.is/flowmeta/internal/clock"
	"grimm.is/flowmeta/internal/identity"
	"grimm.is/flowmeta/internal/logging"
	"grimm.is/flowmeta/internal/packet"
)

// ErrUnknownReference is returned by Touch for a reference that is not
// (or no longer) in the table.
var ErrUnknownReference = errors.New("unknown flow reference")

// Config wires a Table's collaborators. All fields are optional.
type Config struct {
	Clock clock.Clock
	// Identities, when set, annotates new records with what is known
	// about their endpoints.
	Identities identity.Lookup
	Logger     *logging.Logger
}

// Table is safe for concurrent use. Every operation holds the table lock
// for its own duration only; the lock is never held across calls.
type Table struct {
	mu    sync.RWMutex
	order *list.List // *Record, oldest first
	byRef map[Reference]*list.Element
	next  Reference

	clock  clock.Clock
	ids    identity.Lookup
	logger *logging.Logger
}

// New creates an empty table.
func New(cfg Config) *Table {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Table{
		order:  list.New(),
		byRef:  make(map[Reference]*list.Element),
		next:   1,
		clock:  clock.OrReal(cfg.Clock),
		ids:    cfg.Identities,
		logger: logger.WithComponent("flowtable"),
	}
}

// Find returns the reference of the record pkt belongs to.
func (t *Table) Find(pkt *packet.View) (Reference, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.find(pkt)
}

func (t *Table) find(pkt *packet.View) (Reference, bool) {
	if pkt.Malformed() {
		t.logger.Warn("packet has neither ip nor ethernet layer, cannot correlate")
		return 0, false
	}

	for e := t.order.Front(); e != nil; e = e.Next() {
		rec := e.Value.(*Record)
		if pkt.IP != nil {
			if rec.Key.L34 != nil && rec.Key.L34.matches(pkt.IP, pkt.Transport) {
				return rec.Ref, true
			}
			continue
		}
		if rec.Key.L2 != nil && rec.Key.L2.matches(pkt.Eth) {
			return rec.Ref, true
		}
	}
	return 0, false
}

// Insert creates a record for pkt and returns its reference. A malformed
// packet gets no record and ok is false.
func (t *Table) Insert(pkt *packet.View, actions *Actions) (Reference, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.insert(pkt, actions)
}

func (t *Table) insert(pkt *packet.View, actions *Actions) (Reference, bool) {
	key, ok := keyFor(pkt)
	if !ok {
		t.logger.Warn("not recording flow for packet with neither ip nor ethernet layer")
		return 0, false
	}

	now := t.clock.Now()
	rec := &Record{
		Ref:                 t.next,
		Key:                 key,
		TimeFirst:           now,
		TimeLast:            now,
		PacketsToController: 1,
		Actions:             actions.Clone(),
	}
	if t.ids != nil && key.L34 != nil {
		for _, a := range []netip.Addr{key.L34.IPA, key.L34.IPB} {
			if id, found := t.ids.LookupIP(a); found {
				if rec.Identities == nil {
					rec.Identities = make(map[netip.Addr]identity.Identity, 2)
				}
				rec.Identities[a] = id
			}
		}
	}

	t.byRef[rec.Ref] = t.order.PushBack(rec)
	t.next++

	t.logger.Debug("flow added", "ref", rec.Ref, "packet", pkt.String())
	return rec.Ref, true
}

// Touch records another packet on an existing flow. Non-nil actions
// replace the stored ones.
func (t *Table) Touch(ref Reference, actions *Actions) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.touch(ref, actions)
}

func (t *Table) touch(ref Reference, actions *Actions) error {
	e, ok := t.byRef[ref]
	if !ok {
		t.logger.Warn("touch on unknown flow", "ref", ref)
		return fmt.Errorf("touch %d: %w", ref, ErrUnknownReference)
	}
	rec := e.Value.(*Record)

	// TimeLast never goes backwards, even if the wall clock does
	if now := t.clock.Now(); now.After(rec.TimeLast) {
		rec.TimeLast = now
	}
	rec.PacketsToController++
	if actions != nil {
		rec.Actions = actions.Clone()
	}
	return nil
}

// Correlate finds pkt's flow and touches it, or inserts a new record on
// a miss, under a single write lock so two packets of a new flow can't
// both miss and create duplicates. ok is false only for malformed
// packets.
func (t *Table) Correlate(pkt *packet.View, actions *Actions) (ref Reference, hit bool, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if r, found := t.find(pkt); found {
		// r came from the live index, touch can't fail
		_ = t.touch(r, actions)
		return r, true, true
	}
	ref, ok = t.insert(pkt, actions)
	return ref, false, ok
}

// Evict removes every record idle for longer than maxAge and returns the
// removed records, oldest first.
func (t *Table) Evict(maxAge time.Duration) []Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()

	var victims []*list.Element
	for e := t.order.Front(); e != nil; e = e.Next() {
		if now.Sub(e.Value.(*Record).TimeLast) > maxAge {
			victims = append(victims, e)
		}
	}

	out := make([]Record, 0, len(victims))
	for _, e := range victims {
		rec := t.order.Remove(e).(*Record)
		delete(t.byRef, rec.Ref)
		out = append(out, *rec)
		t.logger.Debug("flow evicted", "ref", rec.Ref, "idle", now.Sub(rec.TimeLast))
	}
	return out
}

// Get returns a copy of one record.
func (t *Table) Get(ref Reference) (Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.byRef[ref]
	if !ok {
		return Record{}, false
	}
	return e.Value.(*Record).clone(), true
}

// Snapshot returns a consistent copy of the whole table.
func (t *Table) Snapshot() map[Reference]Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[Reference]Record, len(t.byRef))
	for e := t.order.Front(); e != nil; e = e.Next() {
		rec := e.Value.(*Record)
		out[rec.Ref] = rec.clone()
	}
	return out
}

// Records returns a copy of the table in insertion order.
func (t *Table) Records() []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Record, 0, len(t.byRef))
	for e := t.order.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(*Record).clone())
	}
	return out
}

// Size returns the number of live records.
func (t *Table) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byRef)
}

// NextReference is the reference the next new flow will get.
func (t *Table) NextReference() Reference {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.next
}
