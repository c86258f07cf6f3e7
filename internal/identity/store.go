// Package identity keeps what is known about the hosts behind IP
// addresses: MAC, hostname and where that knowledge came from. The flow
// table copies these annotations onto new flows; the harvesters in this
// package keep the store fed from DHCP, DNS, ARP and LLDP traffic.
package identity

import (
	"net/netip"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"grimm.is/flowmeta/internal/clock"
	"grimm.is/flowmeta/internal/logging"
)

// Where an identity was learned.
const (
	SourceConfig = "config"
	SourceDHCP   = "dhcp"
	SourceDNS    = "dns"
	SourceARP    = "arp"
	SourceLLDP   = "lldp"
)

// Identity is what we know about one address.
type Identity struct {
	MAC      string    `json:"mac,omitempty"`
	Hostname string    `json:"hostname,omitempty"`
	Source   string    `json:"source"`
	Updated  time.Time `json:"updated"`
}

// Lookup is the read side the flow table depends on.
type Lookup interface {
	LookupIP(addr netip.Addr) (Identity, bool)
}

// Entry pairs an address with its identity, for listing.
type Entry struct {
	Addr netip.Addr `json:"addr"`
	Identity
}

// Store is an in-memory, concurrency-safe identity map.
type Store struct {
	mu      sync.RWMutex
	entries map[netip.Addr]Identity
	clock   clock.Clock
	logger  *logging.Logger
	notify  atomic.Pointer[func(netip.Addr, Identity)]
}

// NewStore creates an empty store. A nil clock means the system clock.
func NewStore(c clock.Clock, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{
		entries: make(map[netip.Addr]Identity),
		clock:   clock.OrReal(c),
		logger:  logger.WithComponent("identity"),
	}
}

// Set records id for addr. Empty fields in id don't erase what is already
// known, so a DNS answer naming a host keeps the MAC DHCP taught us.
func (s *Store) Set(addr netip.Addr, id Identity) {
	if !addr.IsValid() {
		return
	}
	addr = addr.Unmap()

	s.mu.Lock()
	cur, exists := s.entries[addr]
	if id.MAC != "" {
		cur.MAC = id.MAC
	}
	if id.Hostname != "" {
		cur.Hostname = id.Hostname
	}
	if id.Source != "" {
		cur.Source = id.Source
	}
	cur.Updated = s.clock.Now()
	s.entries[addr] = cur
	s.mu.Unlock()

	if !exists {
		s.logger.Debug("learned identity", "addr", addr, "mac", cur.MAC, "hostname", cur.Hostname, "source", cur.Source)
	}
	if fn := s.notify.Load(); fn != nil {
		(*fn)(addr, cur)
	}
}

// OnUpdate registers fn to run after every Set, outside the store lock.
// A later call replaces the earlier hook.
func (s *Store) OnUpdate(fn func(addr netip.Addr, id Identity)) {
	s.notify.Store(&fn)
}

// Delete forgets addr.
func (s *Store) Delete(addr netip.Addr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, addr.Unmap())
}

// LookupIP implements Lookup.
func (s *Store) LookupIP(addr netip.Addr) (Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.entries[addr.Unmap()]
	return id, ok
}

// AddrsByMAC returns every address bound to mac, ordered.
func (s *Store) AddrsByMAC(mac string) []netip.Addr {
	if mac == "" {
		return nil
	}
	s.mu.RLock()
	var out []netip.Addr
	for a, id := range s.entries {
		if strings.EqualFold(id.MAC, mac) {
			out = append(out, a)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// Len returns the number of known addresses.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// All returns every entry, ordered by address.
func (s *Store) All() []Entry {
	s.mu.RLock()
	out := make([]Entry, 0, len(s.entries))
	for a, id := range s.entries {
		out = append(out, Entry{Addr: a, Identity: id})
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Addr.Less(out[j].Addr) })
	return out
}
