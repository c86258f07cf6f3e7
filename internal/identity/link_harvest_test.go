package identity

import (
	"net/netip"
	"testing"

	"grimm.is/flowmeta/internal/packet"
	"grimm.is/flowmeta/internal/testutil"
)

const switchMAC = "00:13:21:57:ca:40"

func arpView(op uint16, senderMAC, senderIP, targetIP string) *packet.View {
	v := testutil.L2(senderMAC, "ff:ff:ff:ff:ff:ff", packet.EtherTypeARP)
	a := &packet.ARP{Operation: op, SenderMAC: testutil.MAC(senderMAC)}
	if senderIP != "" {
		a.SenderIP = netip.MustParseAddr(senderIP)
	}
	if targetIP != "" {
		a.TargetIP = netip.MustParseAddr(targetIP)
	}
	v.ARP = a
	return v
}

func TestARPHarvester(t *testing.T) {
	tests := []struct {
		name    string
		view    *packet.View
		addr    string
		wantMAC string // empty means no binding expected
	}{
		{
			name:    "reply",
			view:    arpView(packet.ARPReply, clientMAC, "192.168.1.50", "192.168.1.1"),
			addr:    "192.168.1.50",
			wantMAC: clientMAC,
		},
		{
			name:    "gratuitous request",
			view:    arpView(packet.ARPRequest, clientMAC, "192.168.1.60", "192.168.1.60"),
			addr:    "192.168.1.60",
			wantMAC: clientMAC,
		},
		{
			name: "ordinary request",
			view: arpView(packet.ARPRequest, clientMAC, "192.168.1.50", "192.168.1.1"),
			addr: "192.168.1.50",
		},
		{
			name: "unconfigured sender",
			view: arpView(packet.ARPRequest, clientMAC, "0.0.0.0", "192.168.1.70"),
			addr: "192.168.1.70",
		},
		{
			name: "not arp",
			view: testutil.UDP(clientMAC, serverMAC, "192.168.1.50", "192.168.1.1", 1000, 53),
			addr: "192.168.1.50",
		},
		{
			name: "nil view",
			addr: "192.168.1.50",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestStore(t)
			NewARPHarvester(s, nil).Observe(tt.view)

			id, ok := s.LookupIP(netip.MustParseAddr(tt.addr))
			if tt.wantMAC == "" {
				if ok || s.Len() != 0 {
					t.Fatalf("unexpected binding %+v (store has %d entries)", id, s.Len())
				}
				return
			}
			if !ok {
				t.Fatalf("no binding for %s", tt.addr)
			}
			if id.MAC != tt.wantMAC {
				t.Errorf("MAC = %q, want %q", id.MAC, tt.wantMAC)
			}
			if id.Source != SourceARP {
				t.Errorf("Source = %q, want %q", id.Source, SourceARP)
			}
		})
	}
}

func lldpView(srcMAC string, l *packet.LLDP) *packet.View {
	v := testutil.L2(srcMAC, "01:80:c2:00:00:0e", packet.EtherTypeLLDP)
	v.LLDP = l
	return v
}

func TestLLDPHarvester(t *testing.T) {
	mgmt := netip.MustParseAddr("192.168.1.2")
	known := netip.MustParseAddr("192.168.1.3")
	other := netip.MustParseAddr("192.168.1.50")

	type want struct {
		addr     netip.Addr
		mac      string
		hostname string
	}
	tests := []struct {
		name  string
		view  *packet.View
		wants []want
		size  int
	}{
		{
			name: "management address and known chassis binding",
			view: lldpView("00:13:21:57:ca:41", &packet.LLDP{
				ChassisMAC: testutil.MAC(switchMAC),
				SysName:    "core-sw1",
				MgmtAddr:   mgmt,
			}),
			wants: []want{
				{mgmt, switchMAC, "core-sw1"},
				{known, switchMAC, "core-sw1"},
				{other, clientMAC, ""},
			},
			size: 3,
		},
		{
			name: "falls back to the frame source mac",
			view: lldpView(switchMAC, &packet.LLDP{SysName: "core-sw1"}),
			wants: []want{
				{known, switchMAC, "core-sw1"},
				{other, clientMAC, ""},
			},
			size: 2,
		},
		{
			name: "no system name leaves bindings alone",
			view: lldpView(switchMAC, &packet.LLDP{ChassisMAC: testutil.MAC(switchMAC)}),
			wants: []want{
				{known, switchMAC, ""},
			},
			size: 2,
		},
		{
			name:  "not lldp",
			view:  testutil.L2(switchMAC, serverMAC, packet.EtherTypeLLDP),
			wants: []want{{known, switchMAC, ""}},
			size:  2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestStore(t)
			s.Set(known, Identity{MAC: switchMAC, Source: SourceARP})
			s.Set(other, Identity{MAC: clientMAC, Source: SourceARP})

			NewLLDPHarvester(s, nil).Observe(tt.view)

			if s.Len() != tt.size {
				t.Errorf("store has %d entries, want %d", s.Len(), tt.size)
			}
			for _, w := range tt.wants {
				id, ok := s.LookupIP(w.addr)
				if !ok {
					t.Errorf("no binding for %s", w.addr)
					continue
				}
				if id.MAC != w.mac {
					t.Errorf("%s: MAC = %q, want %q", w.addr, id.MAC, w.mac)
				}
				if id.Hostname != w.hostname {
					t.Errorf("%s: Hostname = %q, want %q", w.addr, id.Hostname, w.hostname)
				}
				if w.hostname != "" && id.Source != SourceLLDP {
					t.Errorf("%s: Source = %q, want %q", w.addr, id.Source, SourceLLDP)
				}
			}
		})
	}
}

func TestStoreAddrsByMAC(t *testing.T) {
	s, _ := newTestStore(t)
	s.Set(netip.MustParseAddr("10.0.0.9"), Identity{MAC: switchMAC})
	s.Set(netip.MustParseAddr("10.0.0.2"), Identity{MAC: "00:13:21:57:CA:40"})
	s.Set(netip.MustParseAddr("10.0.0.5"), Identity{MAC: clientMAC})
	s.Set(netip.MustParseAddr("10.0.0.6"), Identity{Hostname: "nomac"})

	got := s.AddrsByMAC(switchMAC)
	want := []netip.Addr{netip.MustParseAddr("10.0.0.2"), netip.MustParseAddr("10.0.0.9")}
	if len(got) != len(want) {
		t.Fatalf("AddrsByMAC() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("AddrsByMAC()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if got := s.AddrsByMAC(""); got != nil {
		t.Errorf("AddrsByMAC(\"\") = %v, want nil", got)
	}
}
