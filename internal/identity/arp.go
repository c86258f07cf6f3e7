package identity

import (
	"grimm.is/flowmeta/internal/logging"
	"grimm.is/flowmeta/internal/packet"
)

// ARPHarvester binds IPv4 addresses to MACs from ARP replies and
// gratuitous announcements. Ordinary requests are skipped, as are
// requests from an unconfigured (0.0.0.0) sender.
type ARPHarvester struct {
	store  *Store
	logger *logging.Logger
}

// NewARPHarvester feeds store.
func NewARPHarvester(store *Store, logger *logging.Logger) *ARPHarvester {
	if logger == nil {
		logger = logging.Default()
	}
	return &ARPHarvester{store: store, logger: logger.WithComponent("arp-harvester")}
}

// Observe inspects one packet.
func (h *ARPHarvester) Observe(v *packet.View) {
	if v == nil || v.ARP == nil {
		return
	}
	a := v.ARP
	if a.Operation != packet.ARPReply && !a.Gratuitous() {
		return
	}
	if !a.SenderIP.IsValid() || a.SenderIP.IsUnspecified() || len(a.SenderMAC) == 0 {
		return
	}

	mac := a.SenderMAC.String()
	h.store.Set(a.SenderIP, Identity{MAC: mac, Source: SourceARP})
	h.logger.Debug("arp binding observed", "addr", a.SenderIP, "mac", mac, "gratuitous", a.Gratuitous())
}
