package identity

import (
	"grimm.is/flowmeta/internal/logging"
	"grimm.is/flowmeta/internal/packet"
)

// LLDPHarvester names neighbours from their LLDP system name. The name is
// recorded against the advertised management address and against every
// address already bound to the chassis MAC.
type LLDPHarvester struct {
	store  *Store
	logger *logging.Logger
}

// NewLLDPHarvester feeds store.
func NewLLDPHarvester(store *Store, logger *logging.Logger) *LLDPHarvester {
	if logger == nil {
		logger = logging.Default()
	}
	return &LLDPHarvester{store: store, logger: logger.WithComponent("lldp-harvester")}
}

// Observe inspects one packet.
func (h *LLDPHarvester) Observe(v *packet.View) {
	if v == nil || v.LLDP == nil {
		return
	}
	l := v.LLDP

	mac := ""
	switch {
	case len(l.ChassisMAC) > 0:
		mac = l.ChassisMAC.String()
	case v.Eth != nil && len(v.Eth.Src) > 0:
		mac = v.Eth.Src.String()
	}

	if l.MgmtAddr.IsValid() && !l.MgmtAddr.IsUnspecified() {
		h.store.Set(l.MgmtAddr, Identity{MAC: mac, Hostname: l.SysName, Source: SourceLLDP})
	}
	if l.SysName == "" {
		return
	}
	for _, addr := range h.store.AddrsByMAC(mac) {
		if addr == l.MgmtAddr.Unmap() {
			continue
		}
		h.store.Set(addr, Identity{Hostname: l.SysName, Source: SourceLLDP})
	}
	h.logger.Debug("lldp neighbour observed", "mac", mac, "sysname", l.SysName, "mgmt", l.MgmtAddr)
}
