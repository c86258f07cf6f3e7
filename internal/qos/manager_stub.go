//go:build !linux

package qos

import (
	"errors"

	"grimm.is/flowmeta/internal/logging"
)

// Manager is a stub for non-Linux systems.
type Manager struct{}

// NewManager creates a stub manager.
func NewManager(logger *logging.Logger) *Manager {
	return &Manager{}
}

// Apply fails when there is something to shape; traffic control is
// Linux-only.
func (m *Manager) Apply(cfg Config) error {
	if cfg.Interface == "" {
		return nil
	}
	return errors.New("qos shaping is only supported on Linux")
}

// Clear is a no-op.
func (m *Manager) Clear(iface string) error {
	return nil
}
