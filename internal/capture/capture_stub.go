//go:build !linux

package capture

import (
	"context"

	"grimm.is/flowmeta/internal/clock"
	"grimm.is/flowmeta/internal/logging"
)

// unsupported stands in for the netfilter and raw socket sources.
type unsupported struct{ name string }

func (u *unsupported) Name() string { return u.name }

func (u *unsupported) Stats() map[string]uint64 { return nil }

func (u *unsupported) Run(ctx context.Context, h Handler) error { return ErrUnsupported }

// NewNFQueue is only available on Linux.
func NewNFQueue(queue uint16, clk clock.Clock, logger *logging.Logger) Source {
	return &unsupported{name: "nfqueue"}
}

// NewNFLog is only available on Linux.
func NewNFLog(group uint16, clk clock.Clock, logger *logging.Logger) Source {
	return &unsupported{name: "nflog"}
}

// NewAFPacket is only available on Linux.
func NewAFPacket(iface string, clk clock.Clock, logger *logging.Logger) Source {
	return &unsupported{name: "afpacket"}
}
