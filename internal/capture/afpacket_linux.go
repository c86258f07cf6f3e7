//go:build linux

package capture

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/mdlayher/packet"
	"golang.org/x/sys/unix"

	"grimm.is/flowmeta/internal/clock"
	"grimm.is/flowmeta/internal/logging"
	pkt "grimm.is/flowmeta/internal/packet"
)

// AFPacket sniffs every frame on an interface with a raw packet socket.
// It is passive: marks returned by the handler are ignored.
type AFPacket struct {
	iface  string
	clock  clock.Clock
	logger *logging.Logger
	stats  counters
}

// NewAFPacket creates a sniffer for iface.
func NewAFPacket(iface string, clk clock.Clock, logger *logging.Logger) *AFPacket {
	if logger == nil {
		logger = logging.Default()
	}
	return &AFPacket{iface: iface, clock: clock.OrReal(clk), logger: logger}
}

func (a *AFPacket) Name() string { return "afpacket" }

// Stats returns the source's counters.
func (a *AFPacket) Stats() map[string]uint64 { return a.stats.snapshot() }

// Run reads frames until ctx is cancelled.
func (a *AFPacket) Run(ctx context.Context, h Handler) error {
	ifi, err := net.InterfaceByName(a.iface)
	if err != nil {
		return fmt.Errorf("interface %s not found: %w", a.iface, err)
	}

	conn, err := packet.Listen(ifi, packet.Raw, unix.ETH_P_ALL, nil)
	if err != nil {
		return fmt.Errorf("failed to open packet socket on %s: %w", a.iface, err)
	}
	defer conn.Close()

	a.logger.Info("sniffing interface", "interface", a.iface)

	size := ifi.MTU + 64
	if ifi.MTU <= 0 {
		size = 65536
	}
	buf := make([]byte, size)
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		conn.SetReadDeadline(time.Now().Add(time.Second))
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			a.stats.inc(StatReadErrors)
			return fmt.Errorf("read from %s: %w", a.iface, err)
		}
		a.stats.inc(StatReceived)

		v, err := pkt.Decode(buf[:n], a.clock.Now())
		if err != nil {
			a.stats.inc(StatDecodeErrors)
			continue
		}
		h(v)
	}
}
