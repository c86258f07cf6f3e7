// Package capture feeds packets to the pipeline from a pcap file, a
// netfilter queue or log group, or a raw socket.
package capture

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"

	"grimm.is/flowmeta/internal/clock"
	"grimm.is/flowmeta/internal/logging"
	"grimm.is/flowmeta/internal/packet"
)

// Handler processes one packet and returns the mark to set on it. Only
// inline sources apply the mark; 0 leaves the packet unmarked. The view
// and its payload are only valid until the handler returns.
type Handler func(v *packet.View) uint32

// Source delivers packets to a Handler until its context ends or its
// input is exhausted.
type Source interface {
	Name() string
	Run(ctx context.Context, h Handler) error
	Stats() map[string]uint64
}

// ErrUnsupported is returned by sources this platform can't provide.
var ErrUnsupported = errors.New("capture source not supported on this platform")

// Counter names shared by all sources.
const (
	StatReceived     = "received"
	StatDecodeErrors = "decode_errors"
	StatMarked       = "marked"
	StatVerdictErrs  = "verdict_errors"
	StatReadErrors   = "read_errors"
)

// Options selects and configures a source.
type Options struct {
	Mode      string // pcap, nfqueue, nflog or afpacket
	File      string
	Interface string
	Queue     uint16
	Group     uint16
}

// Open builds the source named by opts.Mode.
func Open(opts Options, clk clock.Clock, logger *logging.Logger) (Source, error) {
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.WithComponent("capture")
	clk = clock.OrReal(clk)

	switch opts.Mode {
	case "pcap":
		return NewPcapFile(opts.File, logger), nil
	case "nfqueue":
		return NewNFQueue(opts.Queue, clk, logger), nil
	case "nflog":
		return NewNFLog(opts.Group, clk, logger), nil
	case "afpacket":
		return NewAFPacket(opts.Interface, clk, logger), nil
	default:
		return nil, fmt.Errorf("unknown capture mode %q", opts.Mode)
	}
}

// counters is a small mutex-guarded stats map.
type counters struct {
	mu sync.Mutex
	m  map[string]uint64
}

func (c *counters) add(name string, n uint64) {
	c.mu.Lock()
	if c.m == nil {
		c.m = make(map[string]uint64)
	}
	c.m[name] += n
	c.mu.Unlock()
}

func (c *counters) inc(name string) { c.add(name, 1) }

func (c *counters) snapshot() map[string]uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.m)
}
