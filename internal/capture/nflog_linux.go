//go:build linux

package capture

import (
	"context"
	"fmt"
	"time"

	"github.com/florianl/go-nflog/v2"

	"grimm.is/flowmeta/internal/clock"
	"grimm.is/flowmeta/internal/logging"
	"grimm.is/flowmeta/internal/packet"
)

// NFLog receives copies of packets logged to a netfilter log group. It is
// passive: marks returned by the handler are ignored.
type NFLog struct {
	group  uint16
	clock  clock.Clock
	logger *logging.Logger
	stats  counters
}

// NewNFLog creates a source for nflog group.
func NewNFLog(group uint16, clk clock.Clock, logger *logging.Logger) *NFLog {
	if logger == nil {
		logger = logging.Default()
	}
	return &NFLog{group: group, clock: clock.OrReal(clk), logger: logger}
}

func (l *NFLog) Name() string { return "nflog" }

// Stats returns the source's counters.
func (l *NFLog) Stats() map[string]uint64 { return l.stats.snapshot() }

// Run listens until ctx is cancelled.
func (l *NFLog) Run(ctx context.Context, h Handler) error {
	nf, err := nflog.Open(&nflog.Config{
		Group:       l.group,
		Copymode:    nflog.CopyPacket,
		ReadTimeout: 10 * time.Millisecond,
	})
	if err != nil {
		return fmt.Errorf("failed to open nflog: %w", err)
	}
	defer nf.Close()

	err = nf.RegisterWithErrorFunc(ctx,
		func(attrs nflog.Attribute) int {
			l.handle(attrs, h)
			return 0
		},
		func(err error) int {
			if ctx.Err() == nil {
				l.logger.Warn("nflog receive error", "error", err)
			}
			return 0
		},
	)
	if err != nil {
		return fmt.Errorf("failed to register nflog callback: %w", err)
	}

	l.logger.Info("listening on nflog", "group", l.group)
	<-ctx.Done()
	return nil
}

func (l *NFLog) handle(attrs nflog.Attribute, h Handler) {
	l.stats.inc(StatReceived)
	if attrs.Payload == nil {
		l.stats.inc(StatDecodeErrors)
		return
	}
	ts := l.clock.Now()
	if attrs.Timestamp != nil {
		ts = *attrs.Timestamp
	}
	var hw []byte
	if attrs.HwAddr != nil {
		hw = *attrs.HwAddr
	}
	v, err := packet.DecodeL3(*attrs.Payload, hw, ts)
	if err != nil {
		l.stats.inc(StatDecodeErrors)
		return
	}
	h(v)
}
