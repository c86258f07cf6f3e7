//go:build linux

package capture

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/florianl/go-nfqueue/v2"

	"grimm.is/flowmeta/internal/clock"
	"grimm.is/flowmeta/internal/logging"
	"grimm.is/flowmeta/internal/packet"
)

// NFQueue reads packets inline from a netfilter queue. Every packet is
// accepted; the handler's mark, when non-zero, is set on the packet so
// the egress fw filters can steer it into its queue.
type NFQueue struct {
	queue   uint16
	clock   clock.Clock
	logger  *logging.Logger
	stats   counters
	running atomic.Bool
}

// NewNFQueue creates a source for netfilter queue num queue.
func NewNFQueue(queue uint16, clk clock.Clock, logger *logging.Logger) *NFQueue {
	if logger == nil {
		logger = logging.Default()
	}
	return &NFQueue{queue: queue, clock: clock.OrReal(clk), logger: logger}
}

func (q *NFQueue) Name() string { return "nfqueue" }

// Stats returns the source's counters.
func (q *NFQueue) Stats() map[string]uint64 { return q.stats.snapshot() }

// Run listens until ctx is cancelled.
func (q *NFQueue) Run(ctx context.Context, h Handler) error {
	nf, err := nfqueue.Open(&nfqueue.Config{
		NfQueue:      q.queue,
		MaxPacketLen: 0xFFFF,
		MaxQueueLen:  1024,
		Copymode:     nfqueue.NfQnlCopyPacket,
	})
	if err != nil {
		return fmt.Errorf("failed to open nfqueue: %w", err)
	}
	defer nf.Close()

	q.running.Store(true)
	defer q.running.Store(false)

	err = nf.RegisterWithErrorFunc(ctx,
		func(attrs nfqueue.Attribute) int {
			q.handle(nf, attrs, h)
			return 0
		},
		func(err error) int {
			if q.running.Load() && ctx.Err() == nil {
				q.logger.Warn("nfqueue receive error", "error", err)
			}
			return 0
		},
	)
	if err != nil {
		return fmt.Errorf("failed to register nfqueue callback: %w", err)
	}

	q.logger.Info("listening on nfqueue", "queue", q.queue)
	<-ctx.Done()
	return nil
}

func (q *NFQueue) handle(nf *nfqueue.Nfqueue, attrs nfqueue.Attribute, h Handler) {
	if attrs.PacketID == nil {
		return
	}
	id := *attrs.PacketID
	q.stats.inc(StatReceived)

	var mark uint32
	if attrs.Payload != nil {
		ts := q.clock.Now()
		if attrs.Timestamp != nil {
			ts = *attrs.Timestamp
		}
		var hw []byte
		if attrs.HwAddr != nil {
			hw = *attrs.HwAddr
		}
		v, err := packet.DecodeL3(*attrs.Payload, hw, ts)
		if err != nil {
			q.stats.inc(StatDecodeErrors)
		} else {
			mark = h(v)
		}
	}

	var err error
	if mark != 0 {
		q.stats.inc(StatMarked)
		err = nf.SetVerdictWithMark(id, nfqueue.NfAccept, int(mark))
	} else {
		err = nf.SetVerdict(id, nfqueue.NfAccept)
	}
	if err != nil {
		q.stats.inc(StatVerdictErrs)
		q.logger.Warn("failed to set verdict", "packet_id", id, "error", err)
	}
}
