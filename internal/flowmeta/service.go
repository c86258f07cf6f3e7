// Package flowmeta ties the flow table to its collaborators: packets are
// correlated into flow records, the queueing policy picks an output
// queue, and the aging sweep hands evicted records to the archive.
package flowmeta

import (
	"context"
	"time"

	"grimm.is/flowmeta/internal/clock"
	"grimm.is/flowmeta/internal/flowtable"
	"grimm.is/flowmeta/internal/logging"
	"grimm.is/flowmeta/internal/metrics"
	"grimm.is/flowmeta/internal/packet"
)

// Queuer picks an output queue for a classification.
type Queuer interface {
	DecideQueue(classification map[string]string) int
}

// Sink receives records removed by the aging sweep.
type Sink interface {
	WriteEvicted(ctx context.Context, recs []flowtable.Record) error
}

// Config wires a Service. Table is required; the rest are optional.
type Config struct {
	Table   *flowtable.Table
	Queuer  Queuer
	Archive Sink
	Metrics *metrics.Registry
	Clock   clock.Clock
	Logger  *logging.Logger
}

// Service is the flow metadata front door used by the capture pipeline.
type Service struct {
	table   *flowtable.Table
	queuer  Queuer
	archive Sink
	metrics *metrics.Registry
	clock   clock.Clock
	logger  *logging.Logger
}

// New creates a Service.
func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		table:   cfg.Table,
		queuer:  cfg.Queuer,
		archive: cfg.Archive,
		metrics: cfg.Metrics,
		clock:   clock.OrReal(cfg.Clock),
		logger:  logger.WithComponent("flowmeta"),
	}
}

// Process records pkt against its flow and returns actions with the
// output queue filled in. The classification itself comes from the
// caller; a nil actions means the packet is unclassified.
func (s *Service) Process(pkt *packet.View, actions *flowtable.Actions) flowtable.Actions {
	var out flowtable.Actions
	if actions != nil {
		out = *actions.Clone()
	}
	if s.queuer != nil {
		out.OutQueue = s.queuer.DecideQueue(out.Classification)
	}

	// The record keeps the queue too, so listings and the archive show it.
	var stored *flowtable.Actions
	if actions != nil {
		stored = out.Clone()
	}
	_, hit, ok := s.table.Correlate(pkt, stored)

	if s.metrics != nil {
		switch {
		case !ok:
			s.metrics.RecordPacket(metrics.ResultMalformed)
		case hit:
			s.metrics.RecordPacket(metrics.ResultHit)
		default:
			s.metrics.RecordPacket(metrics.ResultMiss)
		}
		s.metrics.RecordClassification(out.Rule, out.OutQueue)
	}
	return out
}

// Sweep evicts records idle for longer than maxAge and archives them.
// Archive failures are logged; the evicted records are returned either
// way.
func (s *Service) Sweep(ctx context.Context, maxAge time.Duration) []flowtable.Record {
	start := s.clock.Now()
	victims := s.table.Evict(maxAge)
	took := s.clock.Since(start)

	if s.metrics != nil {
		s.metrics.RecordSweep(len(victims), s.table.Size(), took)
	}
	if len(victims) > 0 {
		s.logger.Debug("sweep evicted flows", "count", len(victims), "remaining", s.table.Size())
	}

	if s.archive != nil && len(victims) > 0 {
		err := s.archive.WriteEvicted(ctx, victims)
		if err != nil {
			s.logger.Warn("failed to archive evicted flows", "count", len(victims), "error", err)
		}
		if s.metrics != nil {
			s.metrics.RecordArchiveWrite(len(victims), err)
		}
	}
	return victims
}

// Snapshot returns a copy of every live record.
func (s *Service) Snapshot() map[flowtable.Reference]flowtable.Record {
	return s.table.Snapshot()
}

// Records returns every live record in insertion order.
func (s *Service) Records() []flowtable.Record {
	return s.table.Records()
}

// Get returns one live record.
func (s *Service) Get(ref flowtable.Reference) (flowtable.Record, bool) {
	return s.table.Get(ref)
}

// Size returns the number of live records.
func (s *Service) Size() int {
	return s.table.Size()
}
