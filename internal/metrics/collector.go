package metrics

import (
	"context"
	"sync"
	"time"

	"grimm.is/flowmeta/internal/clock"
	"grimm.is/flowmeta/internal/logging"
)

// Sources are the live values the collector samples. Nil fields are
// skipped.
type Sources struct {
	Flows      func() int
	Identities func() int
	// Capture returns the capture source's name and its counters.
	Capture func() (string, map[string]uint64)
}

// Collector periodically copies gauges that are cheaper to sample than to
// track on every packet.
type Collector struct {
	registry *Registry
	sources  Sources
	logger   *logging.Logger
	clock    clock.Clock
	interval time.Duration
	started  time.Time

	mu         sync.RWMutex
	lastUpdate time.Time
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewCollector creates a collector sampling src every interval.
func NewCollector(r *Registry, src Sources, interval time.Duration, clk clock.Clock, logger *logging.Logger) *Collector {
	if logger == nil {
		logger = logging.Default()
	}
	clk = clock.OrReal(clk)
	return &Collector{
		registry: r,
		sources:  src,
		logger:   logger.WithComponent("metrics"),
		clock:    clk,
		interval: interval,
		started:  clk.Now(),
	}
}

// Start samples once and then every interval until ctx ends or Stop.
func (c *Collector) Start(ctx context.Context) {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	c.mu.Unlock()

	c.Collect()
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Collect()
			}
		}
	}()
}

// Stop halts sampling and waits for the loop to exit.
func (c *Collector) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel = nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Collect samples every source once.
func (c *Collector) Collect() {
	r := c.registry
	if c.sources.Flows != nil {
		r.FlowsActive.Set(float64(c.sources.Flows()))
	}
	if c.sources.Identities != nil {
		r.IdentitiesKnown.Set(float64(c.sources.Identities()))
	}
	if c.sources.Capture != nil {
		name, counters := c.sources.Capture()
		for k, v := range counters {
			r.CaptureCounters.WithLabelValues(name, k).Set(float64(v))
		}
	}
	r.Uptime.Set(c.clock.Since(c.started).Seconds())

	c.mu.Lock()
	c.lastUpdate = c.clock.Now()
	c.mu.Unlock()
	c.logger.Debug("metrics sampled")
}

// GetLastUpdate returns when Collect last ran.
func (c *Collector) GetLastUpdate() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastUpdate
}
