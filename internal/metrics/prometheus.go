// Package metrics exposes flowmeta's Prometheus metrics.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Packet results for PacketsTotal.
const (
	ResultHit       = "hit"
	ResultMiss      = "miss"
	ResultMalformed = "malformed"
)

const namespace = "flowmeta"

var (
	once     sync.Once
	registry *Registry
)

// Registry holds all flowmeta metrics.
type Registry struct {
	// Flow table
	FlowsActive   prometheus.Gauge
	FlowsCreated  prometheus.Counter
	FlowsEvicted  prometheus.Counter
	PacketsTotal  *prometheus.CounterVec
	SweepDuration prometheus.Histogram

	// Classification and queueing
	PolicyMatches  *prometheus.CounterVec
	QueueDecisions *prometheus.CounterVec

	// Identity
	IdentitiesKnown   prometheus.Gauge
	IdentitiesLearned *prometheus.CounterVec

	// Capture and archive
	CaptureCounters *prometheus.GaugeVec
	ArchiveWrites   *prometheus.CounterVec

	// Process
	Uptime      prometheus.Gauge
	APIRequests *prometheus.CounterVec
	APILatency  *prometheus.HistogramVec
}

// Get returns the process-wide registry backed by the default
// Prometheus registerer, creating it on first use.
func Get() *Registry {
	once.Do(func() {
		registry = NewRegistry(prometheus.DefaultRegisterer)
	})
	return registry
}

// NewRegistry registers a fresh metric set with reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	f := promauto.With(reg)
	r := &Registry{}

	r.FlowsActive = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "flows_active",
		Help:      "Flow records currently in the table",
	})

	r.FlowsCreated = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "flows_created_total",
		Help:      "Flow records inserted",
	})

	r.FlowsEvicted = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "flows_evicted_total",
		Help:      "Flow records removed by the aging sweep",
	})

	r.PacketsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "packets_total",
		Help:      "Packets correlated, by result",
	}, []string{"result"})

	r.SweepDuration = f.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "sweep_duration_seconds",
		Help:      "Time spent in each aging sweep",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
	})

	r.PolicyMatches = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "policy_matches_total",
		Help:      "Packets matched by each classification rule",
	}, []string{"rule"})

	r.QueueDecisions = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "queue_decisions_total",
		Help:      "Output queue chosen per packet",
	}, []string{"queue"})

	r.IdentitiesKnown = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "identities_known",
		Help:      "Addresses with a known identity",
	})

	r.IdentitiesLearned = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "identities_learned_total",
		Help:      "Identity updates, by source",
	}, []string{"source"})

	r.CaptureCounters = f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "capture_counter",
		Help:      "Counters reported by the capture source",
	}, []string{"source", "counter"})

	r.ArchiveWrites = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "archive_writes_total",
		Help:      "Evicted records written to the archive",
	}, []string{"status"})

	r.Uptime = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "uptime_seconds",
		Help:      "Seconds since the daemon started",
	})

	r.APIRequests = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "api_requests_total",
		Help:      "Total API requests",
	}, []string{"method", "path", "status"})

	r.APILatency = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "api_request_duration_seconds",
		Help:      "API request latency",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	return r
}

// RecordPacket counts one correlated packet. A miss also counts a new flow.
func (r *Registry) RecordPacket(result string) {
	r.PacketsTotal.WithLabelValues(result).Inc()
	if result == ResultMiss {
		r.FlowsCreated.Inc()
	}
}

// RecordClassification counts a rule match and the queue it led to.
func (r *Registry) RecordClassification(rule string, queue int) {
	if rule != "" {
		r.PolicyMatches.WithLabelValues(rule).Inc()
	}
	r.QueueDecisions.WithLabelValues(strconv.Itoa(queue)).Inc()
}

// RecordSweep records one aging sweep.
func (r *Registry) RecordSweep(evicted, remaining int, took time.Duration) {
	r.FlowsEvicted.Add(float64(evicted))
	r.FlowsActive.Set(float64(remaining))
	r.SweepDuration.Observe(took.Seconds())
}

// RecordArchiveWrite counts archived records, or a failed batch.
func (r *Registry) RecordArchiveWrite(n int, err error) {
	if err != nil {
		r.ArchiveWrites.WithLabelValues("error").Inc()
		return
	}
	r.ArchiveWrites.WithLabelValues("ok").Add(float64(n))
}

// RecordAPIRequest records an API request.
func (r *Registry) RecordAPIRequest(method, path string, status int, duration float64) {
	r.APIRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	r.APILatency.WithLabelValues(method, path).Observe(duration)
}
