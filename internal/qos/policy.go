// Package qos turns a flow's classification into an egress queue and
// provisions those queues on the egress interface.
package qos

import (
	"errors"
	"fmt"
	"sort"

	"grimm.is/flowmeta/internal/logging"
)

// TreatmentKey is the classification key naming the QoS treatment.
const TreatmentKey = "qos_treatment"

// DefaultQueue is where unclassified traffic goes.
const DefaultQueue = 0

// Queue is one egress queue. Rate is a share of the interface rate,
// either "NN%" or "NNmbit".
type Queue struct {
	Name string
	ID   int
	Rate string
}

// Config describes the egress interface and its queues.
type Config struct {
	Interface string
	RateMbps  int
	Queues    []Queue
}

// Validate checks queue ids and rates.
func (c Config) Validate() error {
	var errs []error
	seen := make(map[int]string)
	for _, q := range c.Queues {
		if q.ID <= 0 {
			errs = append(errs, fmt.Errorf("queue %q: id must be > 0 (0 is the default queue)", q.Name))
		}
		if prev, dup := seen[q.ID]; dup {
			errs = append(errs, fmt.Errorf("queue %q: id %d already used by %q", q.Name, q.ID, prev))
		}
		seen[q.ID] = q.Name
		if q.Rate != "" && parseRateStr(q.Rate, 1_000_000) == 0 {
			errs = append(errs, fmt.Errorf("queue %q: unparseable rate %q", q.Name, q.Rate))
		}
	}
	if len(c.Queues) > 0 && c.RateMbps <= 0 && c.Interface != "" {
		errs = append(errs, errors.New("rate_mbps must be set when queues are shaped on an interface"))
	}
	return errors.Join(errs...)
}

// Policy maps treatments to queue ids.
type Policy struct {
	queues map[string]int
	logger *logging.Logger
}

// NewPolicy builds a Policy from cfg's queues.
func NewPolicy(cfg Config, logger *logging.Logger) *Policy {
	if logger == nil {
		logger = logging.Default()
	}
	p := &Policy{
		queues: make(map[string]int, len(cfg.Queues)),
		logger: logger.WithComponent("qos"),
	}
	for _, q := range cfg.Queues {
		p.queues[q.Name] = q.ID
	}
	return p
}

// DecideQueue returns the queue for a classification. Missing or unknown
// treatments get DefaultQueue.
func (p *Policy) DecideQueue(classification map[string]string) int {
	treatment, ok := classification[TreatmentKey]
	if !ok || treatment == "" {
		return DefaultQueue
	}
	id, ok := p.queues[treatment]
	if !ok {
		p.logger.Debug("no queue for treatment, using default", "treatment", treatment)
		return DefaultQueue
	}
	return id
}

// Treatments lists the configured treatment names, sorted.
func (p *Policy) Treatments() []string {
	out := make([]string, 0, len(p.queues))
	for name := range p.queues {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
