package policy

import (
	"maps"
	"sync/atomic"

	"grimm.is/flowmeta/internal/classify"
	"grimm.is/flowmeta/internal/flowtable"
	"grimm.is/flowmeta/internal/logging"
	"grimm.is/flowmeta/internal/packet"
)

// Evaluator applies a Policy to packets. The policy can be swapped while
// packets are being classified.
type Evaluator struct {
	policy atomic.Pointer[Policy]
	static *classify.Static
	logger *logging.Logger
}

// NewEvaluator returns an evaluator for p.
func NewEvaluator(p *Policy, s *classify.Static, logger *logging.Logger) *Evaluator {
	if logger == nil {
		logger = logging.Default()
	}
	e := &Evaluator{static: s, logger: logger.WithComponent("policy")}
	if p == nil {
		p = &Policy{}
	}
	e.policy.Store(p)
	return e
}

// Swap installs a new policy and returns the old one.
func (e *Evaluator) Swap(p *Policy) *Policy {
	if p == nil {
		p = &Policy{}
	}
	old := e.policy.Swap(p)
	e.logger.Info("policy installed", "rules", len(p.Rules))
	return old
}

// Policy returns the active policy.
func (e *Evaluator) Policy() *Policy {
	return e.policy.Load()
}

// Classify returns the actions of the first rule pkt matches.
func (e *Evaluator) Classify(pkt *packet.View) (*flowtable.Actions, bool) {
	p := e.policy.Load()
	for i, r := range p.Rules {
		if !e.matches(r, pkt) {
			continue
		}
		name := r.Name(i)
		e.logger.Debug("rule matched", "rule", name, "packet", pkt.String())
		return &flowtable.Actions{
			Classification: maps.Clone(r.Actions),
			Rule:           name,
		}, true
	}
	return nil, false
}

func (e *Evaluator) matches(r Rule, pkt *packet.View) bool {
	if len(r.Conditions) == 0 {
		return false
	}
	all := r.MatchType == MatchAll
	for _, c := range r.Conditions {
		hit := e.static.Check(c.Attribute, c.Value, pkt)
		if all && !hit {
			return false
		}
		if !all && hit {
			return true
		}
	}
	return all
}
