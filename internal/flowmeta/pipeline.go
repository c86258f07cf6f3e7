package flowmeta

import (
	"grimm.is/flowmeta/internal/flowtable"
	"grimm.is/flowmeta/internal/packet"
)

// Observer sees every packet before it is correlated. The identity
// harvesters are observers.
type Observer interface {
	Observe(v *packet.View)
}

// Classifier assigns actions to a packet. ok is false when nothing
// matched.
type Classifier interface {
	Classify(pkt *packet.View) (*flowtable.Actions, bool)
}

// Pipeline runs one packet through observe, classify and process.
type Pipeline struct {
	Observers  []Observer
	Classifier Classifier
	Service    *Service
}

// Handle processes v and returns the packet mark that steers it into its
// output queue (0 leaves the packet unmarked).
func (p *Pipeline) Handle(v *packet.View) uint32 {
	for _, o := range p.Observers {
		o.Observe(v)
	}

	var actions *flowtable.Actions
	if p.Classifier != nil {
		if a, ok := p.Classifier.Classify(v); ok {
			actions = a
		}
	}

	out := p.Service.Process(v, actions)
	if out.OutQueue < 0 {
		return 0
	}
	return uint32(out.OutQueue)
}
