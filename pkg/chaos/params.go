package chaos

import (
	"github.com/streamscale/experiment-runner/pkg/cluster"
)

// Params is an immutable snapshot of the network-impairment settings, it is
// captured once at STARTING and handed to the reset monitor so that it never
// has to read the experiment configuration after spawn
type Params struct {
	Name        string
	Selector    map[string]string
	Latency     string
	Jitter      string
	Correlation string
	Rate        string
	Limit       uint32
	Buffer      uint32
}

// Spec converts the snapshot into the cluster-level fault-injection spec
func (p Params) Spec() cluster.FaultInjectionSpec {
	selector := make(map[string]string, len(p.Selector))
	for key, value := range p.Selector {
		selector[key] = value
	}
	return cluster.FaultInjectionSpec{
		Name:        p.Name,
		Selector:    selector,
		Latency:     p.Latency,
		Jitter:      p.Jitter,
		Correlation: p.Correlation,
		Rate:        p.Rate,
		Limit:       p.Limit,
		Buffer:      p.Buffer,
	}
}
