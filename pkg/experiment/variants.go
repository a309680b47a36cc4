package experiment

import (
	"context"

	"github.com/pkg/errors"
	"github.com/streamscale/experiment-runner/pkg/cluster"
	"github.com/streamscale/experiment-runner/pkg/log"
)

// Variant parameterizes the lifecycle engine with per-experiment-type hooks,
// selected by the config's 'type' key at START
type Variant interface {
	// NeedsJob reports whether the experiment submits and monitors a job
	NeedsJob() bool
	// Starting runs extra provisioning after the shared STARTING sequence
	Starting(ctx context.Context, cl cluster.Interface, config *Config) error
	// Finishing runs extra artifact work during FINISHING, best-effort
	Finishing(ctx context.Context, cl cluster.Interface, config *Config, run *Run) error
	// Cleaning runs extra teardown during CLEAN, best-effort
	Cleaning(ctx context.Context, cl cluster.Interface, config *Config) error
}

var variantConstructors = map[string]func() Variant{
	"simple":     func() Variant { return simpleVariant{} },
	"resource":   func() Variant { return resourceVariant{} },
	"test":       func() Variant { return testVariant{} },
	"transscale": func() Variant { return transscaleVariant{} },
}

func variantFor(experimentType string) (Variant, error) {
	constructor, ok := variantConstructors[experimentType]
	if !ok {
		return nil, errors.Errorf("unknown experiment type '%s'", experimentType)
	}
	return constructor(), nil
}

// simpleVariant runs the job as-is with no extra behaviour
type simpleVariant struct{}

func (simpleVariant) NeedsJob() bool { return true }

func (simpleVariant) Starting(ctx context.Context, cl cluster.Interface, config *Config) error {
	return nil
}

func (simpleVariant) Finishing(ctx context.Context, cl cluster.Interface, config *Config, run *Run) error {
	return nil
}

func (simpleVariant) Cleaning(ctx context.Context, cl cluster.Interface, config *Config) error {
	return nil
}

// resourceVariant pins the processing deployment to a fixed replica count for
// the duration of the run
type resourceVariant struct{}

func (resourceVariant) NeedsJob() bool { return true }

func (resourceVariant) Starting(ctx context.Context, cl cluster.Interface, config *Config) error {
	return cl.ScaleDeployment(ctx, config.Deployment, config.Replicas)
}

func (resourceVariant) Finishing(ctx context.Context, cl cluster.Interface, config *Config, run *Run) error {
	return nil
}

func (resourceVariant) Cleaning(ctx context.Context, cl cluster.Interface, config *Config) error {
	return cl.ScaleDeployment(ctx, config.Deployment, config.BaseReplicas)
}

// testVariant exercises the command channel and the lifecycle without
// submitting a job, the run completes immediately
type testVariant struct{}

func (testVariant) NeedsJob() bool { return false }

func (testVariant) Starting(ctx context.Context, cl cluster.Interface, config *Config) error {
	log.Info("[Variant]: Test experiment, no job will be submitted")
	return nil
}

func (testVariant) Finishing(ctx context.Context, cl cluster.Interface, config *Config, run *Run) error {
	return nil
}

func (testVariant) Cleaning(ctx context.Context, cl cluster.Interface, config *Config) error {
	return nil
}

// transscaleVariant runs the autoscaler controller alongside the job so that
// the deployment is rescaled by it during the run
type transscaleVariant struct{}

func (transscaleVariant) NeedsJob() bool { return true }

func (transscaleVariant) Starting(ctx context.Context, cl cluster.Interface, config *Config) error {
	return cl.ApplyLoadGenerator(ctx, *config.Autoscaler)
}

func (transscaleVariant) Finishing(ctx context.Context, cl cluster.Interface, config *Config, run *Run) error {
	return nil
}

func (transscaleVariant) Cleaning(ctx context.Context, cl cluster.Interface, config *Config) error {
	return cl.DeleteLoadGenerator(ctx, config.Autoscaler.Name)
}
