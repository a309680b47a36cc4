package chaos

import (
	"context"
	"time"

	"github.com/streamscale/experiment-runner/pkg/cerrors"
	"github.com/streamscale/experiment-runner/pkg/cluster"
	"github.com/streamscale/experiment-runner/pkg/log"
)

// DefaultSettleDelay is the wait between deletion and recreation of the
// fault-injection resource, it lets the deletion converge cluster-side
const DefaultSettleDelay = 3 * time.Second

// ResetMonitor watches the scaled deployment and recreates the fault-injection
// resource whenever the replica count changes. The chaos resource does not
// re-target pods created after a rescale on its own, so a delete-then-recreate
// cycle is required to re-apply the impairment to the new pod set.
type ResetMonitor struct {
	cluster     cluster.Interface
	deployment  string
	params      Params
	settleDelay time.Duration
	done        chan struct{}
}

// NewResetMonitor creates the monitor for the given deployment, params must be
// a snapshot owned by the monitor
func NewResetMonitor(cl cluster.Interface, deployment string, params Params) *ResetMonitor {
	return &ResetMonitor{
		cluster:     cl,
		deployment:  deployment,
		params:      params,
		settleDelay: DefaultSettleDelay,
		done:        make(chan struct{}),
	}
}

// Done is closed once the monitor task has fully exited, the engine waits on it
// before tearing down the fault-injection resources
func (m *ResetMonitor) Done() <-chan struct{} {
	return m.done
}

// Run blocks on the deployment watch stream until the deployment is deleted,
// the stream fails or ctx is cancelled. Watch-stream failures are fatal to the
// monitor only, a missing monitor means chaos is not re-applied after
// subsequent rescales for the remainder of the run.
func (m *ResetMonitor) Run(ctx context.Context) error {
	defer close(m.done)

	events, err := m.cluster.WatchDeployment(ctx, m.deployment)
	if err != nil {
		watchErr := cerrors.WatchStream{Deployment: m.deployment, Reason: err.Error()}
		log.Errorf("[ResetMonitor]: %v", watchErr)
		return watchErr
	}
	log.Infof("[ResetMonitor]: Watching the '%s' deployment for rescales", m.deployment)

	lastReplicas := int32(-1)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-events:
			if !ok {
				log.Warn("[ResetMonitor]: The deployment watch stream terminated")
				return nil
			}
			if event.Deleted {
				log.Infof("[ResetMonitor]: The '%s' deployment has been deleted, exiting", m.deployment)
				return nil
			}
			if lastReplicas == -1 {
				// first observation is the baseline, the chaos resource already
				// targets the current pod set
				lastReplicas = event.Replicas
				continue
			}
			if event.Replicas == lastReplicas {
				continue
			}
			log.Infof("[ResetMonitor]: Replica count changed from '%d' to '%d', re-applying chaos", lastReplicas, event.Replicas)
			if err := m.reset(ctx); err != nil {
				log.Errorf("[ResetMonitor]: Unable to re-apply the chaos resource, err: %v", err)
			}
			lastReplicas = event.Replicas
		}
	}
}

// reset performs the strictly ordered delete, settle, recreate cycle
func (m *ResetMonitor) reset(ctx context.Context) error {
	if err := m.cluster.DeleteFaultInjection(ctx, m.params.Name); err != nil {
		return err
	}
	select {
	case <-time.After(m.settleDelay):
	case <-ctx.Done():
		return ctx.Err()
	}
	return m.cluster.CreateFaultInjection(ctx, m.params.Spec())
}
