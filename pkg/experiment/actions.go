package experiment

import (
	"context"
	"time"

	"github.com/streamscale/experiment-runner/pkg/cerrors"
	"github.com/streamscale/experiment-runner/pkg/chaos"
	"github.com/streamscale/experiment-runner/pkg/log"
)

// startAction executes the STARTING sequence synchronously on the triggering
// goroutine: provisioning calls are bounded, and no new command should be
// accepted mid-transition. Any failure aborts the run via the clean follow-up.
func (e *Engine) startAction() (Trigger, error) {
	ctx := context.Background()
	e.generation++

	variant, err := variantFor(e.config.Type)
	if err != nil {
		return TriggerClean, err
	}
	e.variant = variant

	run, err := NewRun(e.outputDir, e.config.Name)
	if err != nil {
		return TriggerClean, cerrors.Provisioning{Phase: "Start", Target: "run directory", Reason: err.Error()}
	}
	e.run = run
	log.InfoWithValues("[Start]: Experiment run prepared", map[string]interface{}{
		"Name": run.Name, "RunID": run.RunID, "Dir": run.Dir})

	if e.config.Chaos.Enable {
		if err := e.deployChaos(ctx); err != nil {
			return TriggerClean, err
		}
	}

	for _, generator := range e.config.Generators {
		if err := e.cluster.ApplyLoadGenerator(ctx, generator); err != nil {
			return TriggerClean, cerrors.Provisioning{Phase: "Start", Target: generator.Name, Reason: err.Error()}
		}
		e.prov.generators = append(e.prov.generators, generator.Name)
	}

	if e.variant.NeedsJob() && e.config.Job != nil {
		if err := e.cluster.SubmitJob(ctx, *e.config.Job); err != nil {
			return TriggerClean, cerrors.Provisioning{Phase: "Start", Target: e.config.JobName(), Reason: err.Error()}
		}
		e.prov.job = e.config.JobName()
	}

	if err := e.variant.Starting(ctx, e.cluster, e.config); err != nil {
		return TriggerClean, cerrors.Provisioning{Phase: "Start", Target: e.config.Type, Reason: err.Error()}
	}

	return TriggerRun, nil
}

// deployChaos creates the fault-injection resource, relabels the unaffected
// nodes and spawns the reset monitor with an immutable params snapshot
func (e *Engine) deployChaos(ctx context.Context) error {

	params := e.config.ChaosParams()
	if err := e.cluster.CreateFaultInjection(ctx, params.Spec()); err != nil {
		return cerrors.Provisioning{Phase: "Start", Target: params.Name, Reason: err.Error()}
	}
	e.prov.faultInjection = params.Name

	// the impacted set is computed from the live cluster objects after the
	// chaos deploy, not cached from the creation call
	impacted, err := e.cluster.ListPodNodes(ctx, e.config.TargetSelector())
	if err != nil {
		return cerrors.Provisioning{Phase: "Start", Target: "impacted nodes", Reason: err.Error()}
	}
	allNodes, err := e.cluster.GetNodes(ctx, e.config.Chaos.NodeSelector)
	if err != nil {
		return cerrors.Provisioning{Phase: "Start", Target: "worker nodes", Reason: err.Error()}
	}
	cleanNodes := difference(allNodes, impacted)
	if len(cleanNodes) > 0 {
		if err := e.cluster.AddNodeLabel(ctx, cleanNodes, cleanNodeLabelKey, "true"); err != nil {
			return cerrors.Provisioning{Phase: "Start", Target: "node labels", Reason: err.Error()}
		}
		e.prov.labeledNodes = cleanNodes
	}

	monitorCtx, cancel := context.WithCancel(context.Background())
	e.monitor = chaos.NewResetMonitor(e.cluster, e.config.Deployment, params)
	e.monitorCancel = cancel
	go func(monitor *chaos.ResetMonitor) {
		_ = monitor.Run(monitorCtx)
	}(e.monitor)

	return nil
}

// runAction spawns the background run monitor so the command-handling
// goroutine stays responsive to STOP and CLEAN
func (e *Engine) runAction() (Trigger, error) {
	jobName := ""
	if e.variant.NeedsJob() {
		jobName = e.prov.job
	}
	// the generation stamp guarantees at most one monitor acts per run: a
	// stale monitor from an earlier run observes a different generation and
	// exits without firing any trigger
	go e.watchRun(jobName, e.generation)
	return "", nil
}

// watchRun polls the job status once per interval until the job completes or
// the engine leaves RUNNING. Transient polling errors are logged and retried
// by the next tick. Completion is signalled back through the serialized
// trigger entry point.
func (e *Engine) watchRun(jobName string, generation uint64) {
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for range ticker.C {
		if !e.runningGeneration(generation) {
			return
		}
		complete, err := e.checkCompletion(jobName)
		if err != nil {
			log.Warnf("[RunMonitor]: Unable to read the job status, err: %v", err)
			continue
		}
		if !complete {
			continue
		}
		log.Info("[RunMonitor]: The job run is complete")
		if err := e.finishIfGeneration(generation); err != nil {
			log.Warnf("[RunMonitor]: Unable to fire the finish trigger, err: %v", err)
		}
		return
	}
}

func (e *Engine) runningGeneration(generation uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == Running && e.generation == generation
}

// finishIfGeneration applies the finish transition only while the engine is
// still running the generation the monitor was spawned for. The generation is
// re-checked under the lock: the status poll blocks without it, and the run it
// was watching may have been cleaned and replaced by the time the poll returns.
func (e *Engine) finishIfGeneration(generation uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Running || e.generation != generation {
		return nil
	}
	return e.fire(TriggerFinish)
}

func (e *Engine) checkCompletion(jobName string) (bool, error) {
	if jobName == "" {
		return true, nil
	}
	status, err := e.cluster.GetJobStatus(context.Background(), jobName)
	if err != nil {
		return false, err
	}
	return status.Complete || status.Failed, nil
}

// finishAction records the end timestamp and persists the run artifacts.
// Persist failures are logged and never block the unconditional clean
// follow-up.
func (e *Engine) finishAction() (Trigger, error) {
	e.run.EndedAt = time.Now()

	func() {
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("[Finish]: Recovered while persisting the run artifacts: %v", r)
			}
		}()
		e.persistArtifacts()
	}()

	return TriggerClean, nil
}

func (e *Engine) persistArtifacts() {
	ctx := context.Background()

	if err := e.run.WriteLog(e.config); err != nil {
		log.Errorf("[Finish]: %v", cerrors.Persist{Artifact: "experiment log", Reason: err.Error()})
	}
	if e.prov.job != "" {
		logs, err := e.cluster.GetJobLogs(ctx, e.prov.job)
		if err != nil {
			log.Errorf("[Finish]: %v", cerrors.Persist{Artifact: "job logs", Reason: err.Error()})
		} else if err := e.run.WriteJobLogs(logs); err != nil {
			log.Errorf("[Finish]: %v", cerrors.Persist{Artifact: "job logs", Reason: err.Error()})
		}
	}
	if e.exporter != nil && e.config.Output.Export {
		if err := e.exporter.WriteRun(ctx, e.run, e.config); err != nil {
			log.Errorf("[Finish]: %v", cerrors.Persist{Artifact: "run export", Reason: err.Error()})
		}
	}
	if err := e.variant.Finishing(ctx, e.cluster, e.config, e.run); err != nil {
		log.Errorf("[Finish]: %v", cerrors.Persist{Artifact: e.config.Type, Reason: err.Error()})
	}
}

// cleanAction tears down everything the run provisioned and clears the
// run-scoped state. It is idempotent: from IDLE with nothing provisioned it is
// a harmless no-op. The reset monitor is stopped and awaited before the
// fault-injection resource is deleted, otherwise the monitor could recreate
// the resource right after the teardown deleted it.
func (e *Engine) cleanAction() (Trigger, error) {
	ctx := context.Background()

	if e.monitorCancel != nil {
		e.monitorCancel()
		<-e.monitor.Done()
		e.monitorCancel = nil
		e.monitor = nil
	}

	prov := e.prov
	e.prov = provisioned{}

	if prov.job != "" {
		if err := e.cluster.DeleteJob(ctx, prov.job); err != nil {
			log.Errorf("[Clean]: Unable to delete the '%s' job, err: %v", prov.job, err)
		}
	}
	for _, generator := range prov.generators {
		if err := e.cluster.DeleteLoadGenerator(ctx, generator); err != nil {
			log.Errorf("[Clean]: Unable to delete the '%s' load generator, err: %v", generator, err)
		}
	}
	if prov.faultInjection != "" {
		if err := e.cluster.DeleteFaultInjection(ctx, prov.faultInjection); err != nil {
			log.Errorf("[Clean]: Unable to delete the '%s' fault injection, err: %v", prov.faultInjection, err)
		}
	}
	if len(prov.labeledNodes) > 0 {
		if err := e.cluster.RemoveNodeLabel(ctx, prov.labeledNodes, cleanNodeLabelKey); err != nil {
			log.Errorf("[Clean]: Unable to remove the node labels, err: %v", err)
		}
	}

	if e.variant != nil && e.config != nil {
		if err := e.variant.Cleaning(ctx, e.cluster, e.config); err != nil {
			log.Errorf("[Clean]: The '%s' variant teardown failed, err: %v", e.config.Type, err)
		}
	}

	e.config = nil
	e.variant = nil
	e.run = nil

	log.Info("[Clean]: The engine settled back to IDLE")
	return "", nil
}

func difference(all, exclude []string) []string {
	excluded := map[string]bool{}
	for _, name := range exclude {
		excluded[name] = true
	}
	result := []string{}
	for _, name := range all {
		if !excluded[name] {
			result = append(result, name)
		}
	}
	return result
}
