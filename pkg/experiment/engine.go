package experiment

import (
	"context"
	"sync"
	"time"

	"github.com/streamscale/experiment-runner/pkg/cerrors"
	"github.com/streamscale/experiment-runner/pkg/chaos"
	"github.com/streamscale/experiment-runner/pkg/cluster"
	"github.com/streamscale/experiment-runner/pkg/log"
)

// State is the lifecycle state of the experiment engine
type State string

const (
	Idle      State = "IDLE"
	Starting  State = "STARTING"
	Running   State = "RUNNING"
	Finishing State = "FINISHING"
)

// Trigger names a transition of the lifecycle state machine
type Trigger string

const (
	TriggerStart  Trigger = "start"
	TriggerRun    Trigger = "run"
	TriggerFinish Trigger = "finish"
	TriggerClean  Trigger = "clean"
)

// anyState is the wildcard source of the clean transition
const anyState State = "*"

// cleanNodeLabelKey marks the nodes outside the fault-injection target set as
// schedulable for chaos-free workloads
const cleanNodeLabelKey = "streamscale.io/chaos-free"

// Recorder records lifecycle transitions cluster-side, best-effort
type Recorder interface {
	Record(reason, message string) error
}

// Exporter persists the run record to the time-series database during
// FINISHING, best-effort
type Exporter interface {
	WriteRun(ctx context.Context, run *Run, config *Config) error
}

// Options wires the engine collaborators, Recorder and Exporter are optional
type Options struct {
	Cluster      cluster.Interface
	Recorder     Recorder
	Exporter     Exporter
	OutputDir    string
	PollInterval time.Duration
}

// transition is one row of the state machine table: source state, trigger,
// destination state and the action executed after the state change. Actions
// may return a follow-up trigger which is dispatched under the same lock.
type transition struct {
	source      State
	trigger     Trigger
	destination State
	guard       func(*Engine) error
	action      func(*Engine) (Trigger, error)
}

var transitions []transition

func init() {
	transitions = []transition{
		{Idle, TriggerStart, Starting, (*Engine).guardStart, (*Engine).startAction},
		{Starting, TriggerRun, Running, nil, (*Engine).runAction},
		{Running, TriggerFinish, Finishing, nil, (*Engine).finishAction},
		{anyState, TriggerClean, Idle, nil, (*Engine).cleanAction},
	}
}

// provisioned records what the STARTING sequence actually created so that
// clean tears down exactly those resources once, even after a partial failure
type provisioned struct {
	job            string
	generators     []string
	faultInjection string
	labeledNodes   []string
}

// Engine is the experiment lifecycle state machine. All state mutation goes
// through Trigger, which serializes on a single mutex: the dispatcher and the
// background run monitor both use that entry point, so the engine state has a
// single logical writer.
type Engine struct {
	mu    sync.Mutex
	state State

	cluster      cluster.Interface
	recorder     Recorder
	exporter     Exporter
	outputDir    string
	pollInterval time.Duration

	config     *Config
	variant    Variant
	run        *Run
	prov       provisioned
	generation uint64
	notify     func(State)

	monitor       *chaos.ResetMonitor
	monitorCancel context.CancelFunc
}

// New creates the engine in the IDLE state
func New(opts Options) *Engine {
	pollInterval := opts.PollInterval
	if pollInterval == 0 {
		pollInterval = time.Second
	}
	outputDir := opts.OutputDir
	if outputDir == "" {
		outputDir = "./results"
	}
	return &Engine{
		state:        Idle,
		cluster:      opts.Cluster,
		recorder:     opts.Recorder,
		exporter:     opts.Exporter,
		outputDir:    outputDir,
		pollInterval: pollInterval,
	}
}

// State returns the current lifecycle state
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// OnTransition registers the observer called after every completed state
// change, including the intermediate states of chained transitions. The
// observer runs under the engine lock and must not call back into the engine.
func (e *Engine) OnTransition(observer func(State)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.notify = observer
}

// AttachConfig hands the parsed experiment configuration to the engine, only
// valid while IDLE
func (e *Engine) AttachConfig(config *Config) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Idle {
		return cerrors.InvalidTransition{State: string(e.state), Trigger: string(TriggerStart)}
	}
	e.config = config
	return nil
}

// Trigger fires the named transition. It is the single serialized entry point
// for all state mutation: follow-up triggers returned by actions (run after a
// successful start, clean after finish or after a failed start) are dispatched
// under the same lock, so observers never see an intermediate state settle.
func (e *Engine) Trigger(trigger Trigger) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fire(trigger)
}

// fire dispatches the trigger and its follow-up chain, callers must hold the
// engine lock
func (e *Engine) fire(trigger Trigger) error {
	var firstErr error
	for trigger != "" {
		tr, ok := findTransition(e.state, trigger)
		if !ok {
			err := cerrors.InvalidTransition{State: string(e.state), Trigger: string(trigger)}
			if firstErr == nil {
				firstErr = err
			}
			return firstErr
		}
		if tr.guard != nil {
			if err := tr.guard(e); err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return firstErr
			}
		}
		log.Infof("[Engine]: Transition %s -> %s on '%s'", e.state, tr.destination, trigger)
		e.state = tr.destination
		e.record(string(trigger), string(e.state))
		if e.notify != nil {
			e.notify(e.state)
		}

		followup, err := tr.action(e)
		if err != nil {
			log.Errorf("[Engine]: The '%s' action failed, err: %v", trigger, err)
			if firstErr == nil {
				firstErr = err
			}
		}
		trigger = followup
	}
	return firstErr
}

func findTransition(state State, trigger Trigger) (transition, bool) {
	for _, tr := range transitions {
		if tr.trigger != trigger {
			continue
		}
		if tr.source == state || tr.source == anyState {
			return tr, true
		}
	}
	return transition{}, false
}

// guardStart rejects start when no configuration has been attached, the state
// is left unchanged
func (e *Engine) guardStart() error {
	if e.config == nil {
		return cerrors.ConfigurationMissing{Trigger: string(TriggerStart)}
	}
	return nil
}

// record emits a cluster event for the completed transition, best-effort
func (e *Engine) record(reason, message string) {
	if e.recorder == nil {
		return
	}
	if err := e.recorder.Record(reason, message); err != nil {
		log.Warnf("[Engine]: Unable to record the '%s' event, err: %v", reason, err)
	}
}
