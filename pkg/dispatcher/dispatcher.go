package dispatcher

import (
	"encoding/json"
	"sync"

	"github.com/streamscale/experiment-runner/pkg/cerrors"
	"github.com/streamscale/experiment-runner/pkg/experiment"
	"github.com/streamscale/experiment-runner/pkg/log"
)

// command tokens accepted on the command topic
const (
	CommandStart = "START"
	CommandStop  = "STOP"
	CommandClean = "CLEAN"
)

// acknowledgement tokens published on the ack topic
const (
	AckStart       = "ACK_START"
	AckStop        = "ACK_STOP"
	AckClean       = "ACK_CLEAN"
	InvalidCommand = "INVALID_COMMAND"
)

// Command is the inbound payload of the command topic
type Command struct {
	Command string `json:"command"`
	Config  string `json:"config,omitempty"`
}

// Messenger abstracts the pub/sub transport carrying the command channel
type Messenger interface {
	Publish(topic string, payload string, retained bool) error
	ClearRetained(topic string) error
	Subscribe(topic string, handler func(payload []byte)) error
}

// Topics holds the three topics of the command channel contract
type Topics struct {
	Command string
	Ack     string
	State   string
}

// Dispatcher validates inbound commands against the engine state, issues
// acknowledgements and republishes the state. Commands are processed strictly
// serially, the dispatcher is the only direct writer of the engine config.
type Dispatcher struct {
	mu        sync.Mutex
	engine    *experiment.Engine
	messenger Messenger
	topics    Topics
}

// New creates the dispatcher, call Start to subscribe
func New(engine *experiment.Engine, messenger Messenger, topics Topics) *Dispatcher {
	return &Dispatcher{
		engine:    engine,
		messenger: messenger,
		topics:    topics,
	}
}

// Start registers the state-publication observer, subscribes to the command
// topic and publishes the current state so that late subscribers immediately
// learn it
func (d *Dispatcher) Start() error {
	d.engine.OnTransition(func(state experiment.State) {
		d.publish(state)
	})
	if err := d.messenger.Subscribe(d.topics.Command, d.HandleMessage); err != nil {
		return err
	}
	d.publish(d.engine.State())
	return nil
}

// HandleMessage processes one inbound payload. The ordering contract is
// clear-retained, then ack, then transition, with one state publication per
// completed state change, so an observer never sees a state update without a
// matching ack.
func (d *Dispatcher) HandleMessage(payload []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()

	// an empty payload is the echo of our own retained-clear publication
	if len(payload) == 0 {
		return
	}

	command := Command{}
	if err := json.Unmarshal(payload, &command); err != nil {
		log.Warnf("[Dispatcher]: Ignoring unparseable payload, err: %v", err)
		return
	}

	switch command.Command {
	case CommandStart, CommandStop, CommandClean:
	case "":
		log.Warn("[Dispatcher]: Ignoring payload without a command token")
		return
	default:
		log.Warnf("[Dispatcher]: Ignoring unknown command '%s'", command.Command)
		return
	}

	// reset the retained command before acting so that a subscriber
	// reconnecting later does not replay a stale command
	if err := d.messenger.ClearRetained(d.topics.Command); err != nil {
		log.Warnf("[Dispatcher]: Unable to clear the retained command, err: %v", err)
	}

	log.Infof("[Dispatcher]: Received '%s' command in state '%s'", command.Command, d.engine.State())

	switch command.Command {
	case CommandStart:
		d.handleStart(command)
	case CommandStop:
		d.handleStop()
	case CommandClean:
		d.handleClean()
	}
}

func (d *Dispatcher) handleStart(command Command) {
	if d.engine.State() != experiment.Idle {
		d.reject(CommandStart)
		return
	}
	config, err := experiment.ParseConfig([]byte(command.Config))
	if err != nil {
		log.Errorf("[Dispatcher]: Invalid configuration attached to START, err: %v", err)
		d.reject(CommandStart)
		return
	}
	if err := d.engine.AttachConfig(config); err != nil {
		d.reject(CommandStart)
		return
	}
	d.ack(AckStart)
	if err := d.engine.Trigger(experiment.TriggerStart); err != nil {
		// the engine has already settled back to IDLE via the abort-to-clean
		// path, the published IDLE tells the operator the run aborted
		if cerrors.IsUserFriendly(err) {
			log.Errorf("[Dispatcher]: The start transition failed with %s, err: %v", cerrors.GetErrorType(err), err)
		} else {
			log.Errorf("[Dispatcher]: The start transition failed, err: %v", err)
		}
	}
}

func (d *Dispatcher) handleStop() {
	if d.engine.State() != experiment.Running {
		d.reject(CommandStop)
		return
	}
	d.ack(AckStop)
	if err := d.engine.Trigger(experiment.TriggerFinish); err != nil {
		log.Errorf("[Dispatcher]: The finish transition failed, err: %v", err)
	}
}

func (d *Dispatcher) handleClean() {
	d.ack(AckClean)
	if err := d.engine.Trigger(experiment.TriggerClean); err != nil {
		log.Errorf("[Dispatcher]: The clean transition failed, err: %v", err)
	}
}

// reject answers a recognized-but-inapplicable command and republishes the
// current state without side effects
func (d *Dispatcher) reject(command string) {
	log.Warnf("[Dispatcher]: %v", cerrors.InvalidCommand{Command: command, State: string(d.engine.State())})
	d.ack(InvalidCommand)
	d.publish(d.engine.State())
}

func (d *Dispatcher) ack(token string) {
	if err := d.messenger.Publish(d.topics.Ack, token, false); err != nil {
		log.Warnf("[Dispatcher]: Unable to publish the '%s' ack, err: %v", token, err)
	}
}

// publish publishes the given state retained so that late subscribers
// immediately learn it
func (d *Dispatcher) publish(state experiment.State) {
	if err := d.messenger.Publish(d.topics.State, string(state), true); err != nil {
		log.Warnf("[Dispatcher]: Unable to publish the '%s' state, err: %v", state, err)
	}
}
