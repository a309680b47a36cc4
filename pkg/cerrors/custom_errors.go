package cerrors

import "fmt"

// ConfigurationMissing is raised when start is triggered with no config attached
type ConfigurationMissing struct {
	Trigger string
}

func (e ConfigurationMissing) Error() string {
	return fmt.Sprintf("cannot fire '%s': no experiment configuration attached", e.Trigger)
}

func (e ConfigurationMissing) UserFriendly() bool {
	return true
}

func (e ConfigurationMissing) ErrorType() ErrorType {
	return ErrorTypeConfigurationMissing
}

// Provisioning is raised when a cluster-control call fails during STARTING
type Provisioning struct {
	Phase  string
	Target string
	Reason string
}

func (e Provisioning) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("[%s]: provisioning failed, %s", e.Phase, e.Reason)
	}
	return fmt.Sprintf("[%s]: failed to provision '%s', %s", e.Phase, e.Target, e.Reason)
}

func (e Provisioning) UserFriendly() bool {
	return true
}

func (e Provisioning) ErrorType() ErrorType {
	return ErrorTypeProvisioning
}

// Persist is raised when a run artifact cannot be written during FINISHING
type Persist struct {
	Artifact string
	Reason   string
}

func (e Persist) Error() string {
	return fmt.Sprintf("failed to persist '%s', %s", e.Artifact, e.Reason)
}

func (e Persist) UserFriendly() bool {
	return true
}

func (e Persist) ErrorType() ErrorType {
	return ErrorTypePersist
}

// InvalidCommand is raised when a recognized command does not apply to the
// current state, it is answered on the ack topic without a state change
type InvalidCommand struct {
	Command string
	State   string
}

func (e InvalidCommand) Error() string {
	return fmt.Sprintf("the '%s' command is not valid in state '%s'", e.Command, e.State)
}

func (e InvalidCommand) UserFriendly() bool {
	return true
}

func (e InvalidCommand) ErrorType() ErrorType {
	return ErrorTypeInvalidCommand
}

// WatchStream is raised when the deployment watch stream cannot be opened, it
// is fatal to the reset monitor only
type WatchStream struct {
	Deployment string
	Reason     string
}

func (e WatchStream) Error() string {
	return fmt.Sprintf("unable to watch the '%s' deployment, %s", e.Deployment, e.Reason)
}

func (e WatchStream) UserFriendly() bool {
	return true
}

func (e WatchStream) ErrorType() ErrorType {
	return ErrorTypeWatchStream
}

// InvalidTransition is raised when a trigger does not apply to the current state
type InvalidTransition struct {
	State   string
	Trigger string
}

func (e InvalidTransition) Error() string {
	return fmt.Sprintf("trigger '%s' is not valid in state '%s'", e.Trigger, e.State)
}

func (e InvalidTransition) UserFriendly() bool {
	return true
}

func (e InvalidTransition) ErrorType() ErrorType {
	return ErrorTypeInvalidTransition
}
