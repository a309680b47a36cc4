package cluster

import (
	"context"

	"github.com/streamscale/experiment-runner/pkg/clients"
)

// ScaleEvent is a single observation from a deployment watch stream
type ScaleEvent struct {
	Replicas int32
	Deleted  bool
}

// JobStatus holds the status of a submitted stream-processing job
type JobStatus struct {
	Active   int32
	Complete bool
	Failed   bool
}

// JobSpec describes the stream-processing job to submit
type JobSpec struct {
	Name         string            `yaml:"name" json:"name"`
	Image        string            `yaml:"image" json:"image"`
	Command      []string          `yaml:"command" json:"command"`
	Args         []string          `yaml:"args" json:"args"`
	Env          map[string]string `yaml:"env" json:"env"`
	BackoffLimit int32             `yaml:"backoffLimit" json:"backoffLimit"`
}

// GeneratorSpec describes one load-generator deployment
type GeneratorSpec struct {
	Name     string            `yaml:"name" json:"name"`
	Image    string            `yaml:"image" json:"image"`
	Replicas int32             `yaml:"replicas" json:"replicas"`
	Args     []string          `yaml:"args" json:"args"`
	Env      map[string]string `yaml:"env" json:"env"`
}

// FaultInjectionSpec describes the network-chaos resource to create
type FaultInjectionSpec struct {
	Name        string
	Selector    map[string]string
	Latency     string
	Jitter      string
	Correlation string
	Rate        string
	Limit       uint32
	Buffer      uint32
}

// Interface abstracts all the cluster-side operations consumed by the
// experiment lifecycle engine and the fault-injection reset monitor
type Interface interface {
	ScaleDeployment(ctx context.Context, name string, replicas int32) error
	WatchDeployment(ctx context.Context, name string) (<-chan ScaleEvent, error)
	ApplyLoadGenerator(ctx context.Context, spec GeneratorSpec) error
	DeleteLoadGenerator(ctx context.Context, name string) error
	SubmitJob(ctx context.Context, spec JobSpec) error
	GetJobStatus(ctx context.Context, name string) (JobStatus, error)
	GetJobLogs(ctx context.Context, name string) (string, error)
	DeleteJob(ctx context.Context, name string) error
	GetNodes(ctx context.Context, labelSelector string) ([]string, error)
	AddNodeLabel(ctx context.Context, nodes []string, key, value string) error
	RemoveNodeLabel(ctx context.Context, nodes []string, key string) error
	ListPodNodes(ctx context.Context, labelSelector string) ([]string, error)
	ExecOnPod(ctx context.Context, deploymentName string, command []string) (string, error)
	DeletePodsByLabel(ctx context.Context, labelSelector string) error
	CreateFaultInjection(ctx context.Context, spec FaultInjectionSpec) error
	DeleteFaultInjection(ctx context.Context, name string) error
}

// Client implements Interface on top of the kubernetes clientsets
type Client struct {
	clients   clients.ClientSets
	namespace string

	// status check attributes for the teardown convergence waits
	timeout int
	delay   int
}

// NewClient creates the cluster client scoped to the given namespace
func NewClient(clientSets clients.ClientSets, namespace string, timeout, delay int) *Client {
	if delay <= 0 {
		delay = 2
	}
	if timeout <= 0 {
		timeout = 180
	}
	return &Client{
		clients:   clientSets,
		namespace: namespace,
		timeout:   timeout,
		delay:     delay,
	}
}
