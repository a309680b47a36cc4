package experiment

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	"github.com/streamscale/experiment-runner/pkg/chaos"
	"github.com/streamscale/experiment-runner/pkg/cluster"
	"gopkg.in/yaml.v2"
)

// ChaosConfig holds the network-impairment settings of one experiment
type ChaosConfig struct {
	Enable       bool              `json:"enable"`
	Selector     map[string]string `json:"selector"`
	NodeSelector string            `json:"nodeSelector"`
	Latency      string            `json:"latency"`
	Jitter       string            `json:"jitter"`
	Correlation  string            `json:"correlation"`
	Rate         string            `json:"rate"`
	Limit        uint32            `json:"limit"`
	Buffer       uint32            `json:"buffer"`
}

// OutputConfig holds the run artifact options
type OutputConfig struct {
	Path   string `json:"path"`
	Export bool   `json:"export"`
}

// Config is the validated parameter bag of a single experiment run. It is
// attached to the engine at START and cleared when the clean transition
// returns the engine to IDLE, it must not be read by cleanup logic after the
// clearing.
type Config struct {
	Name         string                  `json:"name"`
	Type         string                  `json:"type"`
	Deployment   string                  `json:"deployment"`
	Replicas     int32                   `json:"replicas"`
	BaseReplicas int32                   `json:"baseReplicas"`
	JobFile      string                  `json:"jobFile"`
	Job          *cluster.JobSpec        `json:"job"`
	Autoscaler   *cluster.GeneratorSpec  `json:"autoscaler"`
	Generators   []cluster.GeneratorSpec `json:"generators"`
	Chaos        ChaosConfig             `json:"chaos"`
	Output       OutputConfig            `json:"output"`
}

// ParseConfig parses and validates the configuration payload attached to a
// START command
func ParseConfig(payload []byte) (*Config, error) {

	if len(payload) == 0 {
		return nil, errors.Errorf("empty configuration payload")
	}
	config := &Config{}
	if err := json.Unmarshal(payload, config); err != nil {
		return nil, errors.Wrapf(err, "Unable to parse the configuration payload, err: %v", err)
	}
	if config.Type == "" {
		config.Type = "simple"
	}
	if config.BaseReplicas == 0 {
		config.BaseReplicas = 1
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	if err := config.resolveJob(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) validate() error {
	if c.Name == "" {
		return errors.Errorf("the 'name' key is required")
	}
	if _, known := variantConstructors[c.Type]; !known {
		return errors.Errorf("unknown experiment type '%s'", c.Type)
	}
	if c.Chaos.Enable {
		if c.Deployment == "" {
			return errors.Errorf("the 'deployment' key is required when chaos is enabled")
		}
		if len(c.Chaos.Selector) == 0 {
			return errors.Errorf("the 'chaos.selector' key is required when chaos is enabled")
		}
		if c.Chaos.Latency == "" && c.Chaos.Rate == "" {
			return errors.Errorf("chaos is enabled but neither 'chaos.latency' nor 'chaos.rate' is set")
		}
	}
	if c.Type == "resource" && c.Replicas <= 0 {
		return errors.Errorf("the 'replicas' key is required for the resource experiment type")
	}
	if c.Type == "transscale" && c.Autoscaler == nil {
		return errors.Errorf("the 'autoscaler' key is required for the transscale experiment type")
	}
	return nil
}

// resolveJob loads the job spec from the referenced yaml file when it is not
// provided inline
func (c *Config) resolveJob() error {
	if c.Job != nil || c.JobFile == "" {
		return nil
	}
	data, err := os.ReadFile(c.JobFile)
	if err != nil {
		return errors.Errorf("Unable to read the '%s' job file, err: %v", c.JobFile, err)
	}
	job := &cluster.JobSpec{}
	if err := yaml.Unmarshal(data, job); err != nil {
		return errors.Errorf("Unable to parse the '%s' job file, err: %v", c.JobFile, err)
	}
	if job.Name == "" {
		return errors.Errorf("the '%s' job file does not set a job name", c.JobFile)
	}
	c.Job = job
	return nil
}

// JobName returns the name of the job to submit, empty when the experiment
// carries no job
func (c *Config) JobName() string {
	if c.Job == nil {
		return ""
	}
	return c.Job.Name
}

// ChaosParams captures the immutable chaos snapshot handed to the reset
// monitor
func (c *Config) ChaosParams() chaos.Params {
	selector := make(map[string]string, len(c.Chaos.Selector))
	for key, value := range c.Chaos.Selector {
		selector[key] = value
	}
	return chaos.Params{
		Name:        c.Name + "-network-chaos",
		Selector:    selector,
		Latency:     c.Chaos.Latency,
		Jitter:      c.Chaos.Jitter,
		Correlation: c.Chaos.Correlation,
		Rate:        c.Chaos.Rate,
		Limit:       c.Chaos.Limit,
		Buffer:      c.Chaos.Buffer,
	}
}

// TargetSelector renders the chaos pod selector as a label-selector string
func (c *Config) TargetSelector() string {
	selector := ""
	for key, value := range c.Chaos.Selector {
		if selector != "" {
			selector += ","
		}
		selector += key + "=" + value
	}
	return selector
}
