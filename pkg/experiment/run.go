package experiment

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Run holds the artifacts of one experiment run, it exists from the start
// transition until the end of clean
type Run struct {
	Name      string
	RunID     string
	StartedAt time.Time
	EndedAt   time.Time
	Dir       string
}

// NewRun records the start timestamp and prepares the writable run directory
func NewRun(outputDir, name string) (*Run, error) {
	run := &Run{
		Name:      name,
		RunID:     getRunID(),
		StartedAt: time.Now(),
	}
	run.Dir = filepath.Join(outputDir, name+"-"+run.RunID)
	if err := os.MkdirAll(run.Dir, 0o755); err != nil {
		return nil, errors.Errorf("Unable to create the '%s' run directory, err: %v", run.Dir, err)
	}
	return run, nil
}

// WriteLog persists the experiment log with the serialized configuration and
// the run timestamps
func (r *Run) WriteLog(config *Config) error {

	serialized, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return errors.Errorf("Unable to serialize the configuration, err: %v", err)
	}

	var content strings.Builder
	content.WriteString("[CONFIG]\n")
	content.Write(serialized)
	content.WriteString("\n\n[TIMESTAMPS]\n")
	content.WriteString(fmt.Sprintf("start: %s\n", r.StartedAt.Format(time.RFC3339)))
	content.WriteString(fmt.Sprintf("end: %s\n", r.EndedAt.Format(time.RFC3339)))

	path := filepath.Join(r.Dir, "experiment.log")
	if err := os.WriteFile(path, []byte(content.String()), 0o644); err != nil {
		return errors.Errorf("Unable to write the '%s' experiment log, err: %v", path, err)
	}
	return nil
}

// WriteJobLogs dumps the captured job logs alongside the experiment log
func (r *Run) WriteJobLogs(logs string) error {
	path := filepath.Join(r.Dir, "job.log")
	if err := os.WriteFile(path, []byte(logs), 0o644); err != nil {
		return errors.Errorf("Unable to write the '%s' job log, err: %v", path, err)
	}
	return nil
}

// getRunID generate a random string
func getRunID() string {
	var letterRunes = []rune("abcdefghijklmnopqrstuvwxyz")
	runID := make([]rune, 6)
	for i := range runID {
		runID[i] = letterRunes[rand.Intn(len(letterRunes))]
	}
	return string(runID)
}
