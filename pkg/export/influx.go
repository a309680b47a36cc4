package export

import (
	"context"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/pkg/errors"
	"github.com/streamscale/experiment-runner/pkg/experiment"
	"github.com/streamscale/experiment-runner/pkg/log"
)

// InfluxExporter persists run records to an InfluxDB bucket
type InfluxExporter struct {
	client influxdb2.Client
	org    string
	bucket string
}

// NewInfluxExporter creates the exporter, the connection is lazy
func NewInfluxExporter(url, token, org, bucket string) *InfluxExporter {
	return &InfluxExporter{
		client: influxdb2.NewClient(url, token),
		org:    org,
		bucket: bucket,
	}
}

// WriteRun writes one run summary point, called once during FINISHING
func (e *InfluxExporter) WriteRun(ctx context.Context, run *experiment.Run, config *experiment.Config) error {

	point := influxdb2.NewPoint("experiment_run",
		map[string]string{
			"experiment": run.Name,
			"type":       config.Type,
			"run_id":     run.RunID,
		},
		map[string]interface{}{
			"duration_s":    run.EndedAt.Sub(run.StartedAt).Seconds(),
			"chaos_enabled": config.Chaos.Enable,
			"generators":    len(config.Generators),
		},
		run.EndedAt)

	writeAPI := e.client.WriteAPIBlocking(e.org, e.bucket)
	if err := writeAPI.WritePoint(ctx, point); err != nil {
		return errors.Errorf("Unable to write the run record of '%s', err: %v", run.Name, err)
	}
	log.Infof("[Export]: Exported the run record of '%s' to the '%s' bucket", run.Name, e.bucket)
	return nil
}

// Close releases the underlying http resources
func (e *InfluxExporter) Close() {
	e.client.Close()
}
