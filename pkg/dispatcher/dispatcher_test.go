package dispatcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/streamscale/experiment-runner/pkg/cluster"
	"github.com/streamscale/experiment-runner/pkg/experiment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTopics = Topics{
	Command: "experiment/command",
	Ack:     "experiment/ack",
	State:   "experiment/state",
}

// published is one recorded transport operation
type published struct {
	op       string
	topic    string
	payload  string
	retained bool
}

// recordingMessenger records every transport call in order
type recordingMessenger struct {
	mu      sync.Mutex
	entries []published
}

func (m *recordingMessenger) Publish(topic string, payload string, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, published{op: "publish", topic: topic, payload: payload, retained: retained})
	return nil
}

func (m *recordingMessenger) ClearRetained(topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, published{op: "clear", topic: topic})
	return nil
}

func (m *recordingMessenger) Subscribe(topic string, handler func(payload []byte)) error {
	return nil
}

func (m *recordingMessenger) recorded() []published {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]published{}, m.entries...)
}

func (m *recordingMessenger) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = nil
}

// quietCluster implements the cluster interface with no-ops and counts the
// teardown calls
type quietCluster struct {
	mu     sync.Mutex
	counts map[string]int
}

func newQuietCluster() *quietCluster {
	return &quietCluster{counts: map[string]int{}}
}

func (q *quietCluster) bump(name string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.counts[name]++
}

func (q *quietCluster) count(name string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.counts[name]
}

func (q *quietCluster) ScaleDeployment(ctx context.Context, name string, replicas int32) error {
	q.bump("ScaleDeployment")
	return nil
}

func (q *quietCluster) WatchDeployment(ctx context.Context, name string) (<-chan cluster.ScaleEvent, error) {
	q.bump("WatchDeployment")
	return make(chan cluster.ScaleEvent), nil
}

func (q *quietCluster) ApplyLoadGenerator(ctx context.Context, spec cluster.GeneratorSpec) error {
	q.bump("ApplyLoadGenerator")
	return nil
}

func (q *quietCluster) DeleteLoadGenerator(ctx context.Context, name string) error {
	q.bump("DeleteLoadGenerator")
	return nil
}

func (q *quietCluster) SubmitJob(ctx context.Context, spec cluster.JobSpec) error {
	q.bump("SubmitJob")
	return nil
}

func (q *quietCluster) GetJobStatus(ctx context.Context, name string) (cluster.JobStatus, error) {
	q.bump("GetJobStatus")
	return cluster.JobStatus{}, nil
}

func (q *quietCluster) GetJobLogs(ctx context.Context, name string) (string, error) {
	q.bump("GetJobLogs")
	return "", nil
}

func (q *quietCluster) DeleteJob(ctx context.Context, name string) error {
	q.bump("DeleteJob")
	return nil
}

func (q *quietCluster) GetNodes(ctx context.Context, labelSelector string) ([]string, error) {
	q.bump("GetNodes")
	return nil, nil
}

func (q *quietCluster) AddNodeLabel(ctx context.Context, nodes []string, key, value string) error {
	q.bump("AddNodeLabel")
	return nil
}

func (q *quietCluster) RemoveNodeLabel(ctx context.Context, nodes []string, key string) error {
	q.bump("RemoveNodeLabel")
	return nil
}

func (q *quietCluster) ListPodNodes(ctx context.Context, labelSelector string) ([]string, error) {
	q.bump("ListPodNodes")
	return nil, nil
}

func (q *quietCluster) ExecOnPod(ctx context.Context, deploymentName string, command []string) (string, error) {
	q.bump("ExecOnPod")
	return "", nil
}

func (q *quietCluster) DeletePodsByLabel(ctx context.Context, labelSelector string) error {
	q.bump("DeletePodsByLabel")
	return nil
}

func (q *quietCluster) CreateFaultInjection(ctx context.Context, spec cluster.FaultInjectionSpec) error {
	q.bump("CreateFaultInjection")
	return nil
}

func (q *quietCluster) DeleteFaultInjection(ctx context.Context, name string) error {
	q.bump("DeleteFaultInjection")
	return nil
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *recordingMessenger, *quietCluster) {
	fake := newQuietCluster()
	engine := experiment.New(experiment.Options{
		Cluster:   fake,
		OutputDir: t.TempDir(),
		// keep the background run monitor quiet during the tests
		PollInterval: time.Hour,
	})
	messenger := &recordingMessenger{}
	d := New(engine, messenger, testTopics)
	require.NoError(t, d.Start())
	messenger.reset()
	return d, messenger, fake
}

const startPayload = `{"command":"START","config":"{\"name\":\"wordcount\",\"job\":{\"name\":\"wordcount-job\",\"image\":\"flink:latest\"}}"}`

func TestStartPublishesTheRetainedState(t *testing.T) {
	engine := experiment.New(experiment.Options{Cluster: newQuietCluster(), OutputDir: t.TempDir()})
	messenger := &recordingMessenger{}

	require.NoError(t, New(engine, messenger, testTopics).Start())

	entries := messenger.recorded()
	require.Len(t, entries, 1)
	assert.Equal(t, published{op: "publish", topic: testTopics.State, payload: "IDLE", retained: true}, entries[0])
}

func TestStartWhileIdle(t *testing.T) {
	d, messenger, fake := newTestDispatcher(t)

	d.HandleMessage([]byte(startPayload))

	entries := messenger.recorded()
	require.Len(t, entries, 4)
	// ordering: clear-retained, then ack, then one publication per state change
	assert.Equal(t, published{op: "clear", topic: testTopics.Command}, entries[0])
	assert.Equal(t, published{op: "publish", topic: testTopics.Ack, payload: AckStart}, entries[1])
	assert.Equal(t, published{op: "publish", topic: testTopics.State, payload: "STARTING", retained: true}, entries[2])
	assert.Equal(t, published{op: "publish", topic: testTopics.State, payload: "RUNNING", retained: true}, entries[3])
	assert.Equal(t, 1, fake.count("SubmitJob"))
}

func TestStartWhileRunningIsRejected(t *testing.T) {
	d, messenger, fake := newTestDispatcher(t)

	d.HandleMessage([]byte(startPayload))
	messenger.reset()

	// a duplicated START is rejected by the IDLE precondition, not re-executed
	d.HandleMessage([]byte(startPayload))

	entries := messenger.recorded()
	require.Len(t, entries, 3)
	assert.Equal(t, published{op: "clear", topic: testTopics.Command}, entries[0])
	assert.Equal(t, published{op: "publish", topic: testTopics.Ack, payload: InvalidCommand}, entries[1])
	assert.Equal(t, published{op: "publish", topic: testTopics.State, payload: "RUNNING", retained: true}, entries[2])
	assert.Equal(t, 1, fake.count("SubmitJob"))
}

func TestStopWhileRunning(t *testing.T) {
	d, messenger, fake := newTestDispatcher(t)

	d.HandleMessage([]byte(startPayload))
	messenger.reset()

	d.HandleMessage([]byte(`{"command":"STOP"}`))

	entries := messenger.recorded()
	require.Len(t, entries, 4)
	assert.Equal(t, published{op: "publish", topic: testTopics.Ack, payload: AckStop}, entries[1])
	// finish chains into clean, the observer sees FINISHING and then IDLE
	assert.Equal(t, published{op: "publish", topic: testTopics.State, payload: "FINISHING", retained: true}, entries[2])
	assert.Equal(t, published{op: "publish", topic: testTopics.State, payload: "IDLE", retained: true}, entries[3])
	assert.Equal(t, 1, fake.count("DeleteJob"))
	assert.Equal(t, 1, fake.count("GetJobLogs"))
}

func TestStopWhileIdleIsRejected(t *testing.T) {
	d, messenger, _ := newTestDispatcher(t)

	d.HandleMessage([]byte(`{"command":"STOP"}`))

	entries := messenger.recorded()
	require.Len(t, entries, 3)
	assert.Equal(t, published{op: "publish", topic: testTopics.Ack, payload: InvalidCommand}, entries[1])
	assert.Equal(t, published{op: "publish", topic: testTopics.State, payload: "IDLE", retained: true}, entries[2])
}

func TestCleanWhileIdleIsANoOp(t *testing.T) {
	d, messenger, fake := newTestDispatcher(t)

	d.HandleMessage([]byte(`{"command":"CLEAN"}`))

	entries := messenger.recorded()
	require.Len(t, entries, 3)
	assert.Equal(t, published{op: "publish", topic: testTopics.Ack, payload: AckClean}, entries[1])
	assert.Equal(t, published{op: "publish", topic: testTopics.State, payload: "IDLE", retained: true}, entries[2])

	// no teardown call is made for resources that were never provisioned
	assert.Zero(t, fake.count("DeleteJob"))
	assert.Zero(t, fake.count("DeleteLoadGenerator"))
	assert.Zero(t, fake.count("DeleteFaultInjection"))
}

func TestCleanWhileRunning(t *testing.T) {
	d, messenger, fake := newTestDispatcher(t)

	d.HandleMessage([]byte(startPayload))
	messenger.reset()

	d.HandleMessage([]byte(`{"command":"CLEAN"}`))

	entries := messenger.recorded()
	require.Len(t, entries, 3)
	assert.Equal(t, published{op: "publish", topic: testTopics.State, payload: "IDLE", retained: true}, entries[2])
	assert.Equal(t, 1, fake.count("DeleteJob"))
}

func TestStartWithBadConfigIsRejected(t *testing.T) {
	d, messenger, fake := newTestDispatcher(t)

	d.HandleMessage([]byte(`{"command":"START","config":"not json"}`))

	entries := messenger.recorded()
	require.Len(t, entries, 3)
	assert.Equal(t, published{op: "publish", topic: testTopics.Ack, payload: InvalidCommand}, entries[1])
	assert.Equal(t, published{op: "publish", topic: testTopics.State, payload: "IDLE", retained: true}, entries[2])
	assert.Zero(t, fake.count("SubmitJob"))
}

func TestConcurrentCommandsAreSerialized(t *testing.T) {
	d, messenger, _ := newTestDispatcher(t)

	// the transport may deliver messages concurrently, the dispatcher mutex
	// must keep every clear/ack/state group contiguous
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.HandleMessage([]byte(`{"command":"CLEAN"}`))
		}()
	}
	wg.Wait()

	entries := messenger.recorded()
	require.Len(t, entries, 24)
	for i := 0; i < len(entries); i += 3 {
		assert.Equal(t, published{op: "clear", topic: testTopics.Command}, entries[i])
		assert.Equal(t, published{op: "publish", topic: testTopics.Ack, payload: AckClean}, entries[i+1])
		assert.Equal(t, published{op: "publish", topic: testTopics.State, payload: "IDLE", retained: true}, entries[i+2])
	}
}

func TestUnknownTokensAndJunkAreIgnored(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{name: "unknown command", payload: `{"command":"PAUSE"}`},
		{name: "missing command token", payload: `{"config":"{}"}`},
		{name: "unparseable payload", payload: `not even json`},
		{name: "retained clear echo", payload: ``},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, messenger, _ := newTestDispatcher(t)

			d.HandleMessage([]byte(tt.payload))

			assert.Empty(t, messenger.recorded())
		})
	}
}
