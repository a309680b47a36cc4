package cluster

import (
	"context"
	"testing"
	"time"

	"github.com/streamscale/experiment-runner/pkg/clients"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"
)

func newFakeClient(objects ...runtime.Object) (*Client, *fake.Clientset) {
	kubeClient := fake.NewSimpleClientset(objects...)
	client := NewClient(clients.ClientSets{KubeClient: kubeClient}, "stream", 2, 1)
	return client, kubeClient
}

func deployment(name string, replicas int32) *appsv1.Deployment {
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: "stream",
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: int32Ptr(replicas),
		},
	}
}

func TestScaleDeployment(t *testing.T) {
	client, kubeClient := newFakeClient(deployment("taskmanager", 2))

	err := client.ScaleDeployment(context.Background(), "taskmanager", 5)
	require.NoError(t, err)

	updated, err := kubeClient.AppsV1().Deployments("stream").Get(context.Background(), "taskmanager", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, int32(5), *updated.Spec.Replicas)
}

func TestScaleDeploymentMissing(t *testing.T) {
	client, _ := newFakeClient()

	err := client.ScaleDeployment(context.Background(), "taskmanager", 5)
	assert.Error(t, err)
}

func TestToScaleEvent(t *testing.T) {
	tests := []struct {
		name     string
		event    watch.Event
		expected ScaleEvent
		ok       bool
	}{
		{
			name:     "modified carries the replica count",
			event:    watch.Event{Type: watch.Modified, Object: deployment("taskmanager", 4)},
			expected: ScaleEvent{Replicas: 4},
			ok:       true,
		},
		{
			name:     "added without a replica count defaults to one",
			event:    watch.Event{Type: watch.Added, Object: &appsv1.Deployment{}},
			expected: ScaleEvent{Replicas: 1},
			ok:       true,
		},
		{
			name:     "deleted",
			event:    watch.Event{Type: watch.Deleted, Object: deployment("taskmanager", 4)},
			expected: ScaleEvent{Deleted: true},
			ok:       true,
		},
		{
			name:  "bookmark is skipped",
			event: watch.Event{Type: watch.Bookmark, Object: deployment("taskmanager", 4)},
			ok:    false,
		},
		{
			name:  "non deployment object is skipped",
			event: watch.Event{Type: watch.Modified, Object: &corev1.Pod{}},
			ok:    false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, ok := toScaleEvent(tt.event)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.expected, event)
		})
	}
}

func TestWatchDeployment(t *testing.T) {
	client, kubeClient := newFakeClient()
	watcher := watch.NewFake()
	kubeClient.PrependWatchReactor("deployments", k8stesting.DefaultWatchReactor(watcher, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := client.WatchDeployment(ctx, "taskmanager")
	require.NoError(t, err)

	go func() {
		watcher.Modify(deployment("taskmanager", 3))
		watcher.Delete(deployment("taskmanager", 3))
		watcher.Stop()
	}()

	assert.Equal(t, ScaleEvent{Replicas: 3}, <-events)
	assert.Equal(t, ScaleEvent{Deleted: true}, <-events)

	select {
	case _, open := <-events:
		assert.False(t, open, "the channel must be closed after the watch terminates")
	case <-time.After(time.Second):
		t.Fatal("the channel was not closed after the watch terminated")
	}
}

func TestApplyLoadGenerator(t *testing.T) {
	client, kubeClient := newFakeClient()

	err := client.ApplyLoadGenerator(context.Background(), GeneratorSpec{
		Name:  "kafka-feeder",
		Image: "feeder:latest",
		Args:  []string{"--rate", "1000"},
	})
	require.NoError(t, err)

	created, err := kubeClient.AppsV1().Deployments("stream").Get(context.Background(), "kafka-feeder", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, int32(1), *created.Spec.Replicas)
	assert.Equal(t, "kafka-feeder", created.Labels[generatorLabelKey])
	require.Len(t, created.Spec.Template.Spec.Containers, 1)
	assert.Equal(t, "feeder:latest", created.Spec.Template.Spec.Containers[0].Image)
}

func TestDeleteLoadGenerator(t *testing.T) {
	client, kubeClient := newFakeClient()

	require.NoError(t, client.ApplyLoadGenerator(context.Background(), GeneratorSpec{Name: "kafka-feeder", Image: "feeder:latest"}))
	require.NoError(t, client.DeleteLoadGenerator(context.Background(), "kafka-feeder"))

	_, err := kubeClient.AppsV1().Deployments("stream").Get(context.Background(), "kafka-feeder", metav1.GetOptions{})
	assert.Error(t, err)
}

func TestDeleteLoadGeneratorMissingIsIgnored(t *testing.T) {
	client, _ := newFakeClient()

	assert.NoError(t, client.DeleteLoadGenerator(context.Background(), "kafka-feeder"))
}
