package events

import (
	"context"
	"time"

	"github.com/streamscale/experiment-runner/pkg/clients"
	apiv1 "k8s.io/api/core/v1"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// Recorder creates kubernetes events for experiment lifecycle transitions so
// the phases are auditable cluster-side
type Recorder struct {
	clients   clients.ClientSets
	namespace string
	podName   string
}

// NewRecorder creates the recorder, podName identifies the runner pod the
// events are attached to
func NewRecorder(clientSets clients.ClientSets, namespace, podName string) *Recorder {
	return &Recorder{
		clients:   clientSets,
		namespace: namespace,
		podName:   podName,
	}
}

// Record create the event for the given transition, or bump its count if it
// already exists
func (r *Recorder) Record(reason, message string) error {

	eventsClient := r.clients.KubeClient.CoreV1().Events(r.namespace)
	name := "experiment-" + reason

	event, err := eventsClient.Get(context.Background(), name, metav1.GetOptions{})
	if err != nil {
		if !k8serrors.IsNotFound(err) {
			return err
		}
		event = &apiv1.Event{
			ObjectMeta: metav1.ObjectMeta{
				Name:      name,
				Namespace: r.namespace,
			},
			Source: apiv1.EventSource{
				Component: "experiment-runner",
			},
			Message:        message,
			Reason:         reason,
			Type:           "Normal",
			Count:          1,
			FirstTimestamp: metav1.Time{Time: time.Now()},
			LastTimestamp:  metav1.Time{Time: time.Now()},
			InvolvedObject: apiv1.ObjectReference{
				APIVersion: "v1",
				Kind:       "Pod",
				Name:       r.podName,
				Namespace:  r.namespace,
			},
		}
		_, err = eventsClient.Create(context.Background(), event, metav1.CreateOptions{})
		return err
	}

	event.Count = event.Count + 1
	event.Message = message
	event.LastTimestamp = metav1.Time{Time: time.Now()}
	_, err = eventsClient.Update(context.Background(), event, metav1.UpdateOptions{})
	return err
}
