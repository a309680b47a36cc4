package cluster

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/streamscale/experiment-runner/pkg/log"
	"github.com/streamscale/experiment-runner/pkg/utils/retry"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/fields"
	"k8s.io/apimachinery/pkg/watch"
	retries "k8s.io/client-go/util/retry"
)

const generatorLabelKey = "streamscale.io/load-generator"

// ScaleDeployment updates the replica count of the given deployment
func (c *Client) ScaleDeployment(ctx context.Context, name string, replicas int32) error {

	deploymentClient := c.clients.KubeClient.AppsV1().Deployments(c.namespace)

	// Retrieve the latest version of the deployment before attempting update
	// RetryOnConflict uses exponential backoff to avoid exhausting the apiserver
	retryErr := retries.RetryOnConflict(retries.DefaultRetry, func() error {
		deployment, err := deploymentClient.Get(ctx, name, metav1.GetOptions{})
		if err != nil {
			return errors.Errorf("fail to get latest version of the deployment, err: %v", err)
		}
		deployment.Spec.Replicas = int32Ptr(replicas)
		_, err = deploymentClient.Update(ctx, deployment, metav1.UpdateOptions{})
		return err
	})
	if retryErr != nil {
		return errors.Errorf("fail to update the replica count of the '%s' deployment, err: %v", name, retryErr)
	}
	log.Infof("[Cluster]: Updated deployment '%s' to number of replicas '%d'", name, replicas)
	return nil
}

// WatchDeployment opens a long-lived watch on the given deployment and converts
// the raw watch events into replica-count observations. The returned channel is
// closed when the watch terminates or ctx is cancelled.
func (c *Client) WatchDeployment(ctx context.Context, name string) (<-chan ScaleEvent, error) {

	watcher, err := c.clients.KubeClient.AppsV1().Deployments(c.namespace).Watch(ctx, metav1.ListOptions{
		FieldSelector: fields.OneTermEqualSelector("metadata.name", name).String(),
	})
	if err != nil {
		return nil, errors.Errorf("fail to watch the '%s' deployment, err: %v", name, err)
	}

	events := make(chan ScaleEvent)
	go func() {
		defer close(events)
		defer watcher.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.ResultChan():
				if !ok {
					return
				}
				scaleEvent, ok := toScaleEvent(event)
				if !ok {
					continue
				}
				select {
				case events <- scaleEvent:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return events, nil
}

func toScaleEvent(event watch.Event) (ScaleEvent, bool) {
	deployment, ok := event.Object.(*appsv1.Deployment)
	if !ok {
		return ScaleEvent{}, false
	}
	switch event.Type {
	case watch.Deleted:
		return ScaleEvent{Deleted: true}, true
	case watch.Added, watch.Modified:
		replicas := int32(1)
		if deployment.Spec.Replicas != nil {
			replicas = *deployment.Spec.Replicas
		}
		return ScaleEvent{Replicas: replicas}, true
	}
	return ScaleEvent{}, false
}

// ApplyLoadGenerator creates the deployment for one load generator
func (c *Client) ApplyLoadGenerator(ctx context.Context, spec GeneratorSpec) error {

	replicas := spec.Replicas
	if replicas == 0 {
		replicas = 1
	}
	labels := map[string]string{generatorLabelKey: spec.Name}

	deployment := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      spec.Name,
			Namespace: c.namespace,
			Labels:    labels,
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: int32Ptr(replicas),
			Selector: &metav1.LabelSelector{MatchLabels: labels},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{
						{
							Name:  spec.Name,
							Image: spec.Image,
							Args:  spec.Args,
							Env:   toEnvVars(spec.Env),
						},
					},
				},
			},
		},
	}

	if _, err := c.clients.KubeClient.AppsV1().Deployments(c.namespace).Create(ctx, deployment, metav1.CreateOptions{}); err != nil {
		return errors.Errorf("fail to create the '%s' load generator, err: %v", spec.Name, err)
	}
	log.Infof("[Cluster]: Created load generator '%s' with '%d' replicas", spec.Name, replicas)
	return nil
}

// DeleteLoadGenerator deletes the load generator deployment and waits until its
// pods are gone
func (c *Client) DeleteLoadGenerator(ctx context.Context, name string) error {

	if err := c.clients.KubeClient.AppsV1().Deployments(c.namespace).Delete(ctx, name, metav1.DeleteOptions{}); err != nil {
		if k8serrors.IsNotFound(err) {
			return nil
		}
		return errors.Errorf("fail to delete the '%s' load generator, err: %v", name, err)
	}

	// waiting for the termination of the generator pods
	return retry.
		Times(uint(c.timeout / c.delay)).
		Wait(time.Duration(c.delay) * time.Second).
		Try(func(attempt uint) error {
			podList, err := c.clients.KubeClient.CoreV1().Pods(c.namespace).List(ctx, metav1.ListOptions{LabelSelector: generatorLabelKey + "=" + name})
			if err != nil || len(podList.Items) != 0 {
				return errors.Errorf("Unable to delete the load generator pods, err: %v", err)
			}
			return nil
		})
}

func toEnvVars(env map[string]string) []corev1.EnvVar {
	envVars := []corev1.EnvVar{}
	for name, value := range env {
		envVars = append(envVars, corev1.EnvVar{Name: name, Value: value})
	}
	return envVars
}

func int32Ptr(i int32) *int32 { return &i }
