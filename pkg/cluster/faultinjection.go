package cluster

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/streamscale/experiment-runner/pkg/log"
	"github.com/streamscale/experiment-runner/pkg/utils/retry"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

// NetworkChaosGVR identifies the network-chaos custom resource
var NetworkChaosGVR = schema.GroupVersionResource{
	Group:    "chaos-mesh.org",
	Version:  "v1alpha1",
	Resource: "networkchaos",
}

// CreateFaultInjection creates the network-chaos resource degrading the links
// between the pods matching the spec selector
func (c *Client) CreateFaultInjection(ctx context.Context, spec FaultInjectionSpec) error {

	selector := map[string]interface{}{}
	for key, value := range spec.Selector {
		selector[key] = value
	}

	// the action follows the configured impairment, a rate-only spec becomes a
	// bandwidth resource and never carries an empty delay block
	action := "bandwidth"
	if spec.Latency != "" {
		action = "delay"
	}
	chaosSpec := map[string]interface{}{
		"action": action,
		"mode":   "all",
		"selector": map[string]interface{}{
			"namespaces":     []interface{}{c.namespace},
			"labelSelectors": selector,
		},
	}
	if spec.Latency != "" {
		chaosSpec["delay"] = map[string]interface{}{
			"latency":     spec.Latency,
			"jitter":      spec.Jitter,
			"correlation": spec.Correlation,
		}
	}
	if spec.Rate != "" {
		chaosSpec["bandwidth"] = map[string]interface{}{
			"rate":   spec.Rate,
			"limit":  int64(spec.Limit),
			"buffer": int64(spec.Buffer),
		}
	}

	networkChaos := &unstructured.Unstructured{
		Object: map[string]interface{}{
			"apiVersion": NetworkChaosGVR.Group + "/" + NetworkChaosGVR.Version,
			"kind":       "NetworkChaos",
			"metadata": map[string]interface{}{
				"name":      spec.Name,
				"namespace": c.namespace,
			},
			"spec": chaosSpec,
		},
	}

	if _, err := c.clients.DynamicClient.Resource(NetworkChaosGVR).Namespace(c.namespace).Create(ctx, networkChaos, metav1.CreateOptions{}); err != nil {
		return errors.Errorf("fail to create the '%s' network chaos resource, err: %v", spec.Name, err)
	}
	log.InfoWithValues("[Chaos]: Created network chaos resource", map[string]interface{}{
		"Name": spec.Name, "Latency": spec.Latency, "Jitter": spec.Jitter, "Rate": spec.Rate})
	return nil
}

// DeleteFaultInjection deletes the network-chaos resource and waits until the
// deletion converges
func (c *Client) DeleteFaultInjection(ctx context.Context, name string) error {

	chaosClient := c.clients.DynamicClient.Resource(NetworkChaosGVR).Namespace(c.namespace)
	if err := chaosClient.Delete(ctx, name, metav1.DeleteOptions{}); err != nil {
		if k8serrors.IsNotFound(err) {
			return nil
		}
		return errors.Errorf("fail to delete the '%s' network chaos resource, err: %v", name, err)
	}

	// waiting for the finalizers of the chaos resource to run
	return retry.
		Times(uint(c.timeout / c.delay)).
		Wait(time.Duration(c.delay) * time.Second).
		Try(func(attempt uint) error {
			if _, err := chaosClient.Get(ctx, name, metav1.GetOptions{}); err != nil {
				if k8serrors.IsNotFound(err) {
					return nil
				}
				return errors.Errorf("fail to get the '%s' network chaos resource, err: %v", name, err)
			}
			return errors.Errorf("the '%s' network chaos resource is not deleted yet", name)
		})
}
