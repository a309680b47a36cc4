package cluster

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/streamscale/experiment-runner/pkg/log"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	k8stypes "k8s.io/apimachinery/pkg/types"
)

// GetNodes returns the names of the nodes matching the given label selector
func (c *Client) GetNodes(ctx context.Context, labelSelector string) ([]string, error) {

	nodeList, err := c.clients.KubeClient.CoreV1().Nodes().List(ctx, metav1.ListOptions{LabelSelector: labelSelector})
	if err != nil {
		return nil, errors.Errorf("fail to list the nodes with '%s' selector, err: %v", labelSelector, err)
	}
	nodes := []string{}
	for _, node := range nodeList.Items {
		nodes = append(nodes, node.Name)
	}
	return nodes, nil
}

// AddNodeLabel applies the given label on all the specified nodes
func (c *Client) AddNodeLabel(ctx context.Context, nodes []string, key, value string) error {

	patch := nodeLabelPatch(key, &value)
	for _, node := range nodes {
		if _, err := c.clients.KubeClient.CoreV1().Nodes().Patch(ctx, node, k8stypes.MergePatchType, patch, metav1.PatchOptions{}); err != nil {
			return errors.Errorf("fail to label the '%s' node, err: %v", node, err)
		}
	}
	log.InfoWithValues("[Cluster]: Applied node label", map[string]interface{}{
		"Label": key + "=" + value, "Nodes": nodes})
	return nil
}

// RemoveNodeLabel removes the given label key from all the specified nodes
func (c *Client) RemoveNodeLabel(ctx context.Context, nodes []string, key string) error {

	patch := nodeLabelPatch(key, nil)
	for _, node := range nodes {
		if _, err := c.clients.KubeClient.CoreV1().Nodes().Patch(ctx, node, k8stypes.MergePatchType, patch, metav1.PatchOptions{}); err != nil {
			return errors.Errorf("fail to remove the label from the '%s' node, err: %v", node, err)
		}
	}
	return nil
}

// ListPodNodes returns the set of nodes hosting the pods matching the given
// label selector, it always lists the live cluster objects
func (c *Client) ListPodNodes(ctx context.Context, labelSelector string) ([]string, error) {

	podList, err := c.clients.KubeClient.CoreV1().Pods(c.namespace).List(ctx, metav1.ListOptions{LabelSelector: labelSelector})
	if err != nil {
		return nil, errors.Errorf("fail to list the pods with '%s' selector, err: %v", labelSelector, err)
	}
	seen := map[string]bool{}
	nodes := []string{}
	for _, pod := range podList.Items {
		if pod.Spec.NodeName == "" || seen[pod.Spec.NodeName] {
			continue
		}
		seen[pod.Spec.NodeName] = true
		nodes = append(nodes, pod.Spec.NodeName)
	}
	return nodes, nil
}

// a nil value deletes the label key from the node
func nodeLabelPatch(key string, value *string) []byte {
	labels := map[string]interface{}{key: nil}
	if value != nil {
		labels[key] = *value
	}
	patch, _ := json.Marshal(map[string]interface{}{
		"metadata": map[string]interface{}{"labels": labels},
	})
	return patch
}
