package cluster

import (
	"bytes"
	"context"
	"fmt"

	"github.com/pkg/errors"
	apiv1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/tools/remotecommand"
)

// ExecOnPod runs the provided command inside the first running pod of the given
// deployment and returns the captured stdout
func (c *Client) ExecOnPod(ctx context.Context, deploymentName string, command []string) (string, error) {

	deployment, err := c.clients.KubeClient.AppsV1().Deployments(c.namespace).Get(ctx, deploymentName, metav1.GetOptions{})
	if err != nil {
		return "", errors.Errorf("fail to get the '%s' deployment, err: %v", deploymentName, err)
	}
	selector := metav1.FormatLabelSelector(deployment.Spec.Selector)
	podList, err := c.clients.KubeClient.CoreV1().Pods(c.namespace).List(ctx, metav1.ListOptions{LabelSelector: selector})
	if err != nil {
		return "", errors.Errorf("fail to list the pods of the '%s' deployment, err: %v", deploymentName, err)
	}

	var target *apiv1.Pod
	for index := range podList.Items {
		if podList.Items[index].Status.Phase == apiv1.PodRunning {
			target = &podList.Items[index]
			break
		}
	}
	if target == nil {
		return "", errors.Errorf("no running pod found for the '%s' deployment", deploymentName)
	}

	req := c.clients.KubeClient.CoreV1().RESTClient().Post().
		Resource("pods").
		Name(target.Name).
		Namespace(c.namespace).
		SubResource("exec")
	scheme := runtime.NewScheme()
	if err := apiv1.AddToScheme(scheme); err != nil {
		return "", fmt.Errorf("error adding to scheme: %v", err)
	}
	parameterCodec := runtime.NewParameterCodec(scheme)
	req.VersionedParams(&apiv1.PodExecOptions{
		Command: command,
		Stdin:   false,
		Stdout:  true,
		Stderr:  true,
		TTY:     false,
	}, parameterCodec)

	exec, err := remotecommand.NewSPDYExecutor(c.clients.KubeConfig, "POST", req.URL())
	if err != nil {
		return "", fmt.Errorf("error while creating Executor: %v", err)
	}

	// storing the output inside the output buffer for future use
	var stdout, stderr bytes.Buffer
	if err := exec.StreamWithContext(ctx, remotecommand.StreamOptions{
		Stdin:  nil,
		Stdout: &stdout,
		Stderr: &stderr,
		Tty:    false,
	}); err != nil {
		return "", errors.Errorf("fail to exec inside the '%s' pod, err: %v", target.Name, err)
	}
	return stdout.String(), nil
}

// DeletePodsByLabel deletes all the pods matching the given label selector
func (c *Client) DeletePodsByLabel(ctx context.Context, labelSelector string) error {

	if err := c.clients.KubeClient.CoreV1().Pods(c.namespace).DeleteCollection(ctx, metav1.DeleteOptions{}, metav1.ListOptions{LabelSelector: labelSelector}); err != nil {
		return errors.Errorf("fail to delete the pods with '%s' selector, err: %v", labelSelector, err)
	}
	return nil
}
