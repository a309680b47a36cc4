package cluster

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/streamscale/experiment-runner/pkg/log"
	"github.com/streamscale/experiment-runner/pkg/utils/retry"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

const jobLabelKey = "job-name"

// SubmitJob creates the batch job running the stream-processing pipeline
func (c *Client) SubmitJob(ctx context.Context, spec JobSpec) error {

	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      spec.Name,
			Namespace: c.namespace,
		},
		Spec: batchv1.JobSpec{
			BackoffLimit: int32Ptr(spec.BackoffLimit),
			Template: corev1.PodTemplateSpec{
				Spec: corev1.PodSpec{
					RestartPolicy: corev1.RestartPolicyNever,
					Containers: []corev1.Container{
						{
							Name:    spec.Name,
							Image:   spec.Image,
							Command: spec.Command,
							Args:    spec.Args,
							Env:     toEnvVars(spec.Env),
						},
					},
				},
			},
		},
	}

	if _, err := c.clients.KubeClient.BatchV1().Jobs(c.namespace).Create(ctx, job, metav1.CreateOptions{}); err != nil {
		return errors.Errorf("fail to submit the '%s' job, err: %v", spec.Name, err)
	}
	log.Infof("[Cluster]: Submitted job '%s'", spec.Name)
	return nil
}

// GetJobStatus returns the status of the given job including the completion flag
func (c *Client) GetJobStatus(ctx context.Context, name string) (JobStatus, error) {

	job, err := c.clients.KubeClient.BatchV1().Jobs(c.namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return JobStatus{}, errors.Errorf("fail to get the status of the '%s' job, err: %v", name, err)
	}

	status := JobStatus{Active: job.Status.Active}
	for _, condition := range job.Status.Conditions {
		if condition.Status != corev1.ConditionTrue {
			continue
		}
		switch condition.Type {
		case batchv1.JobComplete:
			status.Complete = true
		case batchv1.JobFailed:
			status.Failed = true
		}
	}
	return status, nil
}

// GetJobLogs fetches the logs of all the pods belonging to the given job
func (c *Client) GetJobLogs(ctx context.Context, name string) (string, error) {

	podList, err := c.clients.KubeClient.CoreV1().Pods(c.namespace).List(ctx, metav1.ListOptions{LabelSelector: jobLabelKey + "=" + name})
	if err != nil {
		return "", errors.Errorf("fail to list the pods of the '%s' job, err: %v", name, err)
	}
	if len(podList.Items) == 0 {
		return "", errors.Errorf("no pods found for the '%s' job", name)
	}

	var logs strings.Builder
	for _, pod := range podList.Items {
		req := c.clients.KubeClient.CoreV1().Pods(c.namespace).GetLogs(pod.Name, &corev1.PodLogOptions{})
		stream, err := req.Stream(ctx)
		if err != nil {
			return "", errors.Errorf("fail to stream the logs of the '%s' pod, err: %v", pod.Name, err)
		}
		data, err := io.ReadAll(stream)
		stream.Close()
		if err != nil {
			return "", errors.Errorf("fail to read the logs of the '%s' pod, err: %v", pod.Name, err)
		}
		logs.Write(data)
	}
	return logs.String(), nil
}

// DeleteJob deletes the given job along with its pods and waits for the
// termination to converge
func (c *Client) DeleteJob(ctx context.Context, name string) error {

	propagation := metav1.DeletePropagationBackground
	if err := c.clients.KubeClient.BatchV1().Jobs(c.namespace).Delete(ctx, name, metav1.DeleteOptions{PropagationPolicy: &propagation}); err != nil {
		if k8serrors.IsNotFound(err) {
			return nil
		}
		return errors.Errorf("fail to delete the '%s' job, err: %v", name, err)
	}

	// waiting for the termination of the job pods
	return retry.
		Times(uint(c.timeout / c.delay)).
		Wait(time.Duration(c.delay) * time.Second).
		Try(func(attempt uint) error {
			podList, err := c.clients.KubeClient.CoreV1().Pods(c.namespace).List(ctx, metav1.ListOptions{LabelSelector: jobLabelKey + "=" + name})
			if err != nil || len(podList.Items) != 0 {
				return errors.Errorf("Unable to delete the job pods, err: %v", err)
			}
			return nil
		})
}
