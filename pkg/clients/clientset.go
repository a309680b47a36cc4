package clients

import (
	"github.com/pkg/errors"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// ClientSets is a collection of clientSets and kubeConfig needed
type ClientSets struct {
	KubeClient    kubernetes.Interface
	DynamicClient dynamic.Interface
	KubeConfig    *rest.Config
}

// GenerateClientSetFromKubeConfig will generate the k8s and dynamic clientsets
// as well as the KubeConfig. It uses the in-cluster config if kubeconfig path
// is not specified.
func (clientSets *ClientSets) GenerateClientSetFromKubeConfig(kubeconfig string) error {

	config, err := clientcmd.BuildConfigFromFlags("", kubeconfig)
	if err != nil {
		return errors.Wrapf(err, "Unable to build the kubeconfig, err: %v", err)
	}
	k8sClientSet, err := kubernetes.NewForConfig(config)
	if err != nil {
		return errors.Wrapf(err, "Unable to generate kubernetes clientSet, err: %v", err)
	}
	dynamicClientSet, err := dynamic.NewForConfig(config)
	if err != nil {
		return errors.Wrapf(err, "Unable to generate dynamic clientSet, err: %v", err)
	}
	clientSets.KubeClient = k8sClientSet
	clientSets.DynamicClient = dynamicClientSet
	clientSets.KubeConfig = config
	return nil
}
