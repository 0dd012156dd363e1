package startup

import (
	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"
)

// LoadKubernetesClient builds a client from kubeconfig, or from the default loading rules
// ($KUBECONFIG, then ~/.kube/config) when kubeconfig is empty.
func LoadKubernetesClient(kubeconfig string) (kubernetes.Interface, error) {
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if kubeconfig != "" {
		path, err := homedir.Expand(kubeconfig)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		rules.ExplicitPath = path
	}
	overrides := &clientcmd.ConfigOverrides{}
	config, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides).ClientConfig()
	if err != nil {
		return nil, errors.WithMessage(err, "error creating kubernetes client config")
	}
	return kubernetes.NewForConfig(config)
}
