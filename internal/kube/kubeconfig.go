package kube

import (
	"fmt"
	"net/http"

	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// FromKubeconfig resolves a Config and an authenticated HTTP client from a
// kubeconfig file, for talking to the API server directly instead of
// through an unauthenticated tunnel. An empty path uses the default loading
// rules ($KUBECONFIG, ~/.kube/config); an empty contextName uses the
// current context.
func FromKubeconfig(path, contextName string) (Config, *http.Client, error) {
	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	if path != "" {
		loadingRules.ExplicitPath = path
	}
	overrides := &clientcmd.ConfigOverrides{CurrentContext: contextName}
	kubeConfig := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, overrides)

	restConfig, err := kubeConfig.ClientConfig()
	if err != nil {
		return Config{}, nil, fmt.Errorf("loading kubeconfig: %w", err)
	}
	namespace, _, err := kubeConfig.Namespace()
	if err != nil {
		return Config{}, nil, fmt.Errorf("resolving kubeconfig namespace: %w", err)
	}

	hc, err := rest.HTTPClientFor(restConfig)
	if err != nil {
		return Config{}, nil, fmt.Errorf("creating HTTP client from kubeconfig: %w", err)
	}

	return Config{BaseURL: restConfig.Host, Namespace: namespace}, hc, nil
}
