package config

import (
	"github.com/go-logr/logr"

	"github.com/alexsjones/kaos-console/internal/kube"
)

// NewClient builds a client for c. A base URL is used as is; otherwise a
// kubeconfig path or context selects a cluster through client-go. With
// neither, the client is unconfigured and every call returns
// kube.ErrNotConfigured.
func NewClient(c Connection, log logr.Logger) (*kube.Client, error) {
	if c.BaseURL != "" || (c.Kubeconfig == "" && c.Context == "") {
		return kube.New(c.Kube(), kube.WithLogger(log)), nil
	}
	cfg, hc, err := kube.FromKubeconfig(c.Kubeconfig, c.Context)
	if err != nil {
		return nil, err
	}
	if c.Namespace != "" && c.Namespace != kube.DefaultNamespace {
		cfg.Namespace = c.Namespace
	}
	return kube.New(cfg, kube.WithHTTPClient(hc), kube.WithLogger(log)), nil
}
