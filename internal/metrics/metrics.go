// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// KubeRequestsTotal counts every request sent to the Kubernetes API
	// server, including service-proxy calls.
	KubeRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kaos_console_kube_requests_total",
			Help: "Total number of requests sent to the Kubernetes API server",
		},
		[]string{"method", "code"},
	)

	KubeRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kaos_console_kube_request_duration_seconds",
			Help:    "Kubernetes API request latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"method"},
	)

	// CustomListFallbacks counts custom resource lists that degraded to an
	// empty result.
	CustomListFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kaos_console_custom_list_fallbacks_total",
			Help: "Custom resource list calls that returned an empty result because of a failure",
		},
		[]string{"resource", "state"},
	)

	ChatStreamsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kaos_console_chat_streams_total",
			Help: "Streaming chat completions by outcome",
		},
		[]string{"outcome"}, // done, error, canceled
	)

	ChatChunksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kaos_console_chat_chunks_total",
			Help: "Content deltas forwarded from streaming chat completions",
		},
	)

	// ClusterConnected is 1 when the last connection probe succeeded.
	ClusterConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kaos_console_cluster_connected",
			Help: "Whether the last Kubernetes API probe succeeded (1) or failed (0)",
		},
	)
)
