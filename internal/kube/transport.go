package kube

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alexsjones/kaos-console/internal/metrics"
)

// Headers that make public HTTP tunnels (ngrok, localtunnel) pass requests
// straight through instead of serving an interstitial page.
const (
	HeaderNgrokSkipWarning = "ngrok-skip-browser-warning"
	HeaderBypassTunnel     = "bypass-tunnel-reminder"
)

type tunnelTransport struct {
	base http.RoundTripper
}

func (t *tunnelTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Header.Set(HeaderNgrokSkipWarning, "1")
	r.Header.Set(HeaderBypassTunnel, "1")
	return t.base.RoundTrip(r)
}

// NewTransport wraps base so that every request carries the tunnel bypass
// headers and is recorded in the request metrics.
func NewTransport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	var rt http.RoundTripper = &tunnelTransport{base: base}
	rt = promhttp.InstrumentRoundTripperCounter(metrics.KubeRequestsTotal, rt)
	rt = promhttp.InstrumentRoundTripperDuration(metrics.KubeRequestDuration, rt)
	return rt
}
