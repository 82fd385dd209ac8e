package kube

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultServicePort is the port KAOS services listen on.
const DefaultServicePort = 8000

// ServiceRef addresses a Service reachable through the API server proxy.
type ServiceRef struct {
	Name string
	// Namespace defaults to the client's namespace.
	Namespace string
	// Port defaults to DefaultServicePort.
	Port int
}

// ProxyRequest describes the request forwarded to the service.
type ProxyRequest struct {
	Method string
	Header http.Header
	Body   io.Reader
}

// ServiceProxyPath builds /api/v1/namespaces/{ns}/services/{name}:{port}/proxy{path}.
// path is normalized to start with a slash.
func ServiceProxyPath(ns, name string, port int, path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return "/api/v1/namespaces/" + url.PathEscape(ns) + "/services/" +
		url.PathEscape(name) + ":" + strconv.Itoa(port) + "/proxy" + path
}

func (c *Client) proxyPath(ref ServiceRef, path string) string {
	port := ref.Port
	if port == 0 {
		port = DefaultServicePort
	}
	return ServiceProxyPath(c.namespace(ref.Namespace), ref.Name, port, path)
}

// ProxyService forwards a request to a Service through the API server proxy
// and returns the raw response, whatever its status. The body is neither
// buffered nor parsed; the caller must close it.
func (c *Client) ProxyService(ctx context.Context, ref ServiceRef, path string, preq ProxyRequest) (*http.Response, error) {
	proxyPath := c.proxyPath(ref, path)
	target, err := c.url(proxyPath)
	if err != nil {
		return nil, err
	}
	method := preq.Method
	if method == "" {
		method = http.MethodGet
	}

	ctx, span := c.tracer.Start(ctx, "kube proxy "+method, trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("kaos.service", ref.Name),
			attribute.String("url.path", path),
		))
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, method, target, preq.Body)
	if err != nil {
		return nil, fmt.Errorf("creating proxy request: %w", err)
	}
	for k, vs := range preq.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if preq.Body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	c.log.V(1).Info("service proxy request", "method", method, "service", ref.Name, "path", proxyPath)
	resp, err := c.http.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	return resp, nil
}

// proxyJSON performs a proxied request and decodes a 2xx JSON response.
func (c *Client) proxyJSON(ctx context.Context, ref ServiceRef, path string, out any) error {
	resp, err := c.ProxyService(ctx, ref, path, ProxyRequest{
		Header: http.Header{"Accept": []string{"application/json"}},
	})
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(text), Method: http.MethodGet, Path: c.proxyPath(ref, path)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response from %s: %w", ref.Name, err)
	}
	return nil
}

// HealthStatus is the outcome of a service health probe.
type HealthStatus struct {
	Healthy    bool   `json:"healthy"`
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body,omitempty"`
}

// ServiceHealth probes GET /health on a service. A non-2xx answer is
// reported as unhealthy, not as an error.
func (c *Client) ServiceHealth(ctx context.Context, ref ServiceRef) (*HealthStatus, error) {
	resp, err := c.ProxyService(ctx, ref, "/health", ProxyRequest{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	text, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &HealthStatus{
		Healthy:    resp.StatusCode >= 200 && resp.StatusCode < 300,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(text)),
	}, nil
}

// AgentSkill is one capability advertised in an agent card.
type AgentSkill struct {
	ID          string   `json:"id,omitempty"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// AgentCard is the A2A discovery document served by agents.
type AgentCard struct {
	Name         string         `json:"name"`
	Description  string         `json:"description,omitempty"`
	URL          string         `json:"url,omitempty"`
	Version      string         `json:"version,omitempty"`
	Capabilities map[string]any `json:"capabilities,omitempty"`
	Skills       []AgentSkill   `json:"skills,omitempty"`
}

// AgentCard fetches /.well-known/agent.json from an agent service.
func (c *Client) AgentCard(ctx context.Context, ref ServiceRef) (*AgentCard, error) {
	var card AgentCard
	if err := c.proxyJSON(ctx, ref, "/.well-known/agent.json", &card); err != nil {
		return nil, err
	}
	return &card, nil
}
