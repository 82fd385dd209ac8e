// Package kube is a thin client for the Kubernetes REST API as seen through
// a public tunnel or `kubectl proxy`. It offers typed CRUD for the KAOS custom
// resources and the built-in objects around them, a passthrough to the API
// server's service proxy, and a streaming chat-completion helper on top of it.
package kube

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultNamespace is used when neither the call nor the Config names one.
const DefaultNamespace = "default"

// Config is the connection configuration.
type Config struct {
	// BaseURL is the API server (or tunnel) URL, e.g. https://abc.ngrok.app.
	BaseURL string `json:"baseUrl" toml:"base_url"`
	// Namespace is used by every call that does not name one.
	Namespace string `json:"namespace" toml:"namespace"`
}

// Client talks to one API server. It is safe for concurrent use; its
// configuration is fixed at construction.
type Client struct {
	cfg    Config
	http   *http.Client
	log    logr.Logger
	tracer trace.Tracer
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient uses hc for all requests. Its transport is wrapped with the
// tunnel headers; hc itself is not modified.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		cp := *hc
		cp.Transport = NewTransport(hc.Transport)
		c.http = &cp
	}
}

// WithLogger sets the logger.
func WithLogger(log logr.Logger) Option {
	return func(c *Client) { c.log = log }
}

// New creates a Client for cfg.
func New(cfg Config, opts ...Option) *Client {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultNamespace
	}
	c := &Client{
		cfg:    cfg,
		http:   &http.Client{Transport: NewTransport(nil)},
		log:    logr.Discard(),
		tracer: otel.Tracer("kaos-console/kube"),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Config returns the connection configuration.
func (c *Client) Config() Config {
	return c.cfg
}

// Configured reports whether the client has a base URL.
func (c *Client) Configured() bool {
	return c.cfg.BaseURL != ""
}

func (c *Client) namespace(ns string) string {
	if ns != "" {
		return ns
	}
	return c.cfg.Namespace
}

func (c *Client) url(path string) (string, error) {
	if c.cfg.BaseURL == "" {
		return "", ErrNotConfigured
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.cfg.BaseURL + path, nil
}

// send performs one request and returns the response when it is 2xx. The
// caller closes the body. A non-2xx response is consumed and returned as an
// *APIError.
func (c *Client) send(ctx context.Context, method, path string, body any) (*http.Response, error) {
	target, err := c.url(path)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshalling request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	ctx, span := c.tracer.Start(ctx, "kube "+method, trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.path", path),
		))
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.log.V(1).Info("kubernetes request", "method", method, "path", path)
	resp, err := c.http.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer func() { _ = resp.Body.Close() }()
		text, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(text), Method: method, Path: path}
		span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
		return nil, apiErr
	}
	return resp, nil
}

// do sends a request and decodes the JSON response into out. A nil out
// discards the body.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.send(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response from %s: %w", path, err)
	}
	return nil
}
