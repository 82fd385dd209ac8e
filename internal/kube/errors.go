package kube

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// ErrNotConfigured is returned by every call made while the client has no
// base URL. No network call is attempted.
var ErrNotConfigured = errors.New("kubernetes API base URL is not configured")

// ErrEmptyName is returned before any I/O when an operation on a single
// object is given no name.
var ErrEmptyName = errors.New("resource name may not be empty")

// ErrUnsupportedKind is returned when an object's kind has no typed mapping.
var ErrUnsupportedKind = errors.New("unsupported resource kind")

// APIError is a non-2xx response from the API server or from a proxied service.
// Body is kept as raw text: tunnels in front of the cluster often answer
// with HTML error pages.
type APIError struct {
	StatusCode int
	Body       string
	Method     string
	Path       string
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		body = http.StatusText(e.StatusCode)
	}
	if e.Path == "" {
		return fmt.Sprintf("kubernetes API error (HTTP %d): %s", e.StatusCode, body)
	}
	return fmt.Sprintf("kubernetes API error (HTTP %d) on %s %s: %s", e.StatusCode, e.Method, e.Path, body)
}

// Status decodes the body as a Kubernetes Status object. It returns nil when
// the body is not one.
func (e *APIError) Status() *metav1.Status {
	var st metav1.Status
	if err := json.Unmarshal([]byte(e.Body), &st); err != nil || st.Kind != "Status" {
		return nil
	}
	return &st
}

// IsStatus reports whether err is an APIError with the given HTTP status.
func IsStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

// IsNotFound reports whether err is a 404 from the API server.
func IsNotFound(err error) bool {
	return IsStatus(err, http.StatusNotFound)
}

// IsConflict reports whether err is a 409 from the API server.
func IsConflict(err error) bool {
	return IsStatus(err, http.StatusConflict)
}
