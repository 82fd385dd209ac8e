package kube

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	autoscalingv1 "k8s.io/api/autoscaling/v1"
)

func TestScaleDeployment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/apis/apps/v1/namespaces/demo/deployments/agent-echo/scale", r.URL.Path)
		var in autoscalingv1.Scale
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		in.Status.Replicas = in.Spec.Replicas
		_ = json.NewEncoder(w).Encode(in)
	}))
	defer srv.Close()

	out, err := New(Config{BaseURL: srv.URL, Namespace: "demo"}).ScaleDeployment(context.Background(), "agent-echo", "", 3)
	require.NoError(t, err)
	assert.Equal(t, int32(3), out.Spec.Replicas)
	assert.Equal(t, int32(3), out.Status.Replicas)
}

func TestServerVersion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/version", r.URL.Path)
		_, _ = io.WriteString(w, `{"major":"1","minor":"31","gitVersion":"v1.31.2"}`)
	}))
	defer srv.Close()

	info, err := New(Config{BaseURL: srv.URL}).ServerVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "v1.31.2", info.GitVersion)
}

func TestStreamPodLogs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/namespaces/demo/pods/agent-0/log", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("follow"))
		assert.Equal(t, "true", r.URL.Query().Get("timestamps"))
		_, _ = io.WriteString(w, "line one\nline two\n")
	}))
	defer srv.Close()

	rc, err := New(Config{BaseURL: srv.URL, Namespace: "demo"}).
		StreamPodLogs(context.Background(), "agent-0", "", LogOptions{Timestamps: true})
	require.NoError(t, err)
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two\n", string(data))
}

func TestPodLogs_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"kind":"Status","status":"Failure","reason":"NotFound","code":404,"message":"pods \"x\" not found"}`)
	}))
	defer srv.Close()

	_, err := New(Config{BaseURL: srv.URL}).PodLogs(context.Background(), "x", "", LogOptions{})
	require.True(t, IsNotFound(err))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "NotFound", string(apiErr.Status().Reason))
}
