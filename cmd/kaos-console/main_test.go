package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	corev1 "k8s.io/api/core/v1"

	"github.com/alexsjones/kaos-console/internal/config"
	"github.com/alexsjones/kaos-console/internal/kube"
)

const kaosPath = "/apis/kaos.tools/v1alpha1/namespaces/default"

func run(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv(config.EnvBaseURL, "")
	t.Setenv(config.EnvNamespace, "")
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--config", filepath.Join(t.TempDir(), "config.toml")}, args...))
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func fakeKube(t *testing.T, routes map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	for pattern, h := range routes {
		mux.HandleFunc(pattern, h)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func respond(code int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_, _ = io.WriteString(w, body)
	}
}

func TestUnsupportedOutputFormat(t *testing.T) {
	_, _, err := run(t, "", "-o", "xml", "version")
	if err == nil || !strings.Contains(err.Error(), "unsupported output format") {
		t.Fatalf("expected output format error, got %v", err)
	}
}

func TestVersion(t *testing.T) {
	out, _, err := run(t, "", "version")
	if err != nil {
		t.Fatal(err)
	}
	if out != "kaos-console dev\n" {
		t.Errorf("unexpected version output %q", out)
	}
}

func TestNotConfigured(t *testing.T) {
	_, _, err := run(t, "", "agents", "list")
	if !errors.Is(err, kube.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestAgentsList(t *testing.T) {
	srv := fakeKube(t, map[string]http.HandlerFunc{
		"GET " + kaosPath + "/agents": respond(http.StatusOK, `{"items":[
			{"metadata":{"name":"researcher"},"spec":{"modelAPI":"llm","mcpServers":["search","fetch"]},"status":{"ready":true,"phase":"Ready"}}]}`),
	})

	out, _, err := run(t, "", "--base-url", srv.URL, "agents", "list")
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header and one row, got %q", out)
	}
	if !strings.HasPrefix(lines[0], "NAME") {
		t.Errorf("missing header: %q", lines[0])
	}
	for _, want := range []string{"researcher", "llm", "search,fetch", "True", "Ready"} {
		if !strings.Contains(lines[1], want) {
			t.Errorf("row %q does not contain %q", lines[1], want)
		}
	}
}

func TestModelAPIsListNotInstalled(t *testing.T) {
	srv := fakeKube(t, nil)

	out, errOut, err := run(t, "", "--base-url", srv.URL, "-o", "json", "modelapis", "list")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != "[]" {
		t.Errorf("expected an empty JSON list, got %q", out)
	}
	if !strings.Contains(errOut, "not installed") {
		t.Errorf("expected a not installed warning, got %q", errOut)
	}
}

func TestAgentsGetJSON(t *testing.T) {
	srv := fakeKube(t, map[string]http.HandlerFunc{
		"GET /apis/kaos.tools/v1alpha1/namespaces/team/agents/a1": respond(http.StatusOK,
			`{"apiVersion":"kaos.tools/v1alpha1","kind":"Agent","metadata":{"name":"a1","namespace":"team"},"spec":{"modelAPI":"llm"}}`),
	})

	out, _, err := run(t, "", "--base-url", srv.URL, "-n", "team", "-o", "json", "agents", "get", "a1")
	if err != nil {
		t.Fatal(err)
	}
	var got struct {
		Metadata struct {
			Name      string `json:"name"`
			Namespace string `json:"namespace"`
		} `json:"metadata"`
		Spec struct {
			ModelAPI string `json:"modelAPI"`
		} `json:"spec"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if got.Metadata.Name != "a1" || got.Metadata.Namespace != "team" || got.Spec.ModelAPI != "llm" {
		t.Errorf("unexpected agent %+v", got)
	}
}

func TestApplyFromStdin(t *testing.T) {
	srv := fakeKube(t, map[string]http.HandlerFunc{
		"GET " + kaosPath + "/modelapis/llm": respond(http.StatusNotFound, `{"kind":"Status","reason":"NotFound","code":404}`),
		"POST " + kaosPath + "/modelapis": func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write(body)
		},
		"GET /api/v1/namespaces/default/configmaps/cfg": respond(http.StatusOK,
			`{"metadata":{"name":"cfg","namespace":"default","resourceVersion":"7"}}`),
		"PUT /api/v1/namespaces/default/configmaps/cfg": func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			_, _ = w.Write(body)
		},
	})
	manifest := `apiVersion: kaos.tools/v1alpha1
kind: ModelAPI
metadata:
  name: llm
spec:
  mode: Proxy
---
apiVersion: v1
kind: ConfigMap
metadata:
  name: cfg
data:
  a: b
`
	out, _, err := run(t, manifest, "--base-url", srv.URL, "apply", "-f", "-")
	if err != nil {
		t.Fatal(err)
	}
	want := "modelapi/llm created\nconfigmap/cfg configured\n"
	if out != want {
		t.Errorf("got %q, want %q", out, want)
	}
}

func TestConfigSetAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	if _, _, err := run(t, "", "--config", path, "config", "set", "base_url", "https://abc.example/"); err != nil {
		t.Fatal(err)
	}
	st, err := config.LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if st.Connection.BaseURL != "https://abc.example" {
		t.Errorf("base URL not saved: %q", st.Connection.BaseURL)
	}

	out, _, err := run(t, "", "--config", path, "-n", "team", "-o", "json", "config", "show")
	if err != nil {
		t.Fatal(err)
	}
	var shown config.Settings
	if err := json.Unmarshal([]byte(out), &shown); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if shown.Connection.BaseURL != "https://abc.example" || shown.Connection.Namespace != "team" {
		t.Errorf("unexpected connection %+v", shown.Connection)
	}

	if _, _, err := run(t, "", "--config", path, "config", "set", "nope", "x"); err == nil {
		t.Error("expected an error for an unknown key")
	}
}

func TestChat(t *testing.T) {
	srv := fakeKube(t, map[string]http.HandlerFunc{
		"POST /api/v1/namespaces/default/services/helper:8000/proxy/v1/chat/completions": func(w http.ResponseWriter, r *http.Request) {
			var req kube.ChatRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			if len(req.Messages) != 1 || req.Messages[0].Content != "hello there" {
				http.Error(w, "unexpected request", http.StatusBadRequest)
				return
			}
			w.Header().Set("Content-Type", "text/event-stream")
			_, _ = io.WriteString(w, "data: {\"session_id\":\"s1\",\"progress\":{\"step\":1,\"max_steps\":3,\"action\":\"tool_call\",\"target\":\"search\"}}\n\n")
			_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n\n")
			_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"!\"}}]}\n\n")
			_, _ = io.WriteString(w, "data: [DONE]\n\n")
		},
	})

	out, errOut, err := run(t, "", "--base-url", srv.URL, "chat", "helper", "hello", "there")
	if err != nil {
		t.Fatal(err)
	}
	if out != "Hi!\n" {
		t.Errorf("unexpected reply %q", out)
	}
	if !strings.Contains(errOut, "[1/3] tool_call search") {
		t.Errorf("missing progress in %q", errOut)
	}
	if !strings.Contains(errOut, "session: s1") {
		t.Errorf("missing session id in %q", errOut)
	}
}

func TestChatUpstreamError(t *testing.T) {
	srv := fakeKube(t, map[string]http.HandlerFunc{
		"POST /api/v1/namespaces/default/services/helper:9000/proxy/v1/chat/completions": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
		},
	})

	_, _, err := run(t, "", "--base-url", srv.URL, "chat", "helper", "hi", "--port", "9000")
	var streamErr *kube.ChatStreamError
	if !errors.As(err, &streamErr) || streamErr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected a 503 ChatStreamError, got %v", err)
	}
}

func TestOverride(t *testing.T) {
	tests := []struct {
		name string
		opts rootOptions
		in   config.Connection
		want config.Connection
	}{
		{
			name: "no flags",
			in:   config.Connection{BaseURL: "https://file", Namespace: "default"},
			want: config.Connection{BaseURL: "https://file", Namespace: "default"},
		},
		{
			name: "base url and namespace",
			opts: rootOptions{baseURL: "https://flag", namespace: "team"},
			in:   config.Connection{BaseURL: "https://file", Namespace: "default"},
			want: config.Connection{BaseURL: "https://flag", Namespace: "team"},
		},
		{
			name: "context drops the file base url",
			opts: rootOptions{context: "kind-kaos"},
			in:   config.Connection{BaseURL: "https://file", Namespace: "default"},
			want: config.Connection{Context: "kind-kaos", Namespace: "default"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := tt.in
			tt.opts.override(&c)
			if c != tt.want {
				t.Errorf("got %+v, want %+v", c, tt.want)
			}
		})
	}
}

func TestPodRow(t *testing.T) {
	pod := &corev1.Pod{
		Spec: corev1.PodSpec{Containers: []corev1.Container{{Name: "agent"}, {Name: "sidecar"}}},
		Status: corev1.PodStatus{
			Phase: corev1.PodRunning,
			ContainerStatuses: []corev1.ContainerStatus{
				{Name: "agent", Ready: true, RestartCount: 2},
				{Name: "sidecar", RestartCount: 1, State: corev1.ContainerState{
					Waiting: &corev1.ContainerStateWaiting{Reason: "CrashLoopBackOff"},
				}},
			},
		},
	}
	pod.Name = "agent-0"
	got := podRow(pod)
	want := []string{"agent-0", "1/2", "CrashLoopBackOff", "3", "<unknown>"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestProgressText(t *testing.T) {
	tests := []struct {
		p    kube.Progress
		want string
	}{
		{kube.Progress{Step: 1, Action: "thinking"}, "[1] thinking"},
		{kube.Progress{Step: 2, MaxSteps: 5, Action: "tool_call", Target: "search"}, "[2/5] tool_call search"},
	}
	for _, tt := range tests {
		if got := progressText(tt.p); got != tt.want {
			t.Errorf("progressText(%+v) = %q, want %q", tt.p, got, tt.want)
		}
	}
}
