// Package apiserver provides the HTTP + WebSocket backend of the KAOS
// dashboard. It proxies resource operations and agent chat to the cluster
// through a kube.Client that is swapped whenever the connection settings
// change.
package apiserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alexsjones/kaos-console/internal/config"
	"github.com/alexsjones/kaos-console/internal/eventbus"
	"github.com/alexsjones/kaos-console/internal/kube"
	"github.com/alexsjones/kaos-console/internal/monitor"
	"github.com/alexsjones/kaos-console/internal/observability"
	"github.com/alexsjones/kaos-console/internal/session"
)

// Options configures a Server. Only Settings is required.
type Options struct {
	Settings config.Settings
	// SettingsPath is where PUT /api/v1/settings persists. Empty keeps
	// changes in memory.
	SettingsPath string
	// Connect builds a client for a connection. Defaults to config.NewClient.
	Connect func(config.Connection) (*kube.Client, error)

	Store     session.Store
	EventBus  eventbus.EventBus
	Monitor   *monitor.Monitor
	Telemetry *observability.Telemetry
	// Static serves the web bundle on / when set.
	Static fs.FS
	Log    logr.Logger
}

// Server is the dashboard API server.
type Server struct {
	client atomic.Pointer[kube.Client]

	settingsMu   sync.Mutex
	settings     config.Settings
	settingsPath string
	connect      func(config.Connection) (*kube.Client, error)

	store     session.Store
	eventBus  eventbus.EventBus
	monitor   *monitor.Monitor
	telemetry *observability.Telemetry
	static    fs.FS
	log       logr.Logger
	upgrader  websocket.Upgrader
}

// NewServer creates a new API server connected per opts.Settings.
func NewServer(opts Options) (*Server, error) {
	s := &Server{
		settingsPath: opts.SettingsPath,
		connect:      opts.Connect,
		store:        opts.Store,
		eventBus:     opts.EventBus,
		monitor:      opts.Monitor,
		telemetry:    opts.Telemetry,
		static:       opts.Static,
		log:          opts.Log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	if s.connect == nil {
		s.connect = func(c config.Connection) (*kube.Client, error) {
			return config.NewClient(c, s.log.WithName("kube"))
		}
	}
	if s.eventBus == nil {
		s.eventBus = eventbus.NewLocalEventBus()
	}
	if s.telemetry == nil {
		s.telemetry = observability.Disabled()
	}
	if err := s.ApplySettings(opts.Settings); err != nil {
		return nil, err
	}
	return s, nil
}

// Client returns the current cluster client. Callers keep the snapshot for
// the duration of one operation.
func (s *Server) Client() *kube.Client {
	return s.client.Load()
}

// Settings returns the settings in effect.
func (s *Server) Settings() config.Settings {
	s.settingsMu.Lock()
	defer s.settingsMu.Unlock()
	return s.settings
}

// ApplySettings rebuilds the cluster client for st and swaps it in. Calls
// already in flight finish on the previous client.
func (s *Server) ApplySettings(st config.Settings) error {
	c, err := s.connect(st.Connection)
	if err != nil {
		return fmt.Errorf("connecting with new settings: %w", err)
	}
	s.settingsMu.Lock()
	s.settings = st
	s.settingsMu.Unlock()
	s.client.Store(c)
	s.log.Info("cluster connection updated", "baseUrl", c.Config().BaseURL, "namespace", c.Config().Namespace)
	return nil
}

// Handler returns the HTTP handler with every route registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Settings and status
	mux.HandleFunc("GET /api/v1/settings", s.getSettings)
	mux.HandleFunc("PUT /api/v1/settings", s.putSettings)
	mux.HandleFunc("GET /api/v1/status", s.getStatus)
	mux.HandleFunc("GET /api/v1/overview", s.getOverview)

	// KAOS custom resources
	registerCustom(mux, "modelapis", (*kube.Client).ModelAPIs, s)
	registerCustom(mux, "mcpservers", (*kube.Client).MCPServers, s)
	registerCustom(mux, "agents", (*kube.Client).Agents, s)

	// Service diagnostics
	mux.HandleFunc("GET /api/v1/modelapis/{name}/models", s.listModels)
	mux.HandleFunc("GET /api/v1/mcpservers/{name}/health", s.serviceHealth)
	mux.HandleFunc("GET /api/v1/agents/{name}/health", s.serviceHealth)
	mux.HandleFunc("GET /api/v1/agents/{name}/card", s.agentCard)

	// Core resources
	registerCore(mux, "pods", (*kube.Client).Pods, s)
	registerCore(mux, "deployments", (*kube.Client).Deployments, s)
	registerCore(mux, "services", (*kube.Client).Services, s)
	registerCore(mux, "pvcs", (*kube.Client).PersistentVolumeClaims, s)
	registerCore(mux, "configmaps", (*kube.Client).ConfigMaps, s)
	registerCore(mux, "secrets", (*kube.Client).Secrets, s)
	mux.HandleFunc("GET /api/v1/namespaces", s.listNamespaces)
	mux.HandleFunc("GET /api/v1/pods/{name}/logs", s.podLogs)
	mux.HandleFunc("PUT /api/v1/deployments/{name}/scale", s.scaleDeployment)
	mux.HandleFunc("POST /api/v1/apply", s.apply)

	// Chat
	mux.HandleFunc("POST /api/v1/agents/{name}/chat", s.chat)
	mux.HandleFunc("GET /api/v1/agents/{name}/sessions", s.listSessions)
	mux.HandleFunc("GET /api/v1/sessions/{id}", s.getSession)

	// WebSocket streaming
	mux.HandleFunc("/ws/chat", s.handleStream)

	// Health & metrics
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})
	mux.HandleFunc("/readyz", s.readyz)
	mux.Handle("/metrics", promhttp.Handler())

	if s.static != nil {
		mux.Handle("/", http.FileServerFS(s.static))
	}
	return mux
}

// Start serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Starting API server", "addr", addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if !s.Client().Configured() {
		http.Error(w, "cluster connection not configured", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "ok")
}

// errorBody is the JSON body of every error response.
type errorBody struct {
	Error  string `json:"error"`
	Status any    `json:"status,omitempty"`
}

// writeError maps err to an HTTP status: an unconfigured connection is 412,
// an API server answer keeps its status, anything else is 500.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	body := errorBody{Error: err.Error()}

	var apiErr *kube.APIError
	switch {
	case errors.Is(err, kube.ErrNotConfigured):
		code = http.StatusPreconditionFailed
	case errors.As(err, &apiErr):
		code = apiErr.StatusCode
		if st := apiErr.Status(); st != nil {
			body.Status = st
		}
	case errors.Is(err, kube.ErrUnsupportedKind), errors.Is(err, kube.ErrEmptyName), errors.Is(err, errBadRequest):
		code = http.StatusBadRequest
	case errors.Is(err, session.ErrNotFound):
		code = http.StatusNotFound
	}
	if code >= 500 {
		s.log.Error(err, "request failed", "method", r.Method, "path", r.URL.Path)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONStatus(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func namespaceParam(r *http.Request) string {
	return r.URL.Query().Get("namespace")
}

// publish sends an event and logs a failure; events are best effort.
func (s *Server) publish(ctx context.Context, topic string, meta map[string]string, data any) {
	ev, err := eventbus.NewEvent(topic, meta, data)
	if err == nil {
		err = s.eventBus.Publish(ctx, topic, ev)
	}
	if err != nil {
		s.log.V(1).Info("event not published", "topic", topic, "error", err.Error())
	}
}
