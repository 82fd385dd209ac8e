package apiserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alexsjones/kaos-console/internal/config"
	"github.com/alexsjones/kaos-console/internal/kube"
	"github.com/alexsjones/kaos-console/internal/monitor"
)

func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Settings().Connection)
}

func (s *Server) putSettings(w http.ResponseWriter, r *http.Request) {
	var conn config.Connection
	if err := json.NewDecoder(r.Body).Decode(&conn); err != nil {
		s.writeError(w, r, badRequest("invalid JSON: %v", err))
		return
	}
	conn.BaseURL = strings.TrimRight(strings.TrimSpace(conn.BaseURL), "/")
	conn.Namespace = strings.TrimSpace(conn.Namespace)
	if conn.Namespace == "" {
		conn.Namespace = kube.DefaultNamespace
	}
	if conn.BaseURL != "" {
		u, err := url.Parse(conn.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			s.writeError(w, r, badRequest("baseUrl must be an http or https URL"))
			return
		}
	}

	st := s.Settings()
	st.Connection = conn
	if err := s.ApplySettings(st); err != nil {
		s.writeError(w, r, badRequest("%v", err))
		return
	}
	if s.settingsPath != "" {
		if err := config.Save(s.settingsPath, st); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	if s.monitor != nil {
		go s.monitor.Check(context.WithoutCancel(r.Context()))
	}
	writeJSON(w, conn)
}

type statusResponse struct {
	Configured bool          `json:"configured"`
	BaseURL    string        `json:"baseUrl"`
	Namespace  string        `json:"namespace"`
	Connection monitor.State `json:"connection"`
}

// getStatus reports the connection. Without a background monitor it probes
// on demand.
func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	c := s.Client()
	resp := statusResponse{
		Configured: c.Configured(),
		BaseURL:    c.Config().BaseURL,
		Namespace:  c.Config().Namespace,
	}
	if s.monitor != nil {
		resp.Connection = s.monitor.State()
	} else {
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()
		resp.Connection = monitor.Probe(ctx, c)
	}
	writeJSON(w, resp)
}

// kindSummary counts one kind for the overview.
type kindSummary struct {
	Count int    `json:"count"`
	Ready *int   `json:"ready,omitempty"`
	State string `json:"state,omitempty"`
	Error string `json:"error,omitempty"`
}

// getOverview counts every kind concurrently. A failing kind is reported in
// its entry instead of failing the response.
func (s *Server) getOverview(w http.ResponseWriter, r *http.Request) {
	c := s.Client()
	if !c.Configured() {
		s.writeError(w, r, kube.ErrNotConfigured)
		return
	}
	ns := namespaceParam(r)

	var mu sync.Mutex
	out := map[string]kindSummary{}
	set := func(kind string, k kindSummary) {
		mu.Lock()
		out[kind] = k
		mu.Unlock()
	}

	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		l := c.ListModelAPIs(ctx, ns)
		ready := 0
		for _, m := range l.Items {
			if m.Status.Ready {
				ready++
			}
		}
		set("modelapis", customSummary(len(l.Items), ready, l.State, l.Err))
		return nil
	})
	g.Go(func() error {
		l := c.ListMCPServers(ctx, ns)
		ready := 0
		for _, m := range l.Items {
			if m.Status.Ready {
				ready++
			}
		}
		set("mcpservers", customSummary(len(l.Items), ready, l.State, l.Err))
		return nil
	})
	g.Go(func() error {
		l := c.ListAgents(ctx, ns)
		ready := 0
		for _, a := range l.Items {
			if a.Status.Ready {
				ready++
			}
		}
		set("agents", customSummary(len(l.Items), ready, l.State, l.Err))
		return nil
	})
	g.Go(func() error {
		pods, err := c.Pods().List(ctx, ns)
		set("pods", coreSummary(len(pods), err))
		return nil
	})
	g.Go(func() error {
		deps, err := c.Deployments().List(ctx, ns)
		set("deployments", coreSummary(len(deps), err))
		return nil
	})
	g.Go(func() error {
		svcs, err := c.Services().List(ctx, ns)
		set("services", coreSummary(len(svcs), err))
		return nil
	})
	_ = g.Wait()

	writeJSON(w, out)
}

func customSummary(count, ready int, state kube.ListState, err error) kindSummary {
	k := kindSummary{Count: count, Ready: &ready, State: string(state)}
	if err != nil {
		k.Error = err.Error()
	}
	return k
}

func coreSummary(count int, err error) kindSummary {
	if err != nil {
		return kindSummary{Error: err.Error()}
	}
	return kindSummary{Count: count}
}
