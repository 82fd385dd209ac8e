// Package monitor periodically checks that the cluster is reachable.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/robfig/cron/v3"
	"k8s.io/apimachinery/pkg/version"

	"github.com/alexsjones/kaos-console/internal/metrics"
)

// Prober is implemented by *kube.Client.
type Prober interface {
	ServerVersion(ctx context.Context) (*version.Info, error)
}

// State is the outcome of the last probe.
type State struct {
	Connected     bool      `json:"connected"`
	ServerVersion string    `json:"serverVersion,omitempty"`
	Error         string    `json:"error,omitempty"`
	CheckedAt     time.Time `json:"checkedAt"`
}

// Monitor probes the API server on a cron schedule. The prober is looked up
// on every run, so a client swapped after a settings change is picked up.
type Monitor struct {
	prober  func() Prober
	timeout time.Duration
	log     logr.Logger
	cron    *cron.Cron

	mu    sync.RWMutex
	state State
}

// New returns a Monitor that probes every interval once started.
func New(prober func() Prober, interval time.Duration, log logr.Logger) (*Monitor, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("probe interval must be positive, got %s", interval)
	}
	m := &Monitor{
		prober:  prober,
		timeout: 10 * time.Second,
		log:     log,
		cron:    cron.New(),
	}
	if _, err := m.cron.AddFunc(fmt.Sprintf("@every %s", interval), func() { m.Check(context.Background()) }); err != nil {
		return nil, fmt.Errorf("scheduling connection probe: %w", err)
	}
	return m, nil
}

// Start runs a first probe immediately and then schedules the rest.
func (m *Monitor) Start(ctx context.Context) {
	m.Check(ctx)
	m.cron.Start()
}

// Stop stops scheduling and waits for a running probe.
func (m *Monitor) Stop() {
	<-m.cron.Stop().Done()
}

// State returns the last probe result.
func (m *Monitor) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Check probes once and records the result.
func (m *Monitor) Check(ctx context.Context) State {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	st := Probe(ctx, m.prober())
	if st.Connected {
		metrics.ClusterConnected.Set(1)
	} else {
		metrics.ClusterConnected.Set(0)
	}

	m.mu.Lock()
	prev := m.state
	m.state = st
	m.mu.Unlock()

	if prev.Connected != st.Connected || prev.CheckedAt.IsZero() {
		if st.Connected {
			m.log.Info("cluster reachable", "version", st.ServerVersion)
		} else {
			m.log.Info("cluster unreachable", "error", st.Error)
		}
	}
	return st
}

// Probe asks p for the server version once.
func Probe(ctx context.Context, p Prober) State {
	st := State{CheckedAt: time.Now()}
	info, err := p.ServerVersion(ctx)
	if err != nil {
		st.Error = err.Error()
		return st
	}
	st.Connected = true
	st.ServerVersion = info.GitVersion
	return st
}
