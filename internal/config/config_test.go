package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
	t.Setenv(EnvBaseURL, "")
	t.Setenv(EnvNamespace, "")

	s, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, "default", s.Connection.Namespace)
	assert.Empty(t, s.Connection.BaseURL)
	assert.Equal(t, ":8080", s.Server.Addr)
	assert.Equal(t, 30*time.Second, s.Monitor.Interval.Duration)
}

func TestLoad_ParsesFile(t *testing.T) {
	t.Setenv(EnvBaseURL, "")
	t.Setenv(EnvNamespace, "")
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[connection]
base_url = " https://abc.ngrok.app/ "
namespace = "kaos-system"

[server]
addr = "127.0.0.1:9000"
dev_log = true

[store]
dsn = "postgres://kaos@localhost/kaos"

[monitor]
interval = "5s"
`), 0o600))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://abc.ngrok.app", s.Connection.BaseURL)
	assert.Equal(t, "kaos-system", s.Connection.Namespace)
	assert.Equal(t, "127.0.0.1:9000", s.Server.Addr)
	assert.True(t, s.Server.DevLog)
	assert.Equal(t, "postgres://kaos@localhost/kaos", s.Store.DSN)
	assert.Equal(t, 5*time.Second, s.Monitor.Interval.Duration)
	assert.Equal(t, "grpc", s.Telemetry.Protocol, "unset keys keep defaults")
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(EnvBaseURL, "http://localhost:8001/")
	t.Setenv(EnvNamespace, "demo")

	s, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8001", s.Connection.BaseURL)
	assert.Equal(t, "demo", s.Connection.Namespace)
	assert.Equal(t, "http://localhost:8001", s.Connection.Kube().BaseURL)
}

func TestLoad_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[connection\nbase_url = 1"), 0o600))

	_, err := Load(path)
	assert.ErrorContains(t, err, "parsing")
}

func TestSaveThenLoad(t *testing.T) {
	t.Setenv(EnvBaseURL, "")
	t.Setenv(EnvNamespace, "")
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	want := Default()
	want.Connection.BaseURL = "https://cluster.example"
	want.Connection.Namespace = "agents"
	want.EventBus.URL = "nats://localhost:4222"
	want.Monitor.Interval = Duration{time.Minute}
	require.NoError(t, Save(path, want))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must not be left behind")
}

func TestWatcher_ReloadsOnSave(t *testing.T) {
	t.Setenv(EnvBaseURL, "")
	t.Setenv(EnvNamespace, "")
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, Save(path, Default()))

	var mu sync.Mutex
	var seen []Settings
	w := NewWatcher(path, logr.Discard(), func(s Settings) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, s)
	})
	w.debounce = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	updated := Default()
	updated.Connection.BaseURL = "https://new.example"
	require.Eventually(t, func() bool {
		// Keep saving until the watcher has started and picked a change up.
		_ = Save(path, updated)
		mu.Lock()
		defer mu.Unlock()
		return len(seen) > 0
	}, 5*time.Second, 50*time.Millisecond)

	mu.Lock()
	assert.Equal(t, "https://new.example", seen[len(seen)-1].Connection.BaseURL)
	mu.Unlock()

	cancel()
	assert.NoError(t, <-done)
}

func TestLoadFile_IgnoresEnv(t *testing.T) {
	t.Setenv(EnvBaseURL, "http://from-env")
	s, err := LoadFile(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	assert.Empty(t, s.Connection.BaseURL)
}

func TestSettingsSet(t *testing.T) {
	tests := []struct {
		key, value string
		check      func(t *testing.T, s Settings)
		wantErr    bool
	}{
		{key: "base_url", value: "https://abc.ngrok.app/", check: func(t *testing.T, s Settings) {
			assert.Equal(t, "https://abc.ngrok.app", s.Connection.BaseURL)
		}},
		{key: "connection.namespace", value: " team ", check: func(t *testing.T, s Settings) {
			assert.Equal(t, "team", s.Connection.Namespace)
		}},
		{key: "Server.Dev_Log", value: "true", check: func(t *testing.T, s Settings) {
			assert.True(t, s.Server.DevLog)
		}},
		{key: "monitor.interval", value: "1m", check: func(t *testing.T, s Settings) {
			assert.Equal(t, time.Minute, s.Monitor.Interval.Duration)
		}},
		{key: "telemetry.protocol", value: "http/protobuf", check: func(t *testing.T, s Settings) {
			assert.Equal(t, "http/protobuf", s.Telemetry.Protocol)
		}},
		{key: "base_url", value: "ftp://x", wantErr: true},
		{key: "monitor.interval", value: "-5s", wantErr: true},
		{key: "telemetry.enabled", value: "maybe", wantErr: true},
		{key: "telemetry.protocol", value: "udp", wantErr: true},
		{key: "nope", value: "x", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			s := Default()
			err := s.Set(tt.key, tt.value)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, s)
		})
	}
}

func TestSettingsSet_EmptyNamespaceFallsBack(t *testing.T) {
	s := Default()
	require.NoError(t, s.Set("namespace", ""))
	assert.Equal(t, "default", s.Connection.Namespace)
}
