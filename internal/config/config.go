// Package config loads and saves the kaos-console settings file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/alexsjones/kaos-console/internal/kube"
)

// Environment variables read by Load.
const (
	EnvConfigPath = "KAOS_CONSOLE_CONFIG"
	EnvBaseURL    = "KAOS_BASE_URL"
	EnvNamespace  = "KAOS_NAMESPACE"
)

// Settings is the content of config.toml.
type Settings struct {
	Connection Connection `toml:"connection" json:"connection"`
	Server     Server     `toml:"server" json:"server"`
	Store      Store      `toml:"store" json:"store"`
	EventBus   EventBus   `toml:"eventbus" json:"eventbus"`
	Telemetry  Telemetry  `toml:"telemetry" json:"telemetry"`
	Monitor    Monitor    `toml:"monitor" json:"monitor"`
}

// Connection says how to reach the cluster. BaseURL wins over Kubeconfig
// when both are set.
type Connection struct {
	BaseURL    string `toml:"base_url" json:"baseUrl"`
	Namespace  string `toml:"namespace" json:"namespace"`
	Kubeconfig string `toml:"kubeconfig,omitempty" json:"kubeconfig,omitempty"`
	Context    string `toml:"context,omitempty" json:"context,omitempty"`
}

// Kube returns the client configuration for c.
func (c Connection) Kube() kube.Config {
	return kube.Config{BaseURL: c.BaseURL, Namespace: c.Namespace}
}

type Server struct {
	Addr   string `toml:"addr" json:"addr"`
	DevLog bool   `toml:"dev_log" json:"devLog"`
}

// Store configures transcript persistence. A postgres:// DSN selects
// PostgreSQL; anything else is a sqlite file path.
type Store struct {
	DSN string `toml:"dsn" json:"dsn"`
}

// EventBus configures the event bus. An empty URL keeps events in process.
type EventBus struct {
	URL string `toml:"url" json:"url"`
}

type Telemetry struct {
	Enabled     bool   `toml:"enabled" json:"enabled"`
	Endpoint    string `toml:"endpoint" json:"endpoint"`
	Protocol    string `toml:"protocol" json:"protocol"`
	ServiceName string `toml:"service_name" json:"serviceName"`
}

type Monitor struct {
	Interval Duration `toml:"interval" json:"interval"`
}

// Duration is a time.Duration written as a string such as "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the settings used when no file exists.
func Default() Settings {
	return Settings{
		Connection: Connection{Namespace: kube.DefaultNamespace},
		Server:     Server{Addr: ":8080"},
		Store:      Store{DSN: filepath.Join(Dir(), "transcripts.db")},
		Telemetry:  Telemetry{Protocol: "grpc", ServiceName: "kaos-console"},
		Monitor:    Monitor{Interval: Duration{30 * time.Second}},
	}
}

// Dir is the directory holding the settings file and local state.
func Dir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "kaos-console")
	}
	return ".kaos-console"
}

// Path returns the settings file path: $KAOS_CONSOLE_CONFIG or
// <user config dir>/kaos-console/config.toml.
func Path() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	return filepath.Join(Dir(), "config.toml")
}

// Load reads path over the defaults and applies environment overrides. A
// missing file is not an error.
func Load(path string) (Settings, error) {
	s, err := read(path)
	if err != nil {
		return Settings{}, err
	}
	s.applyEnv()
	return s, nil
}

// LoadFile reads path over the defaults without environment overrides, for
// callers that write the settings back.
func LoadFile(path string) (Settings, error) {
	return read(path)
}

func read(path string) (Settings, error) {
	s := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("reading %s: %w", path, err)
	}
	if _, err := toml.Decode(string(data), &s); err != nil {
		return Settings{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	s.normalize()
	return s, nil
}

func (s *Settings) applyEnv() {
	if v := os.Getenv(EnvBaseURL); v != "" {
		s.Connection.BaseURL = v
	}
	if v := os.Getenv(EnvNamespace); v != "" {
		s.Connection.Namespace = v
	}
	s.normalize()
}

func (s *Settings) normalize() {
	s.Connection.BaseURL = strings.TrimRight(strings.TrimSpace(s.Connection.BaseURL), "/")
	s.Connection.Namespace = strings.TrimSpace(s.Connection.Namespace)
	if s.Connection.Namespace == "" {
		s.Connection.Namespace = kube.DefaultNamespace
	}
	if s.Monitor.Interval.Duration <= 0 {
		s.Monitor.Interval.Duration = 30 * time.Second
	}
}

// Save writes s to path through a temporary file and a rename, so readers
// and the watcher never see a partial file.
func Save(path string, s Settings) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(s); err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".config.*.toml.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming %s to %s: %w", tmpPath, path, err)
	}
	return nil
}
