package config

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

type setter func(s *Settings, v string) error

func setString(field func(*Settings) *string) setter {
	return func(s *Settings, v string) error {
		*field(s) = v
		return nil
	}
}

func setBool(field func(*Settings) *bool) setter {
	return func(s *Settings, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%q is not a boolean", v)
		}
		*field(s) = b
		return nil
	}
}

var setters = map[string]setter{
	"connection.base_url": func(s *Settings, v string) error {
		v = strings.TrimRight(strings.TrimSpace(v), "/")
		if v != "" {
			u, err := url.Parse(v)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				return fmt.Errorf("%q is not an http or https URL", v)
			}
		}
		s.Connection.BaseURL = v
		return nil
	},
	"connection.namespace":   setString(func(s *Settings) *string { return &s.Connection.Namespace }),
	"connection.kubeconfig":  setString(func(s *Settings) *string { return &s.Connection.Kubeconfig }),
	"connection.context":     setString(func(s *Settings) *string { return &s.Connection.Context }),
	"server.addr":            setString(func(s *Settings) *string { return &s.Server.Addr }),
	"server.dev_log":         setBool(func(s *Settings) *bool { return &s.Server.DevLog }),
	"store.dsn":              setString(func(s *Settings) *string { return &s.Store.DSN }),
	"eventbus.url":           setString(func(s *Settings) *string { return &s.EventBus.URL }),
	"telemetry.enabled":      setBool(func(s *Settings) *bool { return &s.Telemetry.Enabled }),
	"telemetry.endpoint":     setString(func(s *Settings) *string { return &s.Telemetry.Endpoint }),
	"telemetry.service_name": setString(func(s *Settings) *string { return &s.Telemetry.ServiceName }),
	"telemetry.protocol": func(s *Settings, v string) error {
		if v != "grpc" && v != "http/protobuf" {
			return fmt.Errorf("protocol must be grpc or http/protobuf")
		}
		s.Telemetry.Protocol = v
		return nil
	},
	"monitor.interval": func(s *Settings, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return fmt.Errorf("%q is not a positive duration", v)
		}
		s.Monitor.Interval.Duration = d
		return nil
	},
}

// Keys lists the keys accepted by Set.
func Keys() []string {
	keys := make([]string, 0, len(setters))
	for k := range setters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Set assigns one setting by its dotted TOML key, e.g. connection.base_url.
// Keys of the connection table may omit the table name.
func (s *Settings) Set(key, value string) error {
	key = strings.ToLower(strings.TrimSpace(key))
	set, ok := setters[key]
	if !ok {
		set, ok = setters["connection."+key]
	}
	if !ok {
		return fmt.Errorf("unknown setting %q (known: %s)", key, strings.Join(Keys(), ", "))
	}
	if err := set(s, strings.TrimSpace(value)); err != nil {
		return fmt.Errorf("setting %s: %w", key, err)
	}
	s.normalize()
	return nil
}
