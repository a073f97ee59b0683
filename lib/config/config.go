// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the messenger client configuration.
//
// Configuration comes from a single YAML file named by the
// MESSENGER_CONFIG environment variable or the --config flag. There is
// no automatic discovery. Running without a file uses Default().
//
// Path values may reference ${VAR} or ${VAR:-default}; nothing else in
// the file is expanded.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root of the configuration file.
type Config struct {
	Client     ClientConfig    `yaml:"client"`
	Endpoints  EndpointsConfig `yaml:"endpoints"`
	Paths      PathsConfig     `yaml:"paths"`
	Recipients []string        `yaml:"recipients"`
	Metrics    MetricsConfig   `yaml:"metrics"`
}

// ClientConfig holds behavior options for the session.
type ClientConfig struct {
	UserAgent string `yaml:"user_agent"`

	// SelfListen delivers events authored by the logged-in account.
	SelfListen bool `yaml:"self_listen"`

	// ListenEvents enables thread events, reactions, unsends, and
	// receipts in addition to messages.
	ListenEvents bool `yaml:"listen_events"`

	// UpdatePresence enables presence events.
	UpdatePresence bool `yaml:"update_presence"`

	// ForceLogin approves "was this you?" checkpoints automatically.
	ForceLogin bool `yaml:"force_login"`

	AutoMarkDelivery bool `yaml:"auto_mark_delivery"`
	AutoMarkRead     bool `yaml:"auto_mark_read"`

	// Online is advertised to the server in the realtime identity.
	Online bool `yaml:"online"`

	// RequestTimeout bounds every HTTP request (Go duration string).
	RequestTimeout string `yaml:"request_timeout"`

	// TypingTimeout is how long a typing indicator stays on before
	// the client turns it off.
	TypingTimeout string `yaml:"typing_timeout"`

	// TaskRate caps outgoing task envelopes per second. Zero disables
	// pacing.
	TaskRate float64 `yaml:"task_rate"`
}

// EndpointsConfig holds the base URLs the client talks to.
type EndpointsConfig struct {
	Web       string `yaml:"web"`
	Mobile    string `yaml:"mobile"`
	Upload    string `yaml:"upload"`
	Messenger string `yaml:"messenger"`
	Realtime  string `yaml:"realtime"`
}

// PathsConfig holds local state locations.
type PathsConfig struct {
	// AppState is the exported cookie file, plain JSON or age-sealed.
	AppState string `yaml:"appstate"`

	// Identity is an age identity file used to open a sealed AppState.
	Identity string `yaml:"identity"`

	// Cursor is the CBOR file holding the realtime sync cursor.
	Cursor string `yaml:"cursor"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	// Listen is a host:port for /metrics. Empty disables it.
	Listen string `yaml:"listen"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Client: ClientConfig{
			UserAgent:        "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_10_2) AppleWebKit/600.3.18 (KHTML, like Gecko) Version/8.0.3 Safari/600.3.18",
			ListenEvents:     true,
			AutoMarkDelivery: true,
			Online:           true,
			RequestTimeout:   "60s",
			TypingTimeout:    "30s",
			TaskRate:         5,
		},
		Endpoints: EndpointsConfig{
			Web:       "https://www.facebook.com",
			Mobile:    "https://m.facebook.com",
			Upload:    "https://upload.facebook.com",
			Messenger: "https://www.messenger.com",
			Realtime:  "wss://edge-chat.facebook.com/chat",
		},
		Paths: PathsConfig{
			AppState: "${HOME}/.config/messenger/appstate.json",
			Cursor:   "${HOME}/.local/state/messenger/cursor.cbor",
		},
	}
}

// Load reads the file named by MESSENGER_CONFIG, or returns Default()
// with expanded paths when the variable is unset.
func Load() (*Config, error) {
	path := os.Getenv("MESSENGER_CONFIG")
	if path == "" {
		cfg := Default()
		cfg.expandVariables()
		return cfg, nil
	}
	return LoadFile(path)
}

// LoadFile reads path over Default() and validates the result.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	cfg.expandVariables()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) expandVariables() {
	vars := map[string]string{}
	if home, err := os.UserHomeDir(); err == nil {
		vars["HOME"] = home
	}
	c.Paths.AppState = expandVars(c.Paths.AppState, vars)
	c.Paths.Identity = expandVars(c.Paths.Identity, vars)
	c.Paths.Cursor = expandVars(c.Paths.Cursor, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars replaces ${VAR} and ${VAR:-default}. vars takes
// precedence over the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := varPattern.FindStringSubmatch(match)
		name, fallback := groups[1], groups[2]
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return fallback
	})
}

// Validate checks durations, the task rate, and endpoint URLs.
func (c *Config) Validate() error {
	var errs []error
	for name, value := range map[string]string{
		"client.request_timeout": c.Client.RequestTimeout,
		"client.typing_timeout":  c.Client.TypingTimeout,
	} {
		if duration, err := time.ParseDuration(value); err != nil || duration <= 0 {
			errs = append(errs, fmt.Errorf("%s: %q is not a positive duration", name, value))
		}
	}
	if c.Client.TaskRate < 0 {
		errs = append(errs, fmt.Errorf("client.task_rate: %v is negative", c.Client.TaskRate))
	}
	for name, value := range map[string]string{
		"endpoints.web":       c.Endpoints.Web,
		"endpoints.mobile":    c.Endpoints.Mobile,
		"endpoints.upload":    c.Endpoints.Upload,
		"endpoints.messenger": c.Endpoints.Messenger,
		"endpoints.realtime":  c.Endpoints.Realtime,
	} {
		parsed, err := url.Parse(value)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			errs = append(errs, fmt.Errorf("%s: %q is not an absolute URL", name, value))
		}
	}
	return errors.Join(errs...)
}

// RequestTimeout returns the parsed request timeout.
func (c *Config) RequestTimeout() time.Duration {
	duration, _ := time.ParseDuration(c.Client.RequestTimeout)
	return duration
}

// TypingTimeout returns the parsed typing indicator timeout.
func (c *Config) TypingTimeout() time.Duration {
	duration, _ := time.ParseDuration(c.Client.TypingTimeout)
	return duration
}

// EnsureStateDirs creates the parent directories of the state files.
func (c *Config) EnsureStateDirs() error {
	for _, path := range []string{c.Paths.AppState, c.Paths.Cursor} {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return fmt.Errorf("config: creating %s: %w", filepath.Dir(path), err)
		}
	}
	return nil
}
