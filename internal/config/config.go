// Package config provides hierarchical configuration loading for the broker.
// Precedence: defaults < YAML file < environment variables.
package config

import (
	"os"
	"strings"
	"time"
)

// Config holds all runtime configuration for the edi-broker service.
type Config struct {
	Server    Server                       `yaml:"server"`
	Gateway   Gateway                      `yaml:"gateway"`
	Auth      Auth                         `yaml:"auth"`
	Bridge    Bridge                       `yaml:"bridge"`
	Dispatch  Dispatch                     `yaml:"dispatch"`
	Agents    map[string]map[string]string `yaml:"agents"`
	Webhook   Webhook                      `yaml:"webhook"`
	Logging   Logging                      `yaml:"logging"`
	Breaker   Breaker                      `yaml:"breaker"`
	Telemetry Telemetry                    `yaml:"telemetry"`
}

// Server holds HTTP listener configuration.
type Server struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`
}

// Gateway holds remote agent gateway connection configuration.
// GatewayToken authorizes /tools/invoke calls; HooksToken authorizes
// /hooks/agent session creation.
type Gateway struct {
	URL            string        `yaml:"url"`
	GatewayToken   string        `yaml:"gateway_token"`
	HooksToken     string        `yaml:"hooks_token"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// Auth holds the shared-secret HMAC configuration for /ask and /dispatch.
// An empty resolved secret disables authentication (deliberate open mode).
type Auth struct {
	Secret     string `yaml:"secret"`
	SecretFile string `yaml:"secret_file"`
}

// ResolveSecret returns the shared secret, preferring the inline/env value
// over the secret file. A missing or empty source yields nil (auth disabled).
func (a Auth) ResolveSecret() []byte {
	if s := strings.TrimSpace(a.Secret); s != "" {
		return []byte(s)
	}
	if a.SecretFile != "" {
		if data, err := os.ReadFile(a.SecretFile); err == nil {
			if s := strings.TrimSpace(string(data)); s != "" {
				return []byte(s)
			}
		}
	}
	return nil
}

// Bridge holds interactive /ask path configuration.
type Bridge struct {
	DefaultTimeoutSeconds int           `yaml:"default_timeout_seconds"`
	PollInterval          time.Duration `yaml:"poll_interval"`
	InitialPollDelay      time.Duration `yaml:"initial_poll_delay"`
	HistoryLimit          int           `yaml:"history_limit"`
	RequesterName         string        `yaml:"requester_name"`
}

// Dispatch holds headless-agent task manager configuration.
type Dispatch struct {
	DefaultTimeoutSeconds int           `yaml:"default_timeout_seconds"`
	EarlyCheckDelay       time.Duration `yaml:"early_check_delay"`
	CancelGrace           time.Duration `yaml:"cancel_grace"`
	HistoryWindow         int           `yaml:"history_window"`
	MaxConcurrent         int           `yaml:"max_concurrent"`
	Retention             time.Duration `yaml:"retention"`
	ThreadDir             string        `yaml:"thread_dir"`
	DefaultWorkdir        string        `yaml:"default_workdir"`
}

// Webhook holds inbound webhook verification secrets.
type Webhook struct {
	GitHubSecret string `yaml:"github_secret"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`
	Service string `yaml:"service"`
	Async   bool   `yaml:"async"`
}

// Breaker holds circuit breaker configuration for gateway calls.
type Breaker struct {
	MaxFailures int           `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Telemetry holds OpenTelemetry export configuration.
type Telemetry struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
}

// Defaults returns a Config with sensible default values for local operation.
func Defaults() Config {
	return Config{
		Server: Server{
			Host: "0.0.0.0",
			Port: "19001",
		},
		Gateway: Gateway{
			URL:            "http://127.0.0.1:18789",
			RequestTimeout: 15 * time.Second,
		},
		Auth: Auth{
			SecretFile: "/etc/edi/secret",
		},
		Bridge: Bridge{
			DefaultTimeoutSeconds: 120,
			PollInterval:          time.Second,
			InitialPollDelay:      2 * time.Second,
			HistoryLimit:          10,
			RequesterName:         "EDI-CLI",
		},
		Dispatch: Dispatch{
			DefaultTimeoutSeconds: 600,
			EarlyCheckDelay:       3 * time.Second,
			CancelGrace:           5 * time.Second,
			HistoryWindow:         10,
			MaxConcurrent:         16,
			Retention:             time.Hour,
			ThreadDir:             "data/threads",
			DefaultWorkdir:        ".",
		},
		Logging: Logging{
			Level:   "info",
			Format:  "json",
			Service: "edi-broker",
		},
		Breaker: Breaker{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		},
		Telemetry: Telemetry{
			Enabled:  false,
			Endpoint: "localhost:4317",
			Insecure: true,
		},
	}
}
