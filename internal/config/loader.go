package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "edi-broker.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// The YAML file is optional; a missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Host, "EDI_HOST")
	setString(&cfg.Server.Port, "EDI_PORT")

	setString(&cfg.Gateway.URL, "EDI_GATEWAY_URL")
	setString(&cfg.Gateway.GatewayToken, "EDI_GATEWAY_TOKEN")
	setString(&cfg.Gateway.HooksToken, "EDI_HOOKS_TOKEN")
	setDuration(&cfg.Gateway.RequestTimeout, "EDI_GATEWAY_TIMEOUT")

	setString(&cfg.Auth.Secret, "EDI_AUTH_SECRET")
	setString(&cfg.Auth.SecretFile, "EDI_AUTH_SECRET_FILE")

	setInt(&cfg.Bridge.DefaultTimeoutSeconds, "EDI_BRIDGE_DEFAULT_TIMEOUT")
	setDuration(&cfg.Bridge.PollInterval, "EDI_BRIDGE_POLL_INTERVAL")
	setDuration(&cfg.Bridge.InitialPollDelay, "EDI_BRIDGE_INITIAL_DELAY")
	setInt(&cfg.Bridge.HistoryLimit, "EDI_BRIDGE_HISTORY_LIMIT")
	setString(&cfg.Bridge.RequesterName, "EDI_BRIDGE_REQUESTER")

	setInt(&cfg.Dispatch.DefaultTimeoutSeconds, "EDI_DISPATCH_DEFAULT_TIMEOUT")
	setDuration(&cfg.Dispatch.EarlyCheckDelay, "EDI_DISPATCH_EARLY_CHECK")
	setDuration(&cfg.Dispatch.CancelGrace, "EDI_DISPATCH_CANCEL_GRACE")
	setInt(&cfg.Dispatch.HistoryWindow, "EDI_DISPATCH_HISTORY_WINDOW")
	setInt(&cfg.Dispatch.MaxConcurrent, "EDI_DISPATCH_MAX_CONCURRENT")
	setDuration(&cfg.Dispatch.Retention, "EDI_DISPATCH_RETENTION")
	setString(&cfg.Dispatch.ThreadDir, "EDI_THREAD_DIR")
	setString(&cfg.Dispatch.DefaultWorkdir, "EDI_DISPATCH_WORKDIR")

	setString(&cfg.Webhook.GitHubSecret, "EDI_WEBHOOK_GITHUB_SECRET")

	setString(&cfg.Logging.Level, "EDI_LOG_LEVEL")
	setString(&cfg.Logging.Format, "EDI_LOG_FORMAT")
	setString(&cfg.Logging.Service, "EDI_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "EDI_LOG_ASYNC")

	setInt(&cfg.Breaker.MaxFailures, "EDI_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "EDI_BREAKER_TIMEOUT")

	setBool(&cfg.Telemetry.Enabled, "EDI_OTEL_ENABLED")
	setString(&cfg.Telemetry.Endpoint, "EDI_OTEL_ENDPOINT")
	setBool(&cfg.Telemetry.Insecure, "EDI_OTEL_INSECURE")
}

// validate checks that required fields are set and ranges make sense.
func validate(cfg *Config) error {
	port, err := strconv.Atoi(cfg.Server.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("server.port %q is not a valid port", cfg.Server.Port)
	}
	if cfg.Gateway.URL == "" {
		return errors.New("gateway.url is required")
	}
	if cfg.Gateway.RequestTimeout <= 0 {
		return errors.New("gateway.request_timeout must be positive")
	}
	if cfg.Bridge.DefaultTimeoutSeconds < 1 {
		return errors.New("bridge.default_timeout_seconds must be >= 1")
	}
	if cfg.Bridge.PollInterval <= 0 {
		return errors.New("bridge.poll_interval must be positive")
	}
	if cfg.Dispatch.DefaultTimeoutSeconds < 1 {
		return errors.New("dispatch.default_timeout_seconds must be >= 1")
	}
	if cfg.Dispatch.EarlyCheckDelay <= 0 {
		return errors.New("dispatch.early_check_delay must be positive")
	}
	if cfg.Dispatch.MaxConcurrent < 1 {
		return errors.New("dispatch.max_concurrent must be >= 1")
	}
	if cfg.Dispatch.ThreadDir == "" {
		return errors.New("dispatch.thread_dir is required")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
