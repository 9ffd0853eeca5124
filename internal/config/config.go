// ABOUTME: Configuration loading and parsing for coven-relay
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete coven-relay configuration
type Config struct {
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Reconnect   ReconnectConfig   `yaml:"reconnect"`
	Heartbeat   HeartbeatConfig   `yaml:"heartbeat"`
	Database    DatabaseConfig    `yaml:"database"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// CoordinatorConfig holds the coordinator endpoint configuration
type CoordinatorConfig struct {
	// URL is the websocket endpoint of the coordinator, e.g. ws://localhost:8090/relay
	URL string `yaml:"url"`

	// ListenAddr is the address the coordinator binary listens on
	ListenAddr string `yaml:"listen_addr"`

	// RuntimeID is the host-runtime identity this client runs under.
	// If empty, a fresh identity is generated at startup.
	RuntimeID string `yaml:"runtime_id"`
}

// ReconnectConfig holds the reconnect policy
type ReconnectConfig struct {
	MaxAttempts int `yaml:"max_attempts"`

	BackoffBase     time.Duration `yaml:"-"`
	BackoffCap      time.Duration `yaml:"-"`
	RecoveryTimeout time.Duration `yaml:"-"`
	FlapWindow      time.Duration `yaml:"-"`

	FlapThreshold int `yaml:"flap_threshold"`

	// Raw string values for YAML unmarshaling
	BackoffBaseRaw     string `yaml:"backoff_base"`
	BackoffCapRaw      string `yaml:"backoff_cap"`
	RecoveryTimeoutRaw string `yaml:"recovery_timeout"`
	FlapWindowRaw      string `yaml:"flap_window"`
}

// HeartbeatConfig holds liveness probe timing
type HeartbeatConfig struct {
	Interval time.Duration `yaml:"-"`
	Timeout  time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	IntervalRaw string `yaml:"interval"`
	TimeoutRaw  string `yaml:"timeout"`
}

// DatabaseConfig holds the settings database location
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Coordinator.URL == "" && c.Coordinator.ListenAddr == "" {
		return fmt.Errorf("coordinator.url or coordinator.listen_addr is required")
	}

	if c.Reconnect.MaxAttempts < 0 {
		return fmt.Errorf("reconnect.max_attempts must not be negative")
	}

	if c.Reconnect.BackoffBase > 0 && c.Reconnect.BackoffCap > 0 &&
		c.Reconnect.BackoffCap < c.Reconnect.BackoffBase {
		return fmt.Errorf("reconnect.backoff_cap must not be below backoff_base")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		dst  *time.Duration
		name string
	}{
		{cfg.Reconnect.BackoffBaseRaw, &cfg.Reconnect.BackoffBase, "reconnect.backoff_base"},
		{cfg.Reconnect.BackoffCapRaw, &cfg.Reconnect.BackoffCap, "reconnect.backoff_cap"},
		{cfg.Reconnect.RecoveryTimeoutRaw, &cfg.Reconnect.RecoveryTimeout, "reconnect.recovery_timeout"},
		{cfg.Reconnect.FlapWindowRaw, &cfg.Reconnect.FlapWindow, "reconnect.flap_window"},
		{cfg.Heartbeat.IntervalRaw, &cfg.Heartbeat.Interval, "heartbeat.interval"},
		{cfg.Heartbeat.TimeoutRaw, &cfg.Heartbeat.Timeout, "heartbeat.timeout"},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
