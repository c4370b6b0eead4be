// Package config loads rtcwatch configuration: the report threshold, the
// diagnostic channel, the target profile plus extra targets, and the sink.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/rtcwatch/internal/intercept"
	"github.com/ppiankov/rtcwatch/internal/model"
	"github.com/ppiankov/rtcwatch/internal/observability"
	"github.com/ppiankov/rtcwatch/internal/profile"
)

// Sink types understood by the output factory.
const (
	SinkStdout  = "stdout"
	SinkFile    = "file"
	SinkLog     = "log"
	SinkSQLite  = "sqlite"
	SinkWebhook = "webhook"
	SinkStream  = "stream"
	SinkGRPC    = "grpc"
	SinkDiscard = "discard"
)

// SinkConfig selects where report records go.
type SinkConfig struct {
	Type    string            `yaml:"type"`
	Path    string            `yaml:"path,omitempty"`    // file, log, sqlite
	URL     string            `yaml:"url,omitempty"`     // webhook, stream
	Addr    string            `yaml:"addr,omitempty"`    // grpc
	Format  string            `yaml:"format,omitempty"`  // webhook: "generic" or "slack"
	Headers map[string]string `yaml:"headers,omitempty"` // webhook, stream
	Members []string          `yaml:"members,omitempty"` // webhook: description prefixes
	Timeout time.Duration     `yaml:"timeout,omitempty"`
	Metrics bool              `yaml:"metrics,omitempty"` // count deliveries in prometheus
}

// Config holds all configurable rtcwatch parameters.
type Config struct {
	Threshold    int                     `yaml:"threshold"`
	Verbose      bool                    `yaml:"verbose"`
	LogLevel     string                  `yaml:"log_level"`
	LogFormat    string                  `yaml:"log_format"`
	ReportErrors string                  `yaml:"report_errors"`
	Profile      string                  `yaml:"profile"`
	Targets      []model.InterceptTarget `yaml:"targets"`
	Sink         SinkConfig              `yaml:"sink"`
}

// DefaultConfig returns the built-in configuration: the webrtc profile,
// a threshold of 100 and JSON lines on stdout.
func DefaultConfig() *Config {
	return &Config{
		Threshold:    intercept.DefaultThreshold,
		LogLevel:     "debug",
		LogFormat:    "console",
		ReportErrors: string(intercept.ReportErrorsThrow),
		Profile:      profile.Default,
		Sink:         SinkConfig{Type: SinkStdout, Timeout: 5 * time.Second},
	}
}

// DefaultPath returns ~/.rtcwatch/config.yaml, or "" when the home
// directory cannot be determined.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".rtcwatch", "config.yaml")
}

// LoadConfig loads configuration from a YAML file.
// Empty path falls back to ~/.rtcwatch/config.yaml.
// Missing file returns defaults. Invalid YAML or an invalid target returns an error.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
		if path == "" {
			return DefaultConfig(), nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	// Start with defaults, YAML overwrites only specified fields
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks thresholds, the report-error policy and every extra target.
func (c *Config) Validate() error {
	if c.Threshold < 1 {
		return fmt.Errorf("threshold must be at least 1, got %d", c.Threshold)
	}
	if _, err := intercept.ParseErrorPolicy(c.ReportErrors); err != nil {
		return err
	}
	for i := range c.Targets {
		k, err := model.ParseKind(string(c.Targets[i].Kind))
		if err != nil {
			return fmt.Errorf("targets[%d]: %w", i, err)
		}
		c.Targets[i].Kind = k
		if err := c.Targets[i].Validate(); err != nil {
			return fmt.Errorf("targets[%d]: %w", i, err)
		}
	}
	return nil
}

// ResolveTargets returns the configured profile's targets followed by the
// extra targets from the file. An empty profile name selects no profile.
func (c *Config) ResolveTargets() ([]model.InterceptTarget, error) {
	if c.Profile == "" {
		return profile.Merge(nil, c.Targets), nil
	}
	p, err := profile.Load(c.Profile)
	if err != nil {
		return nil, err
	}
	return profile.Merge(p, c.Targets), nil
}

// Logger returns the diagnostic channel settings.
func (c *Config) Logger() observability.LoggerConfig {
	return observability.LoggerConfig{
		Verbose: c.Verbose,
		Level:   c.LogLevel,
		Format:  c.LogFormat,
	}
}

// ErrorPolicy returns the parsed report-error policy, falling back to throw.
func (c *Config) ErrorPolicy() intercept.ErrorPolicy {
	p, err := intercept.ParseErrorPolicy(c.ReportErrors)
	if err != nil {
		return intercept.ReportErrorsThrow
	}
	return p
}
