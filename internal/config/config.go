// Package config loads the standby configuration from YAML.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the standby runtime configuration.
//
// MaxWaiters sizes the wait registry's slot arena at startup; it cannot be
// changed at runtime, and exceeding it is a configuration error, not a
// runtime condition.
type Config struct {
	// Database is the path to the SQLite record log.
	Database string `yaml:"database"`

	// MaxWaiters is the maximum number of concurrent wait participants.
	MaxWaiters int `yaml:"max_waiters"`

	// PollIntervalMS is the replay engine's idle re-poll interval in
	// milliseconds.
	PollIntervalMS int `yaml:"poll_interval_ms"`

	// BatchSize is how many records the replay engine applies per
	// observer notification.
	BatchSize int `yaml:"batch_size"`

	// LogLevel is one of "debug", "info", "warn", "error".
	LogLevel string `yaml:"log_level"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Database:       "standby.db",
		MaxWaiters:     64,
		PollIntervalMS: 100,
		BatchSize:      256,
		LogLevel:       "info",
	}
}

// Load reads a YAML config file, applying defaults for omitted fields and
// validating the result.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks field ranges.
func (c Config) Validate() error {
	if c.Database == "" {
		return fmt.Errorf("database path is required")
	}
	if c.MaxWaiters <= 0 {
		return fmt.Errorf("max_waiters must be positive, got %d", c.MaxWaiters)
	}
	if c.PollIntervalMS <= 0 {
		return fmt.Errorf("poll_interval_ms must be positive, got %d", c.PollIntervalMS)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", c.BatchSize)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// PollInterval returns the poll interval as a duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// Level maps LogLevel to a slog level.
func (c Config) Level() (slog.Level, error) {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
}
