// Package config handles YAML configuration loading, environment variable
// expansion, and structural validation for tgmonitor.
package config

import "gopkg.in/yaml.v3"

// Config is the top-level configuration structure.
type Config struct {
	// Version is the config format version. Currently only "1" is supported.
	Version string `yaml:"version"`

	// Modules maps module IDs to their raw YAML configuration.
	// Keys must match registered module IDs (e.g. "engine.telegram").
	Modules map[string]yaml.Node `yaml:"modules"`

	// SessionsDir overrides where remote session files are kept.
	// Defaults to <data dir>/sessions.
	SessionsDir string `yaml:"sessions_dir,omitempty"`

	Logging  LoggingConfig  `yaml:"logging"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Security SecurityConfig `yaml:"security"`
}

// SecurityConfig holds process-wide protections shared by every module.
type SecurityConfig struct {
	RateLimits RateLimitsConfig `yaml:"rate_limits"`
	// AuditFile, when set, receives account-affecting events as JSON lines.
	// Relative paths are resolved against the data directory.
	AuditFile string `yaml:"audit_file"`
}

// RateLimitsConfig caps operator-triggered actions per identity per minute.
type RateLimitsConfig struct {
	LoginsPerMin int `yaml:"logins_per_min"`
	SendsPerMin  int `yaml:"sends_per_min"`
}

// LoggingConfig controls the root slog handler.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error. Defaults to info.
	Level string `yaml:"level"`

	// Format is "text" (default) or "json".
	Format string `yaml:"format"`

	// File, when set, receives a rotated copy of every log line.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// TracingConfig enables OTLP/HTTP span export when Endpoint is set.
type TracingConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Defaults fills zero values with their defaults.
func (c *Config) Defaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = 20
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = 5
	}
	if c.Logging.MaxAgeDays == 0 {
		c.Logging.MaxAgeDays = 14
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "tgmonitor"
	}
	if c.Tracing.SampleRatio == 0 {
		c.Tracing.SampleRatio = 1
	}
}
