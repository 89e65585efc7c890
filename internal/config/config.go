package config

import "time"

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	DatabasePath      string        `mapstructure:"database_path" yaml:"database_path"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	LogJSON           bool          `mapstructure:"log_json" yaml:"log_json"`

	// SessionSecret signs session tokens and seals provider API keys embedded
	// in them. Must be set to a non-default value in production.
	SessionSecret string `mapstructure:"session_secret" yaml:"session_secret"`

	// HuggingFaceBaseURL overrides the inference endpoint, mainly for tests
	// and self-hosted text-generation-inference deployments.
	HuggingFaceBaseURL string `mapstructure:"huggingface_base_url" yaml:"huggingface_base_url"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		DatabasePath:      "threadcast.db",
		LogLevel:          "info",
		SessionSecret:     "dev-session-secret",
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.SessionSecret != "" {
		c.SessionSecret = other.SessionSecret
	}
	if other.HuggingFaceBaseURL != "" {
		c.HuggingFaceBaseURL = other.HuggingFaceBaseURL
	}
}
