// Package config loads the server configuration from an optional YAML
// file with environment-variable overrides, applying defaults for
// anything left unset.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// RateLimit defines per-connection inbound frame throttling.
type RateLimit struct {
	Burst         int `yaml:"burst"`
	RefillSeconds int `yaml:"refill_seconds"`
}

// RefillInterval returns the refill window as a duration.
func (r RateLimit) RefillInterval() time.Duration {
	return time.Duration(r.RefillSeconds) * time.Second
}

// Config holds the runtime settings for the hub process.
type Config struct {
	Addr           string    `yaml:"addr"`
	AllowedOrigins []string  `yaml:"allowed_origins"`
	MaxMessageSize int64     `yaml:"max_message_size"`
	RateLimit      RateLimit `yaml:"rate_limit"`
	LogLevel       string    `yaml:"log_level"`
	LogFormat      string    `yaml:"log_format"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Addr:           ":8080",
		AllowedOrigins: []string{"http://localhost:8080"},
		MaxMessageSize: 64 * 1024,
		RateLimit: RateLimit{
			Burst:         10,
			RefillSeconds: 1,
		},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load reads the YAML file at path (skipped when path is empty), applies
// environment overrides on top, and sanitizes the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // path from user-provided CLI flag
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.sanitize()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PARLOR_ADDR"); v != "" {
		c.Addr = v
	}
	if v := os.Getenv("PARLOR_ALLOWED_ORIGINS"); v != "" {
		c.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("PARLOR_MAX_MESSAGE_SIZE"); v != "" {
		if size, err := strconv.ParseInt(v, 10, 64); err == nil && size > 0 {
			c.MaxMessageSize = size
		}
	}
	if v := os.Getenv("PARLOR_RATE_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.RateLimit.Burst = n
		}
	}
	if v := os.Getenv("PARLOR_RATE_REFILL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.RateLimit.RefillSeconds = n
		}
	}
	if v := os.Getenv("PARLOR_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("PARLOR_LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}
}

func (c *Config) sanitize() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 64 * 1024
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 10
	}
	if c.RateLimit.RefillSeconds <= 0 {
		c.RateLimit.RefillSeconds = 1
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
