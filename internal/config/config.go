// Package config loads the service configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig holds the persistence settings. An empty DSN selects the
// in-memory store.
type DatabaseConfig struct {
	Driver          string `yaml:"driver"`
	DSN             string `yaml:"dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_seconds"`
}

// StorageConfig holds artifact storage settings.
type StorageConfig struct {
	DataDir  string `yaml:"data_dir"`
	AuditLog string `yaml:"audit_log"`
}

// RateLimitConfig controls the per-client admission window.
type RateLimitConfig struct {
	Window      time.Duration `yaml:"window"`
	EvictionTTL time.Duration `yaml:"eviction_ttl"`
}

// DialogConfig controls interactive session lifetimes.
type DialogConfig struct {
	SessionTimeout time.Duration `yaml:"session_timeout"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the root configuration document.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Storage   StorageConfig   `yaml:"storage"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Dialog    DialogConfig    `yaml:"dialog"`
	Logging   LoggingConfig   `yaml:"logging"`
	HostName  string          `yaml:"host_name"`
	APITokens []string        `yaml:"api_tokens"`
}

// Default returns the configuration used when no file is provided.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 19050,
		},
		Database: DatabaseConfig{
			Driver: "postgres",
		},
		Storage: StorageConfig{
			DataDir: "data",
		},
		RateLimit: RateLimitConfig{
			Window:      5 * time.Second,
			EvictionTTL: 10 * time.Minute,
		},
		Dialog: DialogConfig{
			SessionTimeout: 15 * time.Minute,
			SweepInterval:  time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the configuration from the given path. Missing fields keep
// their defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks fields that have no sane fallback.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage.data_dir is required")
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate_limit.window must be positive")
	}
	if c.RateLimit.EvictionTTL < c.RateLimit.Window {
		return fmt.Errorf("rate_limit.eviction_ttl must not be shorter than the window")
	}
	if c.Dialog.SessionTimeout <= 0 {
		return fmt.Errorf("dialog.session_timeout must be positive")
	}
	return nil
}
