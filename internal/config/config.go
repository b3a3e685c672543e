// Package config loads the server settings from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	masterminds "github.com/Masterminds/semver/v3"
	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/log"
)

// Config holds the settings of the xraydb tool server.
type Config struct {
	Name        string        `env:"XRAYDB_MCP_NAME"         envDefault:"xraydb-server"`
	Version     string        `env:"XRAYDB_MCP_VERSION"      envDefault:"0.1.0"`
	LogLevel    string        `env:"XRAYDB_MCP_LOG_LEVEL"    envDefault:"info"`
	CallTimeout time.Duration `env:"XRAYDB_MCP_CALL_TIMEOUT" envDefault:"30s"`
	Concurrency int           `env:"XRAYDB_MCP_CONCURRENCY"  envDefault:"1"`
	// DBPath is the SQLite file holding the reference data. Empty keeps
	// the database in memory.
	DBPath string `env:"XRAYDB_MCP_DB_PATH"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses the environment into a Config and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the settings and normalizes Version to its canonical
// semantic version form.
func (c *Config) Validate() error {
	if c.Name == "" {
		return errors.New("server name is required")
	}
	v, err := masterminds.NewVersion(c.Version)
	if err != nil {
		return fmt.Errorf("server version %q: %w", c.Version, err)
	}
	c.Version = v.String()
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log level %q: %w", c.LogLevel, err)
	}
	if c.CallTimeout < 0 {
		return fmt.Errorf("call timeout must not be negative, got %s", c.CallTimeout)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	return nil
}

// Level returns the parsed log level, falling back to info.
func (c Config) Level() log.Level {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return log.InfoLevel
	}
	return level
}
