package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// config is the monitor's runtime configuration. Values come from an
// optional YAML file, overridden by environment variables.
type config struct {
	// BackendURL is the extraction backend base URL.
	BackendURL string `yaml:"backend_url"`
	// APIKey authenticates via X-API-Key. Token wins when both are set.
	APIKey string `yaml:"api_key"`
	// Token authenticates via bearer token (and the WebSocket upgrade).
	Token string `yaml:"token"`
	// ListenAddr is the local dashboard address.
	ListenAddr string `yaml:"listen_addr"`
	// PollIntervalMs is the per-job polling interval in milliseconds.
	PollIntervalMs int `yaml:"poll_interval_ms"`
	// SeedLimit is how many jobs the initial bulk fetch requests.
	SeedLimit int `yaml:"seed_limit"`
	// DiagDB is the diagnostics SQLite path. Empty disables diagnostics.
	DiagDB string `yaml:"diag_db"`
	// LogLevel is debug, info, warn or error.
	LogLevel string `yaml:"log_level"`
}

func (c *config) defaults() {
	if c.BackendURL == "" {
		c.BackendURL = "http://localhost:8080"
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":8090"
	}
	if c.PollIntervalMs <= 0 {
		c.PollIntervalMs = 2000
	}
	if c.SeedLimit <= 0 {
		c.SeedLimit = 20
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// pollInterval returns the polling interval as a duration.
func (c *config) pollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// loadConfig reads the YAML file at path (when non-empty), applies env
// overrides, then defaults.
func loadConfig(path string) (*config, error) {
	var c config
	if path != "" {
		buf, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(buf, &c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	c.BackendURL = env("EXTMON_BACKEND_URL", c.BackendURL)
	c.APIKey = env("EXTMON_API_KEY", c.APIKey)
	c.Token = env("EXTMON_TOKEN", c.Token)
	c.ListenAddr = env("EXTMON_LISTEN_ADDR", c.ListenAddr)
	c.DiagDB = env("EXTMON_DIAG_DB", c.DiagDB)
	c.LogLevel = env("LOG_LEVEL", c.LogLevel)

	c.defaults()
	return &c, nil
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
