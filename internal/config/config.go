// Package config loads the Creel core configuration from a TOML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config captures the settings the core needs at startup.
type Config struct {
	DataDir       string
	ListenAddr    string
	LogLevel      string
	ProbeURL      string
	ProbeInterval time.Duration
	SyncInterval  time.Duration
	DrainTimeout  time.Duration
	MaxRetries    int
	QueueCapacity int
	QueueWarnAt   int
}

const (
	defaultDataDir       = "./data"
	defaultListenAddr    = "127.0.0.1:8090"
	defaultLogLevel      = "info"
	defaultProbeURL      = "https://connectivity.creelapp.io/generate_204"
	defaultProbeInterval = 15 * time.Second
	defaultSyncInterval  = 5 * time.Minute
	defaultDrainTimeout  = 2 * time.Minute
	defaultMaxRetries    = 5
	defaultQueueCapacity = 200
	defaultQueueWarnAt   = 150
)

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DataDir:       defaultDataDir,
		ListenAddr:    defaultListenAddr,
		LogLevel:      defaultLogLevel,
		ProbeURL:      defaultProbeURL,
		ProbeInterval: defaultProbeInterval,
		SyncInterval:  defaultSyncInterval,
		DrainTimeout:  defaultDrainTimeout,
		MaxRetries:    defaultMaxRetries,
		QueueCapacity: defaultQueueCapacity,
		QueueWarnAt:   defaultQueueWarnAt,
	}
}

// Load parses the config file at path, falling back to defaults when the file
// is absent. The CREEL_DATA_DIR environment variable overrides the data dir.
func Load(path string) (Config, error) {
	cfg := Default()

	if strings.TrimSpace(path) != "" {
		bytes, err := os.ReadFile(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		} else {
			if err := apply(&cfg, bytes); err != nil {
				return Config{}, err
			}
		}
	}

	if dir := strings.TrimSpace(os.Getenv("CREEL_DATA_DIR")); dir != "" {
		cfg.DataDir = dir
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func apply(cfg *Config, bytes []byte) error {
	var raw struct {
		DataDir          string `toml:"data_dir"`
		ListenAddr       string `toml:"listen_addr"`
		LogLevel         string `toml:"log_level"`
		ProbeURL         string `toml:"probe_url"`
		ProbeIntervalSec int    `toml:"probe_interval_seconds"`
		SyncIntervalSec  int    `toml:"sync_interval_seconds"`
		DrainTimeoutSec  int    `toml:"drain_timeout_seconds"`
		MaxRetries       int    `toml:"max_retries"`
		QueueCapacity    int    `toml:"queue_capacity"`
		QueueWarnAt      int    `toml:"queue_warn_at"`
	}
	if err := toml.Unmarshal(bytes, &raw); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	if v := strings.TrimSpace(raw.DataDir); v != "" {
		cfg.DataDir = v
	}
	if v := strings.TrimSpace(raw.ListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := strings.TrimSpace(raw.LogLevel); v != "" {
		cfg.LogLevel = v
	}
	if v := strings.TrimSpace(raw.ProbeURL); v != "" {
		cfg.ProbeURL = v
	}
	if raw.ProbeIntervalSec > 0 {
		cfg.ProbeInterval = time.Duration(raw.ProbeIntervalSec) * time.Second
	}
	if raw.SyncIntervalSec > 0 {
		cfg.SyncInterval = time.Duration(raw.SyncIntervalSec) * time.Second
	}
	if raw.DrainTimeoutSec > 0 {
		cfg.DrainTimeout = time.Duration(raw.DrainTimeoutSec) * time.Second
	}
	if raw.MaxRetries > 0 {
		cfg.MaxRetries = raw.MaxRetries
	}
	if raw.QueueCapacity > 0 {
		cfg.QueueCapacity = raw.QueueCapacity
	}
	if raw.QueueWarnAt > 0 {
		cfg.QueueWarnAt = raw.QueueWarnAt
	}
	return nil
}

func (c Config) validate() error {
	if c.QueueWarnAt > c.QueueCapacity {
		return fmt.Errorf("queue_warn_at (%d) must not exceed queue_capacity (%d)",
			c.QueueWarnAt, c.QueueCapacity)
	}
	return nil
}
