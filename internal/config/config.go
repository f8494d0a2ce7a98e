package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

type Config struct {
	DataDir  string `toml:"data_dir"`
	LogLevel string `toml:"log_level"`
	BaseURL  string `toml:"base_url"`

	Auth struct {
		// RefreshSkewMinutes refreshes the access token this many minutes
		// before its actual expiry.
		RefreshSkewMinutes int `toml:"refresh_skew_minutes"`
	} `toml:"auth"`

	Task struct {
		PollIntervalSeconds  int `toml:"poll_interval_seconds"`
		WaitTimeoutSeconds   int `toml:"wait_timeout_seconds"`
		AutoThresholdSeconds int `toml:"auto_threshold_seconds"`
		AbandonAfterMinutes  int `toml:"abandon_after_minutes"`
	} `toml:"task"`

	Push struct {
		BackoffBaseSeconds int `toml:"backoff_base_seconds"`
		BackoffCapSeconds  int `toml:"backoff_cap_seconds"`
		MaxAttempts        int `toml:"max_attempts"`
		WatchdogSeconds    int `toml:"watchdog_seconds"`
	} `toml:"push"`

	Watch struct {
		// ReconcileSchedule is a cron expression for periodic notification
		// reconciliation in watch mode.
		ReconcileSchedule string `toml:"reconcile_schedule"`
	} `toml:"watch"`
}

func Load(path string) (*Config, error) {
	cfg := &Config{
		DataDir:  filepath.Join(os.Getenv("HOME"), ".pageflow"),
		LogLevel: "info",
		BaseURL:  "https://api.pageflow.app",
	}
	cfg.Auth.RefreshSkewMinutes = 5
	cfg.Task.PollIntervalSeconds = 3
	cfg.Task.WaitTimeoutSeconds = 120
	cfg.Task.AutoThresholdSeconds = 60
	cfg.Task.AbandonAfterMinutes = 30
	cfg.Push.BackoffBaseSeconds = 1
	cfg.Push.BackoffCapSeconds = 30
	cfg.Push.MaxAttempts = 8
	cfg.Push.WatchdogSeconds = 90
	cfg.Watch.ReconcileSchedule = "@every 5m"

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	} else if os.IsNotExist(err) {
		if err := writeDefaults(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if baseURL := os.Getenv("PAGEFLOW_BASE_URL"); baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if dataDir := os.Getenv("PAGEFLOW_DATA_DIR"); dataDir != "" {
		cfg.DataDir = dataDir
	}
	if level := os.Getenv("PAGEFLOW_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	return cfg, nil
}

// Durations derived from the integer config fields.

func (c *Config) RefreshSkew() time.Duration {
	return time.Duration(c.Auth.RefreshSkewMinutes) * time.Minute
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Task.PollIntervalSeconds) * time.Second
}

func (c *Config) WaitTimeout() time.Duration {
	return time.Duration(c.Task.WaitTimeoutSeconds) * time.Second
}

func (c *Config) AutoThreshold() time.Duration {
	return time.Duration(c.Task.AutoThresholdSeconds) * time.Second
}

func (c *Config) AbandonAfter() time.Duration {
	return time.Duration(c.Task.AbandonAfterMinutes) * time.Minute
}

func (c *Config) PushBackoffBase() time.Duration {
	return time.Duration(c.Push.BackoffBaseSeconds) * time.Second
}

func (c *Config) PushBackoffCap() time.Duration {
	return time.Duration(c.Push.BackoffCapSeconds) * time.Second
}

func (c *Config) PushWatchdog() time.Duration {
	return time.Duration(c.Push.WatchdogSeconds) * time.Second
}

// Save writes the config to path atomically via a temp-file rename.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

func writeDefaults(path string, cfg *Config) error {
	return Save(path, cfg)
}
