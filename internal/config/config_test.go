package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func tempConfigPath(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	return filepath.Join(dir, "config.toml")
}

func TestSave_ReloadRoundTrip(t *testing.T) {
	path := tempConfigPath(t)

	original := &Config{
		DataDir:  "/tmp/test-data",
		LogLevel: "debug",
		BaseURL:  "https://staging.pageflow.app",
	}
	original.Auth.RefreshSkewMinutes = 10
	original.Task.PollIntervalSeconds = 5
	original.Task.WaitTimeoutSeconds = 60
	original.Task.AutoThresholdSeconds = 30
	original.Task.AbandonAfterMinutes = 15
	original.Push.BackoffBaseSeconds = 2
	original.Push.BackoffCapSeconds = 20
	original.Push.MaxAttempts = 4
	original.Push.WatchdogSeconds = 45
	original.Watch.ReconcileSchedule = "@every 1m"

	if err := Save(path, original); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.DataDir != original.DataDir {
		t.Errorf("DataDir = %q, want %q", loaded.DataDir, original.DataDir)
	}
	if loaded.BaseURL != original.BaseURL {
		t.Errorf("BaseURL = %q, want %q", loaded.BaseURL, original.BaseURL)
	}
	if loaded.Auth.RefreshSkewMinutes != 10 {
		t.Errorf("RefreshSkewMinutes = %d, want 10", loaded.Auth.RefreshSkewMinutes)
	}
	if loaded.Push.MaxAttempts != 4 {
		t.Errorf("MaxAttempts = %d, want 4", loaded.Push.MaxAttempts)
	}
	if loaded.Watch.ReconcileSchedule != "@every 1m" {
		t.Errorf("ReconcileSchedule = %q", loaded.Watch.ReconcileSchedule)
	}
}

func TestLoad_WritesDefaultsWhenMissing(t *testing.T) {
	path := tempConfigPath(t)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config file was not written: %v", err)
	}
	if cfg.Task.PollIntervalSeconds != 3 {
		t.Errorf("PollIntervalSeconds = %d, want default 3", cfg.Task.PollIntervalSeconds)
	}
	if cfg.Push.BackoffCapSeconds != 30 {
		t.Errorf("BackoffCapSeconds = %d, want default 30", cfg.Push.BackoffCapSeconds)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := tempConfigPath(t)
	t.Setenv("PAGEFLOW_BASE_URL", "http://localhost:8080")
	t.Setenv("PAGEFLOW_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.BaseURL != "http://localhost:8080" {
		t.Errorf("BaseURL = %q, want env override", cfg.BaseURL)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := &Config{}
	cfg.Auth.RefreshSkewMinutes = 5
	cfg.Task.PollIntervalSeconds = 3
	cfg.Task.AbandonAfterMinutes = 30

	if got := cfg.RefreshSkew(); got != 5*time.Minute {
		t.Errorf("RefreshSkew = %v", got)
	}
	if got := cfg.PollInterval(); got != 3*time.Second {
		t.Errorf("PollInterval = %v", got)
	}
	if got := cfg.AbandonAfter(); got != 30*time.Minute {
		t.Errorf("AbandonAfter = %v", got)
	}
}
