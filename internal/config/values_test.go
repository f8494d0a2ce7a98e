package config

import (
	"reflect"
	"testing"
)

func TestFlattenUnflattenRoundTrip(t *testing.T) {
	nested := map[string]any{
		"base_url": "https://api.pageflow.app",
		"task": map[string]any{
			"poll_interval_seconds": int64(3),
		},
		"push": map[string]any{
			"max_attempts": int64(8),
		},
	}

	flat := Flatten(nested)
	if flat["task.poll_interval_seconds"] != int64(3) {
		t.Errorf("flat task.poll_interval_seconds = %v", flat["task.poll_interval_seconds"])
	}
	if flat["base_url"] != "https://api.pageflow.app" {
		t.Errorf("flat base_url = %v", flat["base_url"])
	}

	back := Unflatten(flat)
	if !reflect.DeepEqual(back, nested) {
		t.Errorf("round trip mismatch:\n got %v\nwant %v", back, nested)
	}
}

func TestListValues(t *testing.T) {
	path := tempConfigPath(t)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	flat, err := ListValues(cfg)
	if err != nil {
		t.Fatalf("ListValues failed: %v", err)
	}
	if flat["task.poll_interval_seconds"] != int64(3) {
		t.Errorf("task.poll_interval_seconds = %v, want 3", flat["task.poll_interval_seconds"])
	}
	if flat["watch.reconcile_schedule"] != "@every 5m" {
		t.Errorf("watch.reconcile_schedule = %v", flat["watch.reconcile_schedule"])
	}
}

func TestGetValue(t *testing.T) {
	path := tempConfigPath(t)
	if _, err := Load(path); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	val, err := GetValue(path, "push.max_attempts")
	if err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	if val != int64(8) {
		t.Errorf("push.max_attempts = %v, want 8", val)
	}

	if _, err := GetValue(path, "no.such.key"); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestSetValue(t *testing.T) {
	path := tempConfigPath(t)
	if _, err := Load(path); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if err := SetValue(path, "task.poll_interval_seconds", "7"); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if cfg.Task.PollIntervalSeconds != 7 {
		t.Errorf("PollIntervalSeconds = %d, want 7", cfg.Task.PollIntervalSeconds)
	}

	if err := SetValue(path, "base_url", "http://localhost:9000"); err != nil {
		t.Fatalf("SetValue string failed: %v", err)
	}
	cfg, _ = Load(path)
	if cfg.BaseURL != "http://localhost:9000" {
		t.Errorf("BaseURL = %q", cfg.BaseURL)
	}
}

func TestSetValueRejectsBadInput(t *testing.T) {
	path := tempConfigPath(t)
	if _, err := Load(path); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if err := SetValue(path, "task.poll_interval_seconds", "fast"); err == nil {
		t.Error("expected error coercing non-numeric value")
	}
	if err := SetValue(path, "no.such.key", "1"); err == nil {
		t.Error("expected error for unknown key")
	}
}
