package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load with defaults failed: %v", err)
	}

	if cfg.Role != "standard" {
		t.Errorf("expected standard role default, got %q", cfg.Role)
	}
	if cfg.Privileged() {
		t.Errorf("standard role must not be privileged")
	}
	if cfg.SyncInterval != 30*time.Second {
		t.Errorf("expected 30s default interval, got %v", cfg.SyncInterval)
	}
	if cfg.DashboardPort != 8080 {
		t.Errorf("expected port 8080 default, got %d", cfg.DashboardPort)
	}
	if cfg.DBPath == "" || cfg.IntakeDir == "" {
		t.Errorf("expected path defaults, got %q / %q", cfg.DBPath, cfg.IntakeDir)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frotahub.yaml")
	body := `
endpoint: https://example.com/exec
role: manager
sync_interval: 5s
continue_on_error: true
dashboard_port: 9000
`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Endpoint != "https://example.com/exec" {
		t.Errorf("endpoint not loaded: %q", cfg.Endpoint)
	}
	if !cfg.Privileged() {
		t.Errorf("manager role should be privileged")
	}
	if cfg.SyncInterval != 5*time.Second {
		t.Errorf("expected 5s interval, got %v", cfg.SyncInterval)
	}
	if !cfg.ContinueOnError {
		t.Errorf("continue_on_error not loaded")
	}
	if cfg.DashboardPort != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.DashboardPort)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("FROTAHUB_ROLE", "manager")
	t.Setenv("FROTAHUB_ENDPOINT", "https://env.example.com")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Role != "manager" {
		t.Errorf("env role override ignored: %q", cfg.Role)
	}
	if cfg.Endpoint != "https://env.example.com" {
		t.Errorf("env endpoint override ignored: %q", cfg.Endpoint)
	}
}

func TestLoadRejectsBadInterval(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frotahub.yaml")
	if err := os.WriteFile(path, []byte("sync_interval: -10s\n"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.SyncInterval != 30*time.Second {
		t.Errorf("negative interval should fall back to default, got %v", cfg.SyncInterval)
	}
}
