package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewDefaults(t *testing.T) {
	cfg := New()
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.DLM.SweepInterval != 10*time.Second {
		t.Fatalf("expected default sweep interval 10s, got %s", cfg.DLM.SweepInterval)
	}
	if cfg.Daemon.GraceTimeout != 10*time.Second {
		t.Fatalf("expected default grace timeout 10s, got %s", cfg.Daemon.GraceTimeout)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := "server:\n  port: 9191\ndlm:\n  sweep_interval: 30s\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Server.Port != 9191 {
		t.Fatalf("expected overridden port 9191, got %d", cfg.Server.Port)
	}
	if cfg.DLM.SweepInterval != 30*time.Second {
		t.Fatalf("expected overridden sweep interval 30s, got %s", cfg.DLM.SweepInterval)
	}
}

func TestLoadFileMissingIsNotAnError(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("expected missing file to be tolerated, got %v", err)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Fatalf("expected default host preserved, got %s", cfg.Server.Host)
	}
}
