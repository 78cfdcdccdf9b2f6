package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Errorf("Addr = %q, want :8080", cfg.Addr)
	}
	if cfg.DatabasePath != "faircore.db" {
		t.Errorf("DatabasePath = %q, want faircore.db", cfg.DatabasePath)
	}
	if cfg.ShutdownTimeoutSec != 15 {
		t.Errorf("ShutdownTimeoutSec = %d, want 15", cfg.ShutdownTimeoutSec)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("FAIRCORE_ADDR", "127.0.0.1:9999")
	t.Setenv("FAIRCORE_DB_PATH", ":memory:")
	t.Setenv("FAIRCORE_SHUTDOWN_TIMEOUT_SEC", "3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != "127.0.0.1:9999" {
		t.Errorf("Addr = %q", cfg.Addr)
	}
	if cfg.DatabasePath != ":memory:" {
		t.Errorf("DatabasePath = %q", cfg.DatabasePath)
	}
	if cfg.ShutdownTimeoutSec != 3 {
		t.Errorf("ShutdownTimeoutSec = %d", cfg.ShutdownTimeoutSec)
	}
}

func TestLoadRejectsBadTimeout(t *testing.T) {
	t.Setenv("FAIRCORE_SHUTDOWN_TIMEOUT_SEC", "0")
	if _, err := Load(); err == nil {
		t.Error("Load accepted a zero shutdown timeout")
	}
}
