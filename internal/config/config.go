// Package config reads service configuration from the environment.
package config

import (
	"fmt"
	"os"
)

// Config holds everything the daemon needs to start.
type Config struct {
	// Addr is the HTTP listen address.
	Addr string
	// DatabasePath is the sqlite file path, or ":memory:" for ephemeral runs.
	DatabasePath string
	// CatalogPath points at the JSON box catalog. Empty means start with
	// an empty catalog.
	CatalogPath string
	// Env is the deployment environment label used in logs.
	Env string
	// ShutdownTimeoutSec bounds graceful shutdown.
	ShutdownTimeoutSec int
}

// Load reads configuration from the environment, applying defaults for
// anything unset.
func Load() (*Config, error) {
	cfg := &Config{
		Addr:               envStr("FAIRCORE_ADDR", ":8080"),
		DatabasePath:       envStr("FAIRCORE_DB_PATH", "faircore.db"),
		CatalogPath:        envStr("FAIRCORE_CATALOG_PATH", ""),
		Env:                envStr("FAIRCORE_ENV", "development"),
		ShutdownTimeoutSec: envInt("FAIRCORE_SHUTDOWN_TIMEOUT_SEC", 15),
	}

	if cfg.DatabasePath == "" {
		return nil, fmt.Errorf("config: FAIRCORE_DB_PATH must not be empty")
	}
	if cfg.ShutdownTimeoutSec < 1 {
		return nil, fmt.Errorf("config: FAIRCORE_SHUTDOWN_TIMEOUT_SEC must be at least 1, got %d", cfg.ShutdownTimeoutSec)
	}
	return cfg, nil
}

func envStr(k, def string) string {
	if s := os.Getenv(k); s != "" {
		return s
	}
	return def
}

func envInt(k string, def int) int {
	if s := os.Getenv(k); s != "" {
		var v int
		if _, err := fmt.Sscanf(s, "%d", &v); err == nil {
			return v
		}
	}
	return def
}
