package config_test

import (
	"testing"
	"time"

	"github.com/iho/billsync/internal/infrastructure/config"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("unexpected error loading config: %v", err)
	}

	if cfg.DatabaseURL == "" {
		t.Fatalf("expected default database URL to be set")
	}

	if cfg.RedisURL != "" {
		t.Fatalf("expected redis URL default to be empty, got %q", cfg.RedisURL)
	}

	if cfg.HTTPPort != "8080" {
		t.Fatalf("expected default HTTP port 8080, got %s", cfg.HTTPPort)
	}

	if cfg.SyncWorkers != 8 {
		t.Fatalf("expected default worker count 8, got %d", cfg.SyncWorkers)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("REDIS_URL", "redis://example")
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("DATABASE_TIMEOUT", "45s")
	t.Setenv("SYNC_WORKERS", "4")
	t.Setenv("EXCLUDE_ACCOUNTS", "acct-1, acct-2")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("unexpected error loading config: %v", err)
	}

	if cfg.DatabaseURL != "postgres://example" {
		t.Fatalf("expected custom database URL, got %s", cfg.DatabaseURL)
	}

	if cfg.RedisURL != "redis://example" {
		t.Fatalf("expected custom redis URL, got %s", cfg.RedisURL)
	}

	if cfg.HTTPPort != "9090" {
		t.Fatalf("expected HTTP port override, got %s", cfg.HTTPPort)
	}

	if cfg.DatabaseTimeout != 45*time.Second {
		t.Fatalf("expected database timeout override, got %s", cfg.DatabaseTimeout)
	}

	if cfg.SyncWorkers != 4 {
		t.Fatalf("expected worker override, got %d", cfg.SyncWorkers)
	}

	excluded := config.SplitList(cfg.ExcludeAccounts)
	if len(excluded) != 2 {
		t.Fatalf("expected 2 excluded accounts, got %d", len(excluded))
	}
	if _, ok := excluded["acct-2"]; !ok {
		t.Fatalf("expected acct-2 in excluded set")
	}
}

func TestLoadInvalidDuration(t *testing.T) {
	t.Setenv("HTTP_READ_TIMEOUT", "not-a-duration")

	if _, err := config.Load(); err == nil {
		t.Fatalf("expected error for invalid duration")
	}
}

func TestSplitListEmpty(t *testing.T) {
	if set := config.SplitList(""); len(set) != 0 {
		t.Fatalf("expected empty set, got %d entries", len(set))
	}
}
