package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected lower-cased log level, got %q", cfg.LogLevel)
	}
	if cfg.Ledger.PendingTimeout != 30*time.Minute {
		t.Fatalf("expected 30m pending timeout, got %s", cfg.Ledger.PendingTimeout)
	}
	if cfg.Ledger.ReconcileEpsilon != 50 {
		t.Fatalf("expected epsilon 50, got %d", cfg.Ledger.ReconcileEpsilon)
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("unexpected address %s", cfg.Address())
	}
}

func TestLoadRequiresDatabaseOutsideDev(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("DATABASE_URL", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when DATABASE_URL is missing in production")
	}
}

func TestValidateLimitOrdering(t *testing.T) {
	cfg := Config{
		AppEnv:     "development",
		Withdrawal: Withdrawal{DailyLimit: 500, WeeklyLimit: 100, MonthlyLimit: 1000},
		Ledger:     Ledger{ReconcileConcurrency: 1},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected ordering error")
	}
}
