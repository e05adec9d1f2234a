package config

import (
	"testing"
	"time"
)

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_ACCESS_SECRET", "secret")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when DATABASE_URL is empty")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/pipeline")
	t.Setenv("JWT_ACCESS_SECRET", "secret")
	t.Setenv("CORS_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("CORS_ALLOW_ALL", "false")
	t.Setenv("FOLLOWUP_SWEEP_INTERVAL", "")
	t.Setenv("FOLLOWUP_WORKERS", "8")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.GetCORSOrigins()) != 2 {
		t.Fatalf("expected 2 cors origins, got %v", cfg.GetCORSOrigins())
	}
	if cfg.GetFollowupWorkers() != 8 {
		t.Fatalf("expected 8 followup workers, got %d", cfg.GetFollowupWorkers())
	}
	if cfg.GetFollowupSweepInterval() != 0 {
		t.Fatalf("expected empty interval to parse as 0, got %s", cfg.GetFollowupSweepInterval())
	}
}

func TestLoadRejectsWildcardWithCredentials(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/pipeline")
	t.Setenv("JWT_ACCESS_SECRET", "secret")
	t.Setenv("CORS_ORIGINS", "*")
	t.Setenv("CORS_ALLOW_ALL", "false")
	t.Setenv("CORS_ALLOW_CREDENTIALS", "true")

	if _, err := Load(); err == nil {
		t.Fatal("expected wildcard origins with credentials to be rejected")
	}
}

func TestMustDurationFallsBackToZero(t *testing.T) {
	if got := mustDuration("nonsense"); got != 0 {
		t.Fatalf("expected 0, got %s", got)
	}
	if got := mustDuration("90m"); got != 90*time.Minute {
		t.Fatalf("expected 90m, got %s", got)
	}
}
