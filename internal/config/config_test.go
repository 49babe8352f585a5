package config

import (
	"strings"
	"testing"
	"time"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("APP_ENV", "development")
	t.Setenv("PORT", "8080")
	t.Setenv("OAUTH_CLIENT_ID", "client-id")
	t.Setenv("OAUTH_CLIENT_SECRET", "client-secret")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("SESSION_STORE", "memory")
	t.Setenv("PROFILE_STORE", "memory")
}

func TestLoadDefaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.OAuthProvider != "google" {
		t.Fatalf("expected default provider google, got %q", cfg.OAuthProvider)
	}
	if cfg.OAuthIssuer != "https://accounts.google.com" {
		t.Fatalf("expected default issuer, got %q", cfg.OAuthIssuer)
	}
	if cfg.SyncAttempts != 3 {
		t.Fatalf("expected default sync attempts 3, got %d", cfg.SyncAttempts)
	}
	if cfg.SyncBaseDelay != time.Second {
		t.Fatalf("expected default base delay 1s, got %s", cfg.SyncBaseDelay)
	}
	if cfg.SessionSkew != 0 {
		t.Fatalf("expected no skew tolerance by default, got %s", cfg.SessionSkew)
	}
	if cfg.HTTPAddress() != ":8080" {
		t.Fatalf("unexpected HTTP address %q", cfg.HTTPAddress())
	}
}

func TestLoadRequiresRedisURLForRedisStore(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("SESSION_STORE", "redis")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when SESSION_STORE is redis without REDIS_URL")
	}
	if !strings.Contains(err.Error(), "REDIS_URL is not set") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadRequiresDatabaseURLForPostgresStore(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("PROFILE_STORE", "postgres")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when PROFILE_STORE is postgres without DATABASE_URL")
	}
	if !strings.Contains(err.Error(), "DATABASE_URL is not set") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadRejectsUnknownStores(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("SESSION_STORE", "etcd")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown SESSION_STORE")
	}

	setBaseEnv(t)
	t.Setenv("PROFILE_STORE", "mongo")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown PROFILE_STORE")
	}
}

func TestLoadParsesRetryTuning(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("PROFILE_SYNC_ATTEMPTS", "5")
	t.Setenv("PROFILE_SYNC_BASE_DELAY", "250ms")
	t.Setenv("SESSION_SKEW_TOLERANCE", "30s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.SyncAttempts != 5 {
		t.Fatalf("expected 5 attempts, got %d", cfg.SyncAttempts)
	}
	if cfg.SyncBaseDelay != 250*time.Millisecond {
		t.Fatalf("expected 250ms base delay, got %s", cfg.SyncBaseDelay)
	}
	if cfg.SessionSkew != 30*time.Second {
		t.Fatalf("expected 30s skew tolerance, got %s", cfg.SessionSkew)
	}
}

func TestLoadRejectsInvalidRetryTuning(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("PROFILE_SYNC_ATTEMPTS", "0")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for zero attempts")
	}

	setBaseEnv(t)
	t.Setenv("PROFILE_SYNC_ATTEMPTS", "3")
	t.Setenv("PROFILE_SYNC_BASE_DELAY", "soon")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unparseable base delay")
	}
}

func TestLoadRejectsInvalidPort(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("PORT", "not-a-port")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for invalid port")
	}
	if !strings.Contains(err.Error(), "invalid port") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRedirectURL(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("PUBLIC_BASE_URL", "https://auth.example.com/")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if got := cfg.RedirectURL("/api/auth/callback"); got != "https://auth.example.com/api/auth/callback" {
		t.Fatalf("unexpected redirect URL %q", got)
	}

	t.Setenv("OAUTH_REDIRECT_URL", "https://other.example.com/cb")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if got := cfg.RedirectURL("/api/auth/callback"); got != "https://other.example.com/cb" {
		t.Fatalf("expected explicit redirect URL to win, got %q", got)
	}
}
