package config

import (
	"testing"
	"time"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadKeepsDefaultsAndOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("STATS_CACHE_TTL_SECONDS", "0")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "15")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Address() != ":9090" {
		t.Fatalf("expected :9090, got %s", cfg.Address())
	}
	if cfg.StatsCacheTTL() != 30*time.Second {
		t.Fatalf("expected stats ttl fallback of 30s, got %s", cfg.StatsCacheTTL())
	}
	if cfg.AccessTokenTTL() != 15*time.Minute {
		t.Fatalf("expected 15m token ttl, got %s", cfg.AccessTokenTTL())
	}
	if cfg.StockImageDir != "static_images" {
		t.Fatalf("expected default stock image dir, got %q", cfg.StockImageDir)
	}
}

func TestLoadRejectsMalformedNumbers(t *testing.T) {
	t.Setenv("REDIS_DB", "zero")

	if _, err := Load(); err == nil {
		t.Fatalf("expected malformed REDIS_DB to be rejected")
	}
}

func TestLoadClientDefaults(t *testing.T) {
	t.Setenv("POSCTL_API_URL", "")
	t.Setenv("POSCTL_TIMEOUT_SECONDS", "-4")

	cfg, err := LoadClient()
	if err != nil {
		t.Fatalf("load client: %v", err)
	}
	if cfg.Timeout() != 15*time.Second {
		t.Fatalf("expected 15s timeout, got %s", cfg.Timeout())
	}
}
