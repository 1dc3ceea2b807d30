package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func withTempHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("ZAPLINK_HOME", home)
	t.Setenv("HOME", home)
	t.Setenv("ZAPLINK_CONFIG", "")
	t.Setenv("ZAPLINK_ENV_FILE", filepath.Join(home, "no-such-env"))
	return home
}

func TestLoadDefaultsWhenNoFile(t *testing.T) {
	withTempHome(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Poller.Interval != 5*time.Second {
		t.Fatalf("poller interval = %s", cfg.Poller.Interval)
	}
	if cfg.Webhook.DedupTTL != 10*time.Minute {
		t.Fatalf("dedup ttl = %s", cfg.Webhook.DedupTTL)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Fatalf("server host = %q", cfg.Server.Host)
	}
}

func TestFileOverridesDefaults(t *testing.T) {
	home := withTempHome(t)
	dir := filepath.Join(home, ConfigDir)
	if err := os.MkdirAll(dir, 0700); err != nil {
		t.Fatal(err)
	}
	file := map[string]any{
		"gateway": map[string]any{"baseUrl": "https://wa.example.com", "apiKey": "k1"},
		"server":  map[string]any{"port": 9999},
	}
	data, _ := json.Marshal(file)
	if err := os.WriteFile(filepath.Join(dir, ConfigFile), data, 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.BaseURL != "https://wa.example.com" || cfg.Gateway.APIKey != "k1" {
		t.Fatalf("gateway = %+v", cfg.Gateway)
	}
	if cfg.Server.Port != 9999 {
		t.Fatalf("port = %d", cfg.Server.Port)
	}
	// Untouched groups keep their defaults.
	if cfg.ReplyCache.Capacity != 256 {
		t.Fatalf("capacity = %d", cfg.ReplyCache.Capacity)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	home := withTempHome(t)
	dir := filepath.Join(home, ConfigDir)
	if err := os.MkdirAll(dir, 0700); err != nil {
		t.Fatal(err)
	}
	data := []byte(`{"gateway":{"baseUrl":"https://file.example.com"}}`)
	if err := os.WriteFile(filepath.Join(dir, ConfigFile), data, 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ZAPLINK_GATEWAY_BASE_URL", "https://env.example.com")
	t.Setenv("ZAPLINK_POLLER_INTERVAL", "2s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.BaseURL != "https://env.example.com" {
		t.Fatalf("env override lost: %q", cfg.Gateway.BaseURL)
	}
	if cfg.Poller.Interval != 2*time.Second {
		t.Fatalf("poller interval = %s", cfg.Poller.Interval)
	}
}

func TestDataDirTildeExpansion(t *testing.T) {
	home := withTempHome(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := filepath.Join(home, ".zaplink")
	if cfg.Paths.DataDir != want {
		t.Fatalf("data dir = %q, want %q", cfg.Paths.DataDir, want)
	}
	if cfg.DatabasePath() != filepath.Join(want, "instances.db") {
		t.Fatalf("db path = %q", cfg.DatabasePath())
	}
}

func TestGatewayKeyFallbackEnv(t *testing.T) {
	withTempHome(t)
	t.Setenv("WHATSAPP_GATEWAY_API_KEY", "fallback-key")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.APIKey != "fallback-key" {
		t.Fatalf("api key = %q", cfg.Gateway.APIKey)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	withTempHome(t)

	cfg := DefaultConfig()
	cfg.Gateway.BaseURL = "https://saved.example.com"
	if err := Save(cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Gateway.BaseURL != "https://saved.example.com" {
		t.Fatalf("round trip lost value: %q", loaded.Gateway.BaseURL)
	}
}
