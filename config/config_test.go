package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
glassnode:
  base_url: "https://api.example.com"
  api_key: "from-file"
  interval: "1h"
  poll_every: 30s
assets:
  - BTC
metrics:
  - category: market
    name: mvrv_z_score
  - category: transactions
    name: transfers_volume_exchanges_net
    params:
      e: aggregated
postgres:
  host: db
  port: 5432
  user: u
  password: p
  database: d
  sslmode: disable
redis:
  host: cache
  port: 6379
api:
  port: 9090
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Glassnode.BaseURL != "https://api.example.com" {
		t.Errorf("unexpected base url: %s", cfg.Glassnode.BaseURL)
	}
	if cfg.Glassnode.PollEvery.Std() != 30*time.Second {
		t.Errorf("unexpected poll interval: %v", cfg.Glassnode.PollEvery)
	}
	if len(cfg.Metrics) != 2 || cfg.Metrics[0].Path() != "market/mvrv_z_score" {
		t.Errorf("unexpected metrics: %+v", cfg.Metrics)
	}
	if cfg.Metrics[1].Params["e"] != "aggregated" {
		t.Errorf("expected metric params to parse, got %+v", cfg.Metrics[1].Params)
	}
	if cfg.API.Port != 9090 {
		t.Errorf("unexpected api port: %d", cfg.API.Port)
	}

	expected := "host=db port=5432 user=u password=p dbname=d sslmode=disable"
	if got := cfg.Postgres.ConnectionString(); got != expected {
		t.Errorf("unexpected connection string: %s", got)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
assets:
  - BTC
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Glassnode.BaseURL != "https://api.glassnode.com" {
		t.Errorf("expected default base url, got %s", cfg.Glassnode.BaseURL)
	}
	if cfg.Glassnode.Interval != "24h" {
		t.Errorf("expected default interval, got %s", cfg.Glassnode.Interval)
	}
	if cfg.Workers.PerCategory != 3 {
		t.Errorf("expected default workers, got %d", cfg.Workers.PerCategory)
	}
	if cfg.API.Port != 8080 {
		t.Errorf("expected default port, got %d", cfg.API.Port)
	}
}

func TestLoadConfigEnvOverridesAPIKey(t *testing.T) {
	path := writeConfig(t, `
glassnode:
  api_key: "from-file"
`)

	t.Setenv("GLASSNODE_API_KEY", "from-env")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Glassnode.APIKey != "from-env" {
		t.Errorf("expected env override, got %s", cfg.Glassnode.APIKey)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
