package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadFull(t *testing.T) {
	yamlContent := []byte(`
storage:
  data_dir: "/tmp/tradeease/data"
  sqlite_path: "/tmp/tradeease/instruments.db"
server:
  host: "127.0.0.1"
  port: 8000
kite:
  api_key: "test-key"
  api_secret: "test-secret"
  base_url: "https://api.kite.trade"
  feed_url: "wss://ws.kite.trade"
logging:
  level: "debug"
  format: "text"
tracker:
  poll_transitional: "2s"
  poll_open: "5s"
  poll_retry: "10s"
  reconcile_every: "5s"
  evict_complete: "10s"
  evict_terminal: "5s"
trading:
  paper_mode: true
  default_offset: 2.5
  nifty_lot_size: 75
  sensex_lot_size: 30
`)

	tmpFile, err := os.CreateTemp("", "tradeease-config-*.yaml")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.Write(yamlContent); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	if err := tmpFile.Close(); err != nil {
		t.Fatalf("failed to close temp file: %v", err)
	}

	// Clear any environment overrides that might interfere.
	os.Unsetenv("KITE_API_KEY")
	os.Unsetenv("KITE_API_SECRET")
	os.Unsetenv("KITE_ACCESS_TOKEN")
	os.Unsetenv("DATA_DIR")
	os.Unsetenv("LOG_LEVEL")

	cfg, err := Load(tmpFile.Name())
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	// -- Storage --
	if cfg.Storage.DataDir != "/tmp/tradeease/data" {
		t.Errorf("Storage.DataDir = %q, want %q", cfg.Storage.DataDir, "/tmp/tradeease/data")
	}
	if cfg.Storage.SQLitePath != "/tmp/tradeease/instruments.db" {
		t.Errorf("Storage.SQLitePath = %q, want %q", cfg.Storage.SQLitePath, "/tmp/tradeease/instruments.db")
	}

	// -- Server --
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 8000)
	}

	// -- Kite --
	if cfg.Kite.APIKey != "test-key" {
		t.Errorf("Kite.APIKey = %q, want %q", cfg.Kite.APIKey, "test-key")
	}
	if cfg.Kite.BaseURL != "https://api.kite.trade" {
		t.Errorf("Kite.BaseURL = %q, want %q", cfg.Kite.BaseURL, "https://api.kite.trade")
	}

	// -- Logging --
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "text")
	}

	// -- Tracker --
	if cfg.Tracker.PollTransitional.Std() != 2*time.Second {
		t.Errorf("Tracker.PollTransitional = %v, want 2s", cfg.Tracker.PollTransitional.Std())
	}
	if cfg.Tracker.EvictComplete.Std() != 10*time.Second {
		t.Errorf("Tracker.EvictComplete = %v, want 10s", cfg.Tracker.EvictComplete.Std())
	}

	// -- Trading --
	if !cfg.Trading.PaperMode {
		t.Error("Trading.PaperMode = false, want true")
	}
	if cfg.Trading.DefaultOffset != 2.5 {
		t.Errorf("Trading.DefaultOffset = %f, want %f", cfg.Trading.DefaultOffset, 2.5)
	}
	if cfg.Trading.NiftyLotSize != 75 {
		t.Errorf("Trading.NiftyLotSize = %d, want %d", cfg.Trading.NiftyLotSize, 75)
	}
}

func TestLoadDefaults(t *testing.T) {
	// A near-empty config must still produce a runnable configuration.
	yamlContent := []byte(`
kite:
  api_key: "k"
`)

	tmpFile, err := os.CreateTemp("", "tradeease-config-min-*.yaml")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.Write(yamlContent); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	tmpFile.Close()

	os.Unsetenv("KITE_BASE_URL")
	os.Unsetenv("LOG_LEVEL")

	cfg, err := Load(tmpFile.Name())
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port default = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Kite.BaseURL != "https://api.kite.trade" {
		t.Errorf("Kite.BaseURL default = %q", cfg.Kite.BaseURL)
	}
	if cfg.Tracker.PollTransitional.Std() != 2*time.Second {
		t.Errorf("Tracker.PollTransitional default = %v, want 2s", cfg.Tracker.PollTransitional.Std())
	}
	if cfg.Tracker.PollOpen.Std() != 5*time.Second {
		t.Errorf("Tracker.PollOpen default = %v, want 5s", cfg.Tracker.PollOpen.Std())
	}
	if cfg.Tracker.PollRetry.Std() != 10*time.Second {
		t.Errorf("Tracker.PollRetry default = %v, want 10s", cfg.Tracker.PollRetry.Std())
	}
	if cfg.Tracker.EvictTerminal.Std() != 5*time.Second {
		t.Errorf("Tracker.EvictTerminal default = %v, want 5s", cfg.Tracker.EvictTerminal.Std())
	}
	if cfg.Trading.DefaultOffset != 1.5 {
		t.Errorf("Trading.DefaultOffset default = %f, want 1.5", cfg.Trading.DefaultOffset)
	}
	if cfg.Trading.SensexLotSize != 30 {
		t.Errorf("Trading.SensexLotSize default = %d, want 30", cfg.Trading.SensexLotSize)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format default = %q, want json", cfg.Logging.Format)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	yamlContent := []byte(`
kite:
  api_key: "yaml-key"
  api_secret: "yaml-secret"
storage:
  data_dir: "/original/data"
`)

	tmpFile, err := os.CreateTemp("", "tradeease-config-env-*.yaml")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.Write(yamlContent); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	tmpFile.Close()

	os.Setenv("KITE_API_KEY", "env-key")
	os.Setenv("DATA_DIR", "/env/data")
	defer os.Unsetenv("KITE_API_KEY")
	defer os.Unsetenv("DATA_DIR")

	cfg, err := Load(tmpFile.Name())
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Kite.APIKey != "env-key" {
		t.Errorf("Kite.APIKey = %q, want %q (env override)", cfg.Kite.APIKey, "env-key")
	}
	// api_secret should remain from YAML since no env override was set.
	if cfg.Kite.APISecret != "yaml-secret" {
		t.Errorf("Kite.APISecret = %q, want %q (from YAML)", cfg.Kite.APISecret, "yaml-secret")
	}
	if cfg.Storage.DataDir != "/env/data" {
		t.Errorf("Storage.DataDir = %q, want %q (env override)", cfg.Storage.DataDir, "/env/data")
	}
}
