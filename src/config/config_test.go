package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"flow-observer/src/helpers"
)

const sampleYAML = `
name: flow-observer
port: 8080
storage:
  db_path: data/observer.db
cvd:
  enabled: true
  symbols: [btcusdt, " ETHUSDT ", BTCUSDT]
heatmap:
  enabled: true
  symbols: [BTCUSDT]
liquidation:
  enabled: true
  quote_asset: usdt
`

func TestParseAppliesDefaults(t *testing.T) {
	t.Setenv("OBSERVER_DB_PATH", "")
	t.Setenv("LOG_LEVEL", "")

	cfg, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if !reflect.DeepEqual(cfg.Cvd.Symbols, []string{"BTCUSDT", "ETHUSDT"}) {
		t.Fatalf("symbols not normalised: %v", cfg.Cvd.Symbols)
	}
	if cfg.Cvd.StalenessSeconds != 15 {
		t.Fatalf("staleness default = %d", cfg.Cvd.StalenessSeconds)
	}
	if cfg.Heatmap.SnapshotIntervalSeconds != 30 || cfg.Heatmap.RetentionHours != 48 {
		t.Fatalf("heatmap defaults wrong: %+v", cfg.Heatmap)
	}
	if cfg.Liquidation.TopN != 30 || cfg.Liquidation.QuoteAsset != "USDT" {
		t.Fatalf("liquidation defaults wrong: %+v", cfg.Liquidation)
	}
	if cfg.Storage.SnapshotStore != "sqlite" {
		t.Fatalf("snapshot store default = %q", cfg.Storage.SnapshotStore)
	}
	if got := cfg.AllSymbols(); !reflect.DeepEqual(got, []string{"BTCUSDT", "ETHUSDT"}) {
		t.Fatalf("AllSymbols() = %v", got)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("OBSERVER_DB_PATH", "/tmp/override.db")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Storage.DBPath != "/tmp/override.db" || cfg.LogLevel != "debug" {
		t.Fatalf("env overrides not applied: %q %q", cfg.Storage.DBPath, cfg.LogLevel)
	}
}

func TestValidateRejects(t *testing.T) {
	t.Setenv("OBSERVER_DB_PATH", "")
	t.Setenv("OBSERVER_PG_DSN", "")

	cases := map[string]string{
		"bad port":         strings.Replace(sampleYAML, "port: 8080", "port: 80", 1),
		"postgres w/o dsn": strings.Replace(sampleYAML, "db_path: data/observer.db", "db_path: data/observer.db\n  snapshot_store: postgres", 1),
		"unknown store":    strings.Replace(sampleYAML, "db_path: data/observer.db", "db_path: data/observer.db\n  snapshot_store: mongo", 1),
		"no cvd symbols":   strings.Replace(sampleYAML, "symbols: [btcusdt, \" ETHUSDT \", BTCUSDT]", "symbols: []", 1),
	}
	for name, doc := range cases {
		_, err := Parse([]byte(doc))
		var cfgErr *helpers.ConfigurationError
		if !errors.As(err, &cfgErr) {
			t.Fatalf("%s: expected configuration error, got %v", name, err)
		}
	}
}

func TestNewConfigFromFile(t *testing.T) {
	t.Setenv("OBSERVER_DB_PATH", "")
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	loaded, err := NewConfig(path)
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	want, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if loaded.Port != want.Port || loaded.Cvd.RetentionDays != want.Cvd.RetentionDays {
		t.Fatalf("loaded config differs from parsed one")
	}

	if _, err := NewConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
