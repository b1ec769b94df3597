package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"hyperbridge/pkg/types"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Environment != "testnet" {
		t.Errorf("default environment = %q", cfg.Environment)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("default port = %d", cfg.Server.Port)
	}
	if cfg.Database.Name != "hyperbridge" {
		t.Errorf("default db name = %q", cfg.Database.Name)
	}
}

func TestLoadReadsFileAndEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
environment: testnet
server:
  port: 9001
venue:
  testnet_key: "0x01"
database:
  url: mongodb://file-host/db
`)
	t.Setenv("ENVIRONMENT", "mainnet")
	t.Setenv("HYPERLIQUID_MAINNET_KEY", "0x02")
	t.Setenv("MONGO_URL", "mongodb://env-host/db")
	t.Setenv("DB_NAME", "prod")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Environment != "mainnet" {
		t.Errorf("env override lost: %q", cfg.Environment)
	}
	if cfg.Venue.MainnetKey != "0x02" || cfg.Venue.TestnetKey != "0x01" {
		t.Errorf("keys = %+v", cfg.Venue)
	}
	if cfg.Database.URL != "mongodb://env-host/db" || cfg.Database.Name != "prod" {
		t.Errorf("database = %+v", cfg.Database)
	}
	if cfg.Server.Port != 9001 {
		t.Errorf("file port lost: %d", cfg.Server.Port)
	}
}

func TestValidateRequiresActiveKey(t *testing.T) {
	cfg := &Config{
		Environment: "mainnet",
		Server:      ServerConfig{Port: 8000},
		Venue:       VenueConfig{TestnetKey: "0x01"}, // wrong environment's key
		Database:    DatabaseConfig{URL: "mongodb://localhost/db"},
	}

	err := cfg.Validate()
	var cfgErr *types.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Validate = %v, want ConfigurationError", err)
	}
}

func TestValidateRejectsUnknownEnvironment(t *testing.T) {
	cfg := &Config{Environment: "staging"}
	var cfgErr *types.ConfigurationError
	if err := cfg.Validate(); !errors.As(err, &cfgErr) {
		t.Fatalf("Validate = %v, want ConfigurationError", err)
	}
}

func TestKeyForSelectsPerEnvironment(t *testing.T) {
	cfg := &Config{Venue: VenueConfig{TestnetKey: "0xt", MainnetKey: "0xm"}}

	if key, err := cfg.KeyFor(types.Testnet); err != nil || key != "0xt" {
		t.Errorf("testnet key = %q, %v", key, err)
	}
	if key, err := cfg.KeyFor(types.Mainnet); err != nil || key != "0xm" {
		t.Errorf("mainnet key = %q, %v", key, err)
	}

	cfg.Venue.MainnetKey = ""
	if _, err := cfg.KeyFor(types.Mainnet); err == nil {
		t.Error("missing mainnet key not rejected")
	}
}
