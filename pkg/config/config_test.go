// Copyright 2025 Tributary Protocol

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadTributaryConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tributary.yaml")

	yaml := `
genesis: "` + strings.Repeat("ab", 32) + `"
network: bitcoin
session: 4
validators:
  - key: "` + strings.Repeat("01", 32) + `"
    weight: 1
  - key: "` + strings.Repeat("02", 32) + `"
    weight: 2
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadTributaryConfig(path)
	if err != nil {
		t.Fatalf("failed to load: %v", err)
	}
	if cfg.Session != 4 || cfg.Network != "bitcoin" {
		t.Errorf("parsed network/session: %s/%d", cfg.Network, cfg.Session)
	}
	if len(cfg.Validators) != 2 || cfg.Validators[1].Weight != 2 {
		t.Error("validator list parsed incorrectly")
	}

	genesis, err := cfg.GenesisBytes()
	if err != nil {
		t.Fatalf("genesis decode failed: %v", err)
	}
	if genesis[0] != 0xab {
		t.Errorf("genesis[0]=%x", genesis[0])
	}

	key, err := cfg.Validators[0].KeyBytes()
	if err != nil {
		t.Fatalf("key decode failed: %v", err)
	}
	if key[0] != 0x01 {
		t.Errorf("key[0]=%x", key[0])
	}
}

func TestLoadTributaryConfig_EnvSubstitution(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tributary.yaml")

	t.Setenv("TEST_TRIBUTARY_GENESIS", strings.Repeat("cd", 32))
	yaml := `
genesis: "${TEST_TRIBUTARY_GENESIS}"
network: monero
session: 0
validators:
  - key: "` + strings.Repeat("03", 32) + `"
    weight: 1
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadTributaryConfig(path)
	if err != nil {
		t.Fatalf("failed to load: %v", err)
	}
	genesis, err := cfg.GenesisBytes()
	if err != nil {
		t.Fatalf("genesis decode failed: %v", err)
	}
	if genesis[0] != 0xcd {
		t.Errorf("env substitution failed: genesis[0]=%x", genesis[0])
	}
}

func TestLoadTributaryConfig_Invalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tributary.yaml")

	// Short genesis
	yaml := `
genesis: "abcd"
network: bitcoin
validators:
  - key: "` + strings.Repeat("01", 32) + `"
    weight: 1
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	if _, err := LoadTributaryConfig(path); err == nil {
		t.Error("expected error for short genesis")
	}

	if _, err := LoadTributaryConfig(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}

	cfg.ScannerParallelism = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero parallelism")
	}
}
