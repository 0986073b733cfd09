// Copyright 2025 Tributary Protocol
//
// Coordinator configuration
//
// Configuration loads from environment variables with safe defaults, with
// an optional YAML file for the Tributary definition (genesis, validator
// set). YAML values support ${VAR} environment substitution.

package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the coordinator service.
type Config struct {
	// Storage
	DataDir string

	// Main-chain (settlement) RPC endpoint, CometBFT-compatible
	MainChainRPC string

	// Scanner Configuration
	ScannerNodes       []string
	ScannerParallelism int

	// Server Configuration
	MetricsAddr string

	// Service Configuration
	ValidatorKeyPath    string
	ProcessorQueueDepth int
	LogLevel            string

	// Tributary definition file (YAML)
	TributaryConfigPath string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		DataDir:      getEnv("DATA_DIR", "./data"),
		MainChainRPC: getEnv("MAIN_CHAIN_RPC", "http://127.0.0.1:26657"),

		ScannerNodes:       splitList(getEnv("SCANNER_NODES", "")),
		ScannerParallelism: getEnvInt("SCANNER_PARALLELISM", 8),

		MetricsAddr: getEnv("METRICS_HOST", "0.0.0.0") + ":" + getEnv("METRICS_PORT", "9090"),

		ValidatorKeyPath:    getEnv("VALIDATOR_KEY_PATH", ""),
		ProcessorQueueDepth: getEnvInt("PROCESSOR_QUEUE_DEPTH", 128),
		LogLevel:            getEnv("LOG_LEVEL", "info"),

		TributaryConfigPath: getEnv("TRIBUTARY_CONFIG", "tributary.yaml"),
	}
	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("DATA_DIR must be set")
	}
	if c.TributaryConfigPath == "" {
		return fmt.Errorf("TRIBUTARY_CONFIG must be set")
	}
	if c.ScannerParallelism < 1 {
		return fmt.Errorf("SCANNER_PARALLELISM must be at least 1")
	}
	return nil
}

// ==============================================================================
// Tributary Definition (YAML)
// ==============================================================================

// TributaryConfig defines one Tributary: its genesis, validator set key,
// and participant list.
type TributaryConfig struct {
	Genesis string `yaml:"genesis"` // 32-byte hex
	Network string `yaml:"network"` // serai | bitcoin | ethereum | monero
	Session uint32 `yaml:"session"`

	Validators []ValidatorConfig `yaml:"validators"`
}

// ValidatorConfig is one participant entry.
type ValidatorConfig struct {
	Key    string `yaml:"key"` // 32-byte hex Ristretto public key
	Weight uint16 `yaml:"weight"`
}

// envSubstPattern matches ${VAR} references in YAML values.
var envSubstPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// substituteEnv replaces ${VAR} references with environment values.
func substituteEnv(data []byte) []byte {
	return envSubstPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := envSubstPattern.FindSubmatch(match)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// LoadTributaryConfig reads and validates a Tributary definition.
func LoadTributaryConfig(path string) (*TributaryConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tributary config: %w", err)
	}

	var cfg TributaryConfig
	if err := yaml.Unmarshal(substituteEnv(data), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse tributary config: %w", err)
	}

	if _, err := cfg.GenesisBytes(); err != nil {
		return nil, err
	}
	if len(cfg.Validators) == 0 {
		return nil, fmt.Errorf("tributary config defines no validators")
	}
	return &cfg, nil
}

// GenesisBytes decodes the genesis field.
func (c *TributaryConfig) GenesisBytes() ([32]byte, error) {
	var genesis [32]byte
	decoded, err := hex.DecodeString(strings.TrimPrefix(c.Genesis, "0x"))
	if err != nil {
		return genesis, fmt.Errorf("invalid genesis hex: %w", err)
	}
	if len(decoded) != 32 {
		return genesis, fmt.Errorf("genesis must be 32 bytes, got %d", len(decoded))
	}
	copy(genesis[:], decoded)
	return genesis, nil
}

// KeyBytes decodes a validator key entry.
func (v *ValidatorConfig) KeyBytes() ([32]byte, error) {
	var key [32]byte
	decoded, err := hex.DecodeString(strings.TrimPrefix(v.Key, "0x"))
	if err != nil {
		return key, fmt.Errorf("invalid validator key hex: %w", err)
	}
	if len(decoded) != 32 {
		return key, fmt.Errorf("validator key must be 32 bytes, got %d", len(decoded))
	}
	copy(key[:], decoded)
	return key, nil
}

// ==============================================================================
// Helpers
// ==============================================================================

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// splitList parses a comma-separated list, dropping empty entries.
func splitList(value string) []string {
	if value == "" {
		return nil
	}
	var out []string
	for _, entry := range strings.Split(value, ",") {
		if entry = strings.TrimSpace(entry); entry != "" {
			out = append(out, entry)
		}
	}
	return out
}
