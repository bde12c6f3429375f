// Copyright (c) 2024 The BitFS developers
// Use of this source code is governed by the Open BSV License v5
// that can be found in the LICENSE file.

// Package config loads the registry host and snapshot tool configuration
// from a YAML file with DAOREG_ environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DAOREG_"

// Config holds the settings for the registry host and its tooling.
type Config struct {
	DataDir     string `yaml:"data_dir" env:"DATA_DIR"`
	Network     string `yaml:"network" env:"NETWORK"`
	ListenAddr  string `yaml:"listen_addr" env:"LISTEN_ADDR"`
	MetricsAddr string `yaml:"metrics_addr" env:"METRICS_ADDR"`

	// Owner is the deployer address recorded on first start. Ignored once a
	// database already holds an owner.
	Owner string `yaml:"owner" env:"OWNER"`

	LogLevel    string `yaml:"log_level" env:"LOG_LEVEL"`
	LogEncoding string `yaml:"log_encoding" env:"LOG_ENCODING"`
	LogFile     string `yaml:"log_file" env:"LOG_FILE"`

	MaxRequestBytes int64 `yaml:"max_request_bytes" env:"MAX_REQUEST_BYTES"`

	Snapshot SnapshotConfig `yaml:"snapshot" envPrefix:"SNAPSHOT_"`
}

// SnapshotConfig drives the holder scan and batch submission.
type SnapshotConfig struct {
	// APIURL is the holder indexer. It must report holders as P2PKH
	// addresses or paymail handles; other identities are not resolvable.
	APIURL       string `yaml:"api_url" env:"API_URL"`
	RPCURL       string `yaml:"rpc_url" env:"RPC_URL"`
	TokenID      string `yaml:"token_id" env:"TOKEN_ID"`
	CollectionID string `yaml:"collection_id" env:"COLLECTION_ID"`

	// MinHold is the minimum fungible balance in whole tokens, as a decimal
	// ("1", "0.5").
	MinHold string `yaml:"min_hold" env:"MIN_HOLD"`

	// MaxUnresolved is the largest share (0..1) of qualifying holders that
	// may fail to resolve before the scan is aborted. Zero disables the check.
	MaxUnresolved float64 `yaml:"max_unresolved" env:"MAX_UNRESOLVED"`

	// DNSSECUpstream, when set, resolves paymail hosts through this
	// validating resolver (host:port) instead of the system resolver.
	DNSSECUpstream string        `yaml:"dnssec_upstream" env:"DNSSEC_UPSTREAM"`
	DNSSECTimeout  time.Duration `yaml:"dnssec_timeout" env:"DNSSEC_TIMEOUT"`

	PageSize   int           `yaml:"page_size" env:"PAGE_SIZE"`
	MaxPages   int           `yaml:"max_pages" env:"MAX_PAGES"`
	PageDelay  time.Duration `yaml:"page_delay" env:"PAGE_DELAY"`
	BatchSize  int           `yaml:"batch_size" env:"BATCH_SIZE"`
	BatchDelay time.Duration `yaml:"batch_delay" env:"BATCH_DELAY"`
	KeyFile    string        `yaml:"key_file" env:"KEY_FILE"`
}

// DefaultDataDir returns ~/.daoregistry, or .daoregistry when the home
// directory cannot be determined.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".daoregistry"
	}
	return filepath.Join(home, ".daoregistry")
}

// ConfigPath returns the config file location inside dataDir.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, "config.yaml")
}

// DefaultConfig returns a configuration with every field at its default.
func DefaultConfig() Config {
	return Config{
		DataDir:         DefaultDataDir(),
		Network:         "mainnet",
		ListenAddr:      "127.0.0.1:8332",
		MetricsAddr:     "",
		LogLevel:        "info",
		LogEncoding:     "console",
		MaxRequestBytes: 16 << 20,
		Snapshot: SnapshotConfig{
			RPCURL:        "http://127.0.0.1:8332",
			MinHold:       "1",
			MaxUnresolved: 0.5,
			DNSSECTimeout: 10 * time.Second,
			PageSize:      1000,
			MaxPages:      10,
			PageDelay:     500 * time.Millisecond,
			BatchSize:     500,
			BatchDelay:    500 * time.Millisecond,
		},
	}
}

// LoadConfig reads the YAML file at path on top of DefaultConfig. Keys
// missing from the file keep their defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: %w", ErrInvalidConfigFile, err)
	}
	return cfg, nil
}

// SaveConfig writes cfg as YAML to path, creating parent directories.
func SaveConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("# daoregistry configuration\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides cfg with DAOREG_* variables. A nil environ reads the
// process environment.
func ApplyEnv(cfg *Config, environ map[string]string) error {
	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEnv, err)
	}
	return nil
}

// Load is LoadConfig followed by ApplyEnv and ValidateConfig. A missing file
// is not an error; the defaults are used.
func Load(path string) (Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil && !errors.Is(err, ErrConfigNotFound) {
		return cfg, err
	}
	if err := ApplyEnv(&cfg, nil); err != nil {
		return cfg, err
	}
	if err := ValidateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
