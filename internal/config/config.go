package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DSN                 string `yaml:"dsn" env:"DB_DSN"`
	Dir                 string `yaml:"dir" env:"MIGRATIONS_DIR"`
	JSON                bool   `yaml:"json" env:"LOG_JSON"`
	LockTimeoutSec      int    `yaml:"lock_timeout_sec" env:"LOCK_TIMEOUT_SEC"`
	StatementTimeoutSec int    `yaml:"statement_timeout_sec" env:"STATEMENT_TIMEOUT_SEC"`
	TestDelaySec        int    `yaml:"test_delay_sec" env:"TEST_DELAY_SEC"`
	LedgerTable         string `yaml:"ledger_table" env:"LEDGER_TABLE"`
	// LegacyTable names a prior tool's history table to adopt; empty disables adoption.
	LegacyTable   string `yaml:"legacy_table" env:"LEGACY_TABLE"`
	LockNamespace string `yaml:"lock_namespace" env:"LOCK_NAMESPACE"`
	MaxOpenConns  int    `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
}

func Default() *Config {
	return &Config{
		Dir:            "./migrations",
		LockTimeoutSec: 30,
		LedgerTable:    "schema_migration",
		LegacyTable:    "_prisma_migrations",
		MaxOpenConns:   10,
	}
}

func LoadYAML(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// MergeEnv overrides cfg with any of the supported environment variables
// that are set.
func MergeEnv(cfg *Config) (*Config, error) {
	return mergeEnv(cfg, env.Options{})
}

func mergeEnv(cfg *Config, opts env.Options) (*Config, error) {
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

func (c *Config) LockTimeout() time.Duration {
	if c.LockTimeoutSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.LockTimeoutSec) * time.Second
}

// StatementTimeout is zero when unset, meaning the server default applies.
func (c *Config) StatementTimeout() time.Duration {
	if c.StatementTimeoutSec <= 0 {
		return 0
	}
	return time.Duration(c.StatementTimeoutSec) * time.Second
}

func (c *Config) TestDelay() time.Duration {
	if c.TestDelaySec <= 0 {
		return 0
	}
	return time.Duration(c.TestDelaySec) * time.Second
}

// LockKeyNamespace falls back to the ledger table so processes sharing a
// ledger share a lock.
func (c *Config) LockKeyNamespace() string {
	if c.LockNamespace != "" {
		return c.LockNamespace
	}
	return c.LedgerTable
}
