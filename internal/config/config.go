// Package config defines service configuration and its loading.
package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/okian/versus/internal/adapters/repository"
	"github.com/okian/versus/internal/domain/round"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat is text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// StoreDriver picks the backend: memory, postgres, sqlite or badger.
	StoreDriver string `koanf:"store_driver"`
	// DatabaseURL is the DSN for the postgres and sqlite drivers.
	DatabaseURL string `koanf:"database_url"`
	// BadgerPath is the badger directory; empty runs badger in memory.
	BadgerPath string `koanf:"badger_path"`
	// CatalogFile seeds the in-memory item catalog for the memory and badger drivers.
	CatalogFile string `koanf:"catalog_file"`

	WorkerCount int `koanf:"worker_count"`
	QueueSize   int `koanf:"queue_size"`
	// DedupeSize bounds the async round id cache; 0 disables eviction.
	DedupeSize int `koanf:"dedupe_size"`

	DefaultPolicy  string `koanf:"default_policy"`
	ReplenishBatch int    `koanf:"replenish_batch"`
	RoundItemLimit int    `koanf:"round_item_limit"`
	SessionTTLMS   int64  `koanf:"session_ttl_ms"`

	// MaxChoicesPerRound rejects larger rounds; 0 means unlimited.
	MaxChoicesPerRound int `koanf:"max_choices_per_round"`
}

// New returns a Config holding the defaults.
func New() *Config {
	return &Config{
		LogLevel:           "info",
		LogFormat:          "text",
		Addr:               ":9080",
		StoreDriver:        repository.DriverMemory,
		WorkerCount:        runtime.NumCPU(),
		QueueSize:          10_000,
		DedupeSize:         50_000,
		DefaultPolicy:      string(round.KeepPicked),
		ReplenishBatch:     8,
		RoundItemLimit:     50,
		SessionTTLMS:       30 * 60 * 1000,
		MaxChoicesPerRound: 1000,
	}
}

// SessionTTL returns the idle session lifetime.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMS) * time.Millisecond
}

// Policy returns the parsed default replacement policy.
func (c *Config) Policy() round.Policy {
	p, err := round.ParsePolicy(c.DefaultPolicy)
	if err != nil {
		return round.KeepPicked
	}
	return p
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.LogFormat != "text" && c.LogFormat != "json":
		return fmt.Errorf("%w: log_format must be text or json, got %q", ErrInvalidConfig, c.LogFormat)
	case c.QueueSize <= 0:
		return fmt.Errorf("%w: queue_size must be positive", ErrInvalidConfig)
	case c.WorkerCount < 0:
		return fmt.Errorf("%w: worker_count must not be negative", ErrInvalidConfig)
	case c.DedupeSize < 0:
		return fmt.Errorf("%w: dedupe_size must not be negative", ErrInvalidConfig)
	case c.ReplenishBatch <= 0:
		return fmt.Errorf("%w: replenish_batch must be positive", ErrInvalidConfig)
	case c.RoundItemLimit < 2:
		return fmt.Errorf("%w: round_item_limit must be at least 2", ErrInvalidConfig)
	case c.SessionTTLMS <= 0:
		return fmt.Errorf("%w: session_ttl_ms must be positive", ErrInvalidConfig)
	case c.MaxChoicesPerRound < 0:
		return fmt.Errorf("%w: max_choices_per_round must not be negative", ErrInvalidConfig)
	}
	if _, err := round.ParsePolicy(c.DefaultPolicy); err != nil {
		return fmt.Errorf("%w: default_policy: %w", ErrInvalidConfig, err)
	}

	c.StoreDriver = strings.ToLower(strings.TrimSpace(c.StoreDriver))
	switch c.StoreDriver {
	case repository.DriverMemory, repository.DriverBadger:
	case repository.DriverPostgres, repository.DriverSQLite:
		if c.DatabaseURL == "" {
			return fmt.Errorf("%w: database_url is required for %s", ErrInvalidConfig, c.StoreDriver)
		}
	default:
		return fmt.Errorf("%w: unknown store_driver %q", ErrInvalidConfig, c.StoreDriver)
	}
	return nil
}
