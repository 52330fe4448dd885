// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"log/slog"

	"github.com/caarlos0/env/v11"

	"github.com/roach88/memotrace/internal/memo"
)

// Config is the process configuration. CLI flags override individual fields
// after Load.
type Config struct {
	// NoTracing disables memoization globally.
	NoTracing bool `env:"MEMOTRACE_NO_TRACING" envDefault:"false"`
	// NoPhysicalTracing disables physical trace bookkeeping, which also
	// rules out memoization.
	NoPhysicalTracing bool `env:"MEMOTRACE_NO_PHYSICAL_TRACING" envDefault:"false"`

	DBPath   string     `env:"MEMOTRACE_DB" envDefault:"memotrace.db"`
	LogLevel slog.Level `env:"MEMOTRACE_LOG_LEVEL" envDefault:"INFO"`
}

// Load parses the MEMOTRACE_* environment variables.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ParseEnv loads configuration from environment variables into target.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Memo returns the kill switches handed to every memoizable operation.
func (c Config) Memo() memo.Config {
	return memo.Config{
		TracingDisabled:         c.NoTracing,
		PhysicalTracingDisabled: c.NoPhysicalTracing,
	}
}
