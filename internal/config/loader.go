package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TABULATOR_"

// EnvConfigFile names the variable holding an optional YAML config path.
const EnvConfigFile = EnvPrefix + "CONFIG"

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if TABULATOR_CONFIG is set
//  3. env (prefix TABULATOR_)
func Load() (*Config, error) {
	base := New()

	k := koanf.New(".")

	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
		}
	}

	// Map env keys like TABULATOR_DEDUPE_SIZE -> dedupe_size (flat keys).
	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.TrimPrefix(strings.ToLower(s), strings.ToLower(EnvPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.LogFormat != "text" && c.LogFormat != "json":
		return fmt.Errorf("%w: log_format must be text or json, got %q", ErrInvalidConfig, c.LogFormat)
	case c.DatabaseDriver != "memory" && c.DatabaseDSN == "":
		return fmt.Errorf("%w: database_dsn is required for driver %q", ErrInvalidConfig, c.DatabaseDriver)
	case c.DedupeSize < 0:
		return fmt.Errorf("%w: dedupe_size must not be negative", ErrInvalidConfig)
	case c.WriteRateLimit <= 0 || c.WriteRateBurst <= 0:
		return fmt.Errorf("%w: write_rate_limit and write_rate_burst must be positive", ErrInvalidConfig)
	case c.PollInterval <= 0:
		return fmt.Errorf("%w: poll_interval must be positive", ErrInvalidConfig)
	case c.BulkReplaceRatio <= 0 || c.BulkReplaceRatio > 1:
		return fmt.Errorf("%w: bulk_replace_ratio must be in (0, 1]", ErrInvalidConfig)
	case c.StreamHeartbeat <= 0:
		return fmt.Errorf("%w: stream_heartbeat must be positive", ErrInvalidConfig)
	}
	return nil
}
