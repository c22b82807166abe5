// Package config defines service configuration structures and loading hooks.
package config

import "time"

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the log encoding: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// CatalogPath points at the YAML competition catalog.
	CatalogPath string `koanf:"catalog_path"`

	// DatabaseDriver selects the gateway backend: memory, sqlite or postgres.
	DatabaseDriver string `koanf:"database_driver"`

	// DatabaseDSN is the connection string for sqlite or postgres.
	DatabaseDSN string `koanf:"database_dsn"`

	// DatabaseAutoMigrate applies pending migrations on startup.
	DatabaseAutoMigrate bool `koanf:"database_auto_migrate"`

	// DedupeSize sets how many idempotency keys are remembered.
	DedupeSize int `koanf:"dedupe_size"`

	// WriteRateLimit and WriteRateBurst bound score writes per second.
	WriteRateLimit float64 `koanf:"write_rate_limit"`
	WriteRateBurst int     `koanf:"write_rate_burst"`

	// PollInterval is the live sync period used by watching clients.
	PollInterval time.Duration `koanf:"poll_interval"`

	// BulkReplaceRatio is the changed-leaf share above which a client ledger
	// is replaced instead of patched.
	BulkReplaceRatio float64 `koanf:"bulk_replace_ratio"`

	// StreamHeartbeat is the keep-alive period of the event stream.
	StreamHeartbeat time.Duration `koanf:"stream_heartbeat"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:            "info",
		LogFormat:           "text",
		Addr:                ":9080",
		CatalogPath:         "configs/catalog.example.yaml",
		DatabaseDriver:      "memory",
		DatabaseAutoMigrate: true,
		DedupeSize:          50_000,
		WriteRateLimit:      50,
		WriteRateBurst:      100,
		PollInterval:        3 * time.Second,
		BulkReplaceRatio:    0.5,
		StreamHeartbeat:     15 * time.Second,
	}
}
