// Package config provides centralized configuration management for the
// application. It loads configuration from environment variables with
// sensible defaults and validates all settings on startup to fail fast on
// misconfiguration.
package config

import "time"

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Database DatabaseConfig
	Cache    CacheConfig
	Import   ImportConfig
	Logging  LoggingConfig
	Actor    ActorConfig
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string (required)
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 4)
	MinConns int `env:"DB_MIN_CONNS" default:"4"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// CacheConfig holds read cache settings.
type CacheConfig struct {
	// TTL is how long a cached listing stays valid (default: 15m)
	TTL time.Duration `env:"CACHE_TTL" default:"15m"`

	// MaxEntries is the eviction cap on cached listings (default: 1024)
	MaxEntries int `env:"CACHE_MAX_ENTRIES" default:"1024"`

	// SweepInterval is how often expired entries are purged (default: 5m)
	SweepInterval time.Duration `env:"CACHE_SWEEP_INTERVAL" default:"5m"`
}

// ImportConfig holds CSV import processing settings.
type ImportConfig struct {
	// MaxFileSize is the maximum allowed file size in bytes (default: 20MB)
	MaxFileSize int64 `env:"IMPORT_MAX_FILE_SIZE" default:"20971520"`

	// MaxConcurrent is the maximum number of parallel imports (default: 5)
	MaxConcurrent int `env:"IMPORT_MAX_CONCURRENT" default:"5"`

	// MaxWaitTime is how long to wait for an import slot (default: 30s)
	MaxWaitTime time.Duration `env:"IMPORT_MAX_WAIT_TIME" default:"30s"`

	// Timeout is the maximum duration for a single import operation (default: 10m)
	Timeout time.Duration `env:"IMPORT_TIMEOUT" default:"10m"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// ActorConfig identifies the caller on whose behalf CLI commands run.
// Authentication itself happens outside this system; these values are
// trusted as provided.
type ActorConfig struct {
	// UserID is the acting user (default: empty, read-only access)
	UserID string `env:"DICT_USER_ID"`

	// Roles is a comma-separated list of role flags, e.g.
	// "administrator,security_administrator"
	Roles []string `env:"DICT_USER_ROLES"`

	// Department is recorded in the audit trail alongside the user
	Department string `env:"DICT_USER_DEPARTMENT"`
}
