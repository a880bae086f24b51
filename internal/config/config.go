// Package config loads the importer configuration from environment
// variables. Each field names its variable, an optional alternate and a
// default in struct tags; Load rejects an invalid configuration up front.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Store    StoreConfig
	Database DatabaseConfig
	Import   ImportConfig
	Schedule ScheduleConfig
	Lock     LockConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `env:"SERVER_HOST" default:"0.0.0.0"`
	Port            int           `env:"SERVER_PORT" default:"8080"`
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"60s"`
	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
	RequestTimeout  time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// StoreConfig selects the record store backend.
type StoreConfig struct {
	// Driver is one of postgres, sqlite, memory.
	Driver     string `env:"STORE_DRIVER" default:"sqlite"`
	SQLitePath string `env:"SQLITE_PATH" default:"importer.db"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	// URL is required for the postgres driver.
	URL             string        `env:"DATABASE_URL" envAlt:"DB_URL"`
	MaxConns        int           `env:"DB_MAX_CONNS" default:"20"`
	MinConns        int           `env:"DB_MIN_CONNS" default:"4"`
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// ImportConfig holds parsing and execution limits.
type ImportConfig struct {
	MaxFileSize  int64         `env:"IMPORT_MAX_FILE_SIZE" default:"10485760"`
	MaxRows      int           `env:"IMPORT_MAX_ROWS" default:"100000"`
	ParseTimeout time.Duration `env:"IMPORT_PARSE_TIMEOUT" default:"30s"`

	// LegacyCharset decodes files that are not valid UTF-8
	LegacyCharset string `env:"IMPORT_LEGACY_CHARSET" default:"windows-1252"`
	MaxConcurrent int    `env:"IMPORT_MAX_CONCURRENT" default:"5"`

	// MaxWaitTime is how long to wait for a free import slot
	MaxWaitTime time.Duration `env:"IMPORT_MAX_WAIT_TIME" default:"30s"`

	// SessionTTL is how long an untouched session is kept
	SessionTTL time.Duration `env:"IMPORT_SESSION_TTL" default:"1h"`
}

// ScheduleConfig holds scheduled import settings.
type ScheduleConfig struct {
	Enabled       bool          `env:"SCHEDULE_ENABLED" default:"true"`
	CheckInterval time.Duration `env:"SCHEDULE_CHECK_INTERVAL" default:"30s"`

	// SourceDir is where scheduled runs pick up files, one subdirectory per entity type
	SourceDir string `env:"SCHEDULE_SOURCE_DIR" default:"imports"`
}

// LockConfig selects the per-entity lock backend.
type LockConfig struct {
	Backend       string `env:"LOCK_BACKEND" default:"local"`
	RedisAddr     string `env:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" default:"0"`

	// TTL is the lease length of a held lock
	TTL time.Duration `env:"LOCK_TTL" default:"10m"`
}

// RateLimitConfig holds rate limiting settings.
type RateLimitConfig struct {
	Enabled           bool `env:"RATE_LIMIT_ENABLED" default:"true"`
	RequestsPerMinute int  `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`
	UploadLimit       int  `env:"RATE_LIMIT_UPLOAD" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`
	RequireAPIKey  bool     `env:"REQUIRE_API_KEY" default:"false"`
	APIKeys        []string `env:"API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL" default:"info"`
	Format string `env:"LOG_FORMAT" default:"text"`

	// File, when set, also writes logs to a rotated file
	File       string `env:"LOG_FILE"`
	MaxSizeMB  int    `env:"LOG_MAX_SIZE_MB" default:"100"`
	MaxBackups int    `env:"LOG_MAX_BACKUPS" default:"5"`
	MaxAgeDays int    `env:"LOG_MAX_AGE_DAYS" default:"30"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
