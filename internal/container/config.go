// Package container provides dependency injection and lifecycle management
// for the expense approval backend.
package container

import (
	"fmt"
	"time"

	"github.com/garyjia/xpensure/pkg/database"
)

// Config holds all configuration for the Container.
// It aggregates configurations for all subsystems.
type Config struct {
	// Database configuration
	Database DatabaseConfig

	// Storage configuration
	Storage StorageConfig

	// Server configuration
	Server ServerConfig

	// RateLimit configuration for mutating routes
	RateLimit RateLimitConfig

	// Report configuration
	Report ReportConfig
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Driver is sqlite3 or postgres
	Driver string

	// Path to SQLite database file
	Path string

	// DSN overrides Path; required for postgres
	DSN string

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int

	// ConnMaxLifetime is the maximum connection lifetime
	ConnMaxLifetime time.Duration

	// SkipMigrations disables the embedded migrations at startup
	SkipMigrations bool
}

// StorageConfig holds file storage settings.
type StorageConfig struct {
	// AttachmentDir is the base directory for attachments
	AttachmentDir string

	// MediaURL is the public prefix attachments are served under
	MediaURL string

	// MaxFileSize is the upload limit in bytes
	MaxFileSize int64
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// RateLimitConfig holds per-actor limits for mutating routes.
type RateLimitConfig struct {
	PerMinute int
	Burst     int
}

// ReportConfig holds finance report settings.
type ReportConfig struct {
	SheetName string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:          database.DriverSQLite,
			Path:            "data/xpensure.db",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Storage: StorageConfig{
			AttachmentDir: "media",
			MediaURL:      "/media",
			MaxFileSize:   20 << 20,
		},
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		RateLimit: RateLimitConfig{
			PerMinute: 60,
			Burst:     10,
		},
		Report: ReportConfig{
			SheetName: "Requests",
		},
	}
}

// Validate checks that required configuration values are present.
func (c *Config) Validate() error {
	driver, err := database.NormalizeDriver(c.Database.Driver)
	if err != nil {
		return err
	}
	if driver == database.DriverSQLite && c.Database.Path == "" && c.Database.DSN == "" {
		return fmt.Errorf("database.path is required for sqlite")
	}
	if driver == database.DriverPostgres && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required for postgres")
	}

	if c.Storage.AttachmentDir == "" {
		return fmt.Errorf("storage.attachment_dir is required")
	}
	if c.Storage.MaxFileSize < 0 {
		return fmt.Errorf("storage.max_file_size must not be negative")
	}

	if c.RateLimit.PerMinute < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit values must not be negative")
	}

	return nil
}
