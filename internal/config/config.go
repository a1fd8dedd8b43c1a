package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/xpensure/pkg/database"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. XPENSURE_SERVER_PORT
const EnvPrefix = "XPENSURE"

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Report    ReportConfig    `mapstructure:"report"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	Mode            string        `mapstructure:"mode"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	SkipMigrations  bool          `mapstructure:"skip_migrations"`
}

// StorageConfig holds attachment storage configuration
type StorageConfig struct {
	AttachmentDir string `mapstructure:"attachment_dir"`
	MediaURL      string `mapstructure:"media_url"`
	MaxFileSize   int64  `mapstructure:"max_file_size"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// RateLimitConfig limits mutating requests per actor
type RateLimitConfig struct {
	PerMinute int `mapstructure:"per_minute"`
	Burst     int `mapstructure:"burst"`
}

// ReportConfig holds finance report configuration
type ReportConfig struct {
	SheetName string `mapstructure:"sheet_name"`
}

// Load loads configuration from file and environment variables. An empty
// configPath loads defaults and environment only.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.mode", "release")

	// Database defaults
	v.SetDefault("database.driver", database.DriverSQLite)
	v.SetDefault("database.path", "data/xpensure.db")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.skip_migrations", false)

	// Storage defaults
	v.SetDefault("storage.attachment_dir", "media")
	v.SetDefault("storage.media_url", "/media")
	v.SetDefault("storage.max_file_size", 20<<20)

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")

	// Rate limit defaults
	v.SetDefault("rate_limit.per_minute", 60)
	v.SetDefault("rate_limit.burst", 10)

	v.SetDefault("report.sheet_name", "Requests")
}

// bindEnvVars binds the unprefixed deployment variables
func bindEnvVars(v *viper.Viper) error {
	bindings := map[string]string{
		"database.dsn":           "DATABASE_DSN",
		"database.driver":        "DATABASE_DRIVER",
		"storage.attachment_dir": "ATTACHMENT_DIR",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range", c.Server.Port))
	}

	driver, err := database.NormalizeDriver(c.Database.Driver)
	if err != nil {
		errs = append(errs, fmt.Errorf("database.driver: %w", err))
	}
	if driver == database.DriverPostgres && c.Database.DSN == "" {
		errs = append(errs, fmt.Errorf("database.dsn is required for postgres"))
	}
	if driver == database.DriverSQLite && c.Database.Path == "" && c.Database.DSN == "" {
		errs = append(errs, fmt.Errorf("database.path is required for sqlite"))
	}

	if c.Storage.AttachmentDir == "" {
		errs = append(errs, fmt.Errorf("storage.attachment_dir is required"))
	}
	if c.Storage.MaxFileSize <= 0 {
		errs = append(errs, fmt.Errorf("storage.max_file_size must be positive"))
	}

	switch c.Logger.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("logger.format must be json or console, got %q", c.Logger.Format))
	}

	if c.RateLimit.PerMinute < 0 || c.RateLimit.Burst < 0 {
		errs = append(errs, fmt.Errorf("rate_limit values must not be negative"))
	}

	return errors.Join(errs...)
}
