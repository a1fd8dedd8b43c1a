package config

import (
	"github.com/garyjia/xpensure/internal/container"
	"github.com/garyjia/xpensure/pkg/utils"
)

// ToContainerConfig converts the application Config to a container.Config.
func (c *Config) ToContainerConfig() *container.Config {
	return &container.Config{
		Database: container.DatabaseConfig{
			Driver:          c.Database.Driver,
			Path:            c.Database.Path,
			DSN:             c.Database.DSN,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
			SkipMigrations:  c.Database.SkipMigrations,
		},
		Storage: container.StorageConfig{
			AttachmentDir: c.Storage.AttachmentDir,
			MediaURL:      c.Storage.MediaURL,
			MaxFileSize:   c.Storage.MaxFileSize,
		},
		Server: container.ServerConfig{
			Host:         c.Server.Host,
			Port:         c.Server.Port,
			ReadTimeout:  c.Server.ReadTimeout,
			WriteTimeout: c.Server.WriteTimeout,
		},
		RateLimit: container.RateLimitConfig{
			PerMinute: c.RateLimit.PerMinute,
			Burst:     c.RateLimit.Burst,
		},
		Report: container.ReportConfig{
			SheetName: c.Report.SheetName,
		},
	}
}

// ToLoggerConfig converts the logger section for utils.NewLogger.
func (c *Config) ToLoggerConfig(service string) utils.LoggerConfig {
	return utils.LoggerConfig{
		Level:      c.Logger.Level,
		OutputPath: c.Logger.OutputPath,
		Format:     c.Logger.Format,
		Service:    service,
	}
}
