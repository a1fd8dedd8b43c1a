package container

import (
	"context"
	"fmt"

	"github.com/garyjia/xpensure/internal/application/dispatcher"
	"github.com/garyjia/xpensure/internal/application/port"
	"github.com/garyjia/xpensure/internal/application/service"
	"github.com/garyjia/xpensure/internal/infrastructure/persistence/repository"
	"github.com/garyjia/xpensure/internal/infrastructure/persistence/sqldb"
	"github.com/garyjia/xpensure/internal/infrastructure/report"
	"github.com/garyjia/xpensure/internal/infrastructure/storage"
	"github.com/garyjia/xpensure/internal/payment"
	"github.com/garyjia/xpensure/pkg/database"
	"go.uber.org/zap"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	DB             *database.DB
	TransactionMgr *sqldb.DB
}

// ProvideDatabase opens the configured database and runs the embedded migrations.
func ProvideDatabase(ctx context.Context, cfg *DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	db, err := database.New(database.Config{
		Driver:          cfg.Driver,
		Path:            cfg.Path,
		DSN:             cfg.DSN,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, err
	}

	if !cfg.SkipMigrations {
		if err := database.NewMigrator(db, logger).Run(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return &DatabaseBundle{
		DB:             db,
		TransactionMgr: sqldb.New(db, logger),
	}, nil
}

// ProvideRepositories creates all repositories on top of the transaction manager.
func ProvideRepositories(db *sqldb.DB, logger *zap.Logger) (*RepositoryBundle, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &RepositoryBundle{
		Employee: repository.NewEmployeeRepository(db, logger),
		Request:  repository.NewRequestRepository(db, logger),
		History:  repository.NewHistoryRepository(db, logger),
	}, nil
}

// ProvideStorage creates the attachment store and makes sure its folders exist.
func ProvideStorage(cfg *StorageConfig, logger *zap.Logger) (*storage.LocalFileStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("storage config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	var opts []storage.Option
	if cfg.MaxFileSize > 0 {
		opts = append(opts, storage.WithMaxFileSize(cfg.MaxFileSize))
	}
	store := storage.NewLocalFileStore(cfg.AttachmentDir, cfg.MediaURL, logger, opts...)
	if err := store.EnsureFolders(); err != nil {
		return nil, err
	}
	return store, nil
}

// ProvideExporter creates the finance report exporter.
func ProvideExporter(cfg *ReportConfig, logger *zap.Logger) (port.ReportExporter, error) {
	if cfg == nil {
		return nil, fmt.Errorf("report config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return report.NewExcelExporter(cfg.SheetName, logger), nil
}

// ProvideDispatcher creates the event dispatcher.
func ProvideDispatcher(logger *zap.Logger) (dispatcher.Dispatcher, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return dispatcher.NewDispatcher(
		dispatcher.WithLogger(&zapLoggerAdapter{logger: logger}),
	), nil
}

// ServiceDeps holds dependencies required for creating services.
type ServiceDeps struct {
	Repos      *RepositoryBundle
	TxManager  port.TransactionManager
	FileStore  port.FileStore
	Exporter   port.ReportExporter
	Dispatcher dispatcher.Dispatcher
	Sender     service.NotificationSender
	Clock      port.Clock
	Logger     *zap.Logger
}

// ProvideServices creates all application services and subscribes the
// notification service to request events.
func ProvideServices(deps *ServiceDeps) (*ServiceBundle, error) {
	if deps == nil {
		return nil, fmt.Errorf("service dependencies are required")
	}
	if deps.Repos == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if deps.TxManager == nil {
		return nil, fmt.Errorf("transaction manager is required")
	}
	if deps.FileStore == nil {
		return nil, fmt.Errorf("file store is required")
	}
	if deps.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = port.SystemClock{}
	}
	serviceLogger := &zapLoggerAdapter{logger: deps.Logger}

	notifications := service.NewNotificationService(deps.Repos.Employee, deps.Sender, serviceLogger)
	notifications.Register(deps.Dispatcher)

	return &ServiceBundle{
		Request: service.NewRequestService(
			deps.Repos.Employee,
			deps.Repos.Request,
			deps.Repos.History,
			deps.FileStore,
			deps.TxManager,
			deps.Dispatcher,
			payment.NewExtractor(deps.Logger.Named("payment")),
			clock,
			serviceLogger,
		),
		Directory: service.NewDirectoryService(deps.Repos.Employee, clock, serviceLogger),
		Dashboard: service.NewDashboardService(
			deps.Repos.Employee,
			deps.Repos.Request,
			deps.Repos.History,
			deps.Exporter,
			serviceLogger,
		),
		Notification: notifications,
	}, nil
}
