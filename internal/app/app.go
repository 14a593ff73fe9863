// Package app wires the shared components of the waybill binaries.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/redis/go-redis/v9"

	"github.com/feichai0017/waybill-processor/api/handlers"
	"github.com/feichai0017/waybill-processor/config"
	"github.com/feichai0017/waybill-processor/internal/agent/document/image"
	"github.com/feichai0017/waybill-processor/internal/agent/document/vision"
	"github.com/feichai0017/waybill-processor/internal/agent/extraction"
	"github.com/feichai0017/waybill-processor/internal/repository"
	"github.com/feichai0017/waybill-processor/internal/service/basedir"
	"github.com/feichai0017/waybill-processor/internal/service/document"
	"github.com/feichai0017/waybill-processor/internal/service/formatter"
	"github.com/feichai0017/waybill-processor/internal/service/session"
	"github.com/feichai0017/waybill-processor/internal/utils/validator"
	"github.com/feichai0017/waybill-processor/pkg/crm/bitrix"
	"github.com/feichai0017/waybill-processor/pkg/logger"
	"github.com/feichai0017/waybill-processor/pkg/metrics"
	"github.com/feichai0017/waybill-processor/pkg/queue"
	"github.com/feichai0017/waybill-processor/pkg/storage"
	"github.com/feichai0017/waybill-processor/pkg/telegram"
)

// Needs selects the optional components a binary uses.
type Needs struct {
	Database bool
	Redis    bool
	Vision   bool
	Telegram bool
	Storage  bool
}

// App holds the wired components. Fields for components that were not
// requested stay nil.
type App struct {
	Config  *config.Config
	Logger  logger.Logger
	Metrics *metrics.Metrics

	DB        *sql.DB
	Redis     *redis.Client
	Queue     *queue.RedisQueue
	Documents repository.DocumentRepository
	Bases     repository.BaseRepository
	Directory *basedir.Directory
	Formatter *formatter.Formatter
	Sessions  session.Store
	Engine    *extraction.Engine
	Telegram  *telegram.Client
	CRM       *bitrix.Client
	Archive   storage.Storage
	Service   *document.DocumentService

	closers []func() error
}

// NewLogger builds the process logger writing to stdout and {log_dir}/{service}.log.
func NewLogger(cfg *config.Config, service string) (logger.Logger, error) {
	outputs := []string{"stdout"}
	if cfg.App.LogDir != "" {
		outputs = append(outputs, filepath.Join(cfg.App.LogDir, service+".log"))
	}
	return logger.NewLogger(
		logger.WithLevel(cfg.App.LogLevel),
		logger.WithEncoding(cfg.App.LogEncoding),
		logger.WithOutputPaths(outputs),
		logger.WithService(service),
	)
}

// New validates the configuration for needs and builds every component.
func New(ctx context.Context, cfg *config.Config, log logger.Logger, needs Needs) (*App, error) {
	required := []string{"validation"}
	if needs.Database {
		required = append(required, "database")
	}
	if needs.Redis {
		required = append(required, "redis")
	}
	if needs.Vision {
		required = append(required, "vision")
	}
	if needs.Telegram {
		required = append(required, "telegram")
	}
	if needs.Storage {
		required = append(required, "storage")
	}
	if err := cfg.Validate(required...); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	a := &App{Config: cfg, Logger: log, Metrics: metrics.New()}
	if err := a.build(ctx, needs); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, needs Needs) error {
	cfg, log := a.Config, a.Logger

	if needs.Database {
		db, err := repository.Connect(ctx, cfg.Database.URL, repository.OptionsFromConfig(cfg.Database), log)
		if err != nil {
			return err
		}
		a.DB = db
		a.closers = append(a.closers, db.Close)
		if cfg.Database.AutoMigrate {
			if err := repository.Migrate(ctx, db); err != nil {
				return fmt.Errorf("failed to migrate database: %w", err)
			}
		}
		a.Documents = repository.NewPGDocumentRepo(db)
		a.Bases = repository.NewPGBaseRepo(db)
	} else {
		log.Warn("no database configured, documents are kept in memory")
		a.Documents = repository.NewMemoryDocumentRepo()
		a.Bases = repository.NewMemoryBaseRepo()
	}

	if needs.Redis {
		q, client, err := queue.FromConfig(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		a.Queue, a.Redis = q, client
		a.closers = append(a.closers, client.Close)
	}
	a.Sessions = session.New(cfg.Session, a.Redis, log)

	a.Directory = basedir.NewDirectory(a.Bases, log)
	a.Formatter = formatter.New(a.Directory, cfg.Validation.MinConfidence, log)

	if needs.Vision {
		model, err := vision.NewModel(cfg.Vision, log)
		if err != nil {
			return err
		}
		proc, err := image.NewProcessor(log, image.DefaultOptions())
		if err != nil {
			return err
		}
		a.Engine = extraction.NewEngine(model, proc, cfg.Extraction, a.Metrics, log)
	}

	if needs.Telegram {
		tg, err := telegram.NewClient(cfg.Telegram, log)
		if err != nil {
			return fmt.Errorf("failed to connect to telegram: %w", err)
		}
		a.Telegram = tg
	}
	if cfg.Bitrix.Enabled() {
		a.CRM = bitrix.NewClient(cfg.Bitrix, log)
	}

	if needs.Storage && storage.StorageType(cfg.Storage.Type) != storage.StorageTypeNone && cfg.Storage.Type != "" {
		st, err := storage.NewStorage(ctx, cfg.Storage, log)
		if err != nil {
			return err
		}
		a.Archive = st
	}

	a.Service = document.NewService(a.deps(), &document.ServiceConfig{
		MinConfidence: cfg.Validation.MinConfidence,
		VariantDir:    cfg.Extraction.VariantDir,
		ArchivePrefix: cfg.Storage.Prefix,
	}, log)
	return nil
}

// deps only sets interface fields whose component exists, so nil checks in the
// service see a nil interface rather than a typed nil pointer.
func (a *App) deps() document.Deps {
	d := document.Deps{
		Repo:     a.Documents,
		Renderer: a.Formatter,
		Sessions: a.Sessions,
		Photos:   validator.NewPhotoValidator(a.Logger, nil),
		Metrics:  a.Metrics,
	}
	if a.Engine != nil {
		d.Extractor = a.Engine
	}
	if a.Telegram != nil {
		d.Media = a.Telegram
		d.Notifier = a.Telegram
	}
	if a.CRM != nil {
		d.CRM = a.CRM
	}
	if a.Archive != nil {
		d.Archive = a.Archive
	}
	return d
}

// HealthChecks pings the connected backends.
func (a *App) HealthChecks() map[string]handlers.Check {
	checks := map[string]handlers.Check{}
	if a.DB != nil {
		checks["database"] = a.DB.PingContext
	}
	if a.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return a.Redis.Ping(ctx).Err() }
	}
	return checks
}

// Close releases connections in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
