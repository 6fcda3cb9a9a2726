// internal/service/factory.go
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/totemscrape/api/schemas"
	"github.com/xkilldash9x/totemscrape/internal/browser"
	"github.com/xkilldash9x/totemscrape/internal/config"
	"github.com/xkilldash9x/totemscrape/internal/extraction"
	"github.com/xkilldash9x/totemscrape/internal/store"
)

const (
	archiveQueueSize       = 64
	failedInitCloseTimeout = 30 * time.Second
)

// ComponentFactory creates the set of components the serve command runs on.
type ComponentFactory interface {
	Create(ctx context.Context, cfg config.Interface, logger *zap.Logger, opts ...Option) (*Components, error)
}

// concreteFactory is the production implementation of the ComponentFactory.
type concreteFactory struct{}

// NewComponentFactory creates a new production-ready component factory.
func NewComponentFactory() ComponentFactory {
	return &concreteFactory{}
}

// NewEngine wires an extraction engine whose sessions are opened by mgr.
func NewEngine(cfg config.Interface, mgr *browser.Manager, logger *zap.Logger) *extraction.Engine {
	ext := cfg.Extraction()
	exporter := extraction.NewExporter(cfg.Export(), ext.Selectors.Table, ext.Timeouts.Screenshot, logger)
	launcher := extraction.LauncherFunc(func(ctx context.Context, sc schemas.SessionConfig) (extraction.Session, error) {
		s, err := mgr.Launch(ctx, sc)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
	return extraction.NewEngine(launcher, ext, exporter, logger)
}

// Create builds the task store, browser manager, engine, optional archive,
// and the service on top of them.
func (f *concreteFactory) Create(ctx context.Context, cfg config.Interface, logger *zap.Logger, opts ...Option) (*Components, error) {
	components := &Components{logger: logger}

	var initializationErr error
	defer func() {
		if initializationErr != nil {
			logger.Warn("Initialization failed, shutting down partially created components.", zap.Error(initializationErr))
			shutdownCtx, cancel := context.WithTimeout(context.Background(), failedInitCloseTimeout)
			defer cancel()
			components.Shutdown(shutdownCtx)
		}
	}()

	// 1. Task store.
	tasks, redisClient, err := InitializeTaskStore(ctx, cfg, logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to initialize task store: %w", err)
		return nil, initializationErr
	}
	components.Tasks = tasks
	components.Redis = redisClient

	// 2. Browser and engine.
	components.BrowserManager = browser.NewManager(cfg.Browser(), logger)
	components.Engine = NewEngine(cfg, components.BrowserManager, logger)

	// 3. Optional result archive.
	if cfg.Database().URL != "" {
		pool, err := InitializeDBPool(ctx, cfg.Database(), logger)
		if err != nil {
			initializationErr = err
			return nil, initializationErr
		}
		components.DBPool = pool

		archive, err := store.New(ctx, pool, logger)
		if err != nil {
			initializationErr = fmt.Errorf("failed to initialize result archive: %w", err)
			return nil, initializationErr
		}
		if err := archive.EnsureSchema(ctx); err != nil {
			initializationErr = err
			return nil, initializationErr
		}

		components.Archive = archive
		components.archiveChan = make(chan store.RunRecord, archiveQueueSize)
		components.consumerWG = &sync.WaitGroup{}
		consumerCtx, cancel := context.WithCancel(context.Background())
		components.archiveCancel = cancel
		StartArchiveConsumer(consumerCtx, components.consumerWG, components.archiveChan, archive, logger.Named("archive"))
		opts = append(opts, WithArchive(components.archiveChan), WithRunPurger(archive))
	} else {
		logger.Info("No database configured; results are kept in the task store only.")
	}

	// 4. Service.
	engine := components.Engine
	components.Service = New(tasks, func(l *zap.Logger) Runner { return engine.WithLogger(l) }, cfg.Service(), logger, opts...)

	return components, nil
}
