// internal/service/components.go
package service

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xkilldash9x/totemscrape/internal/browser"
	"github.com/xkilldash9x/totemscrape/internal/extraction"
	"github.com/xkilldash9x/totemscrape/internal/store"
)

// Components holds everything the serve command runs on and owns their
// shutdown order.
type Components struct {
	Service        *Service
	Engine         *extraction.Engine
	BrowserManager *browser.Manager
	Tasks          TaskStore
	Redis          *redis.Client
	DBPool         *pgxpool.Pool
	// Archive is nil when no database is configured.
	Archive        *store.Store

	archiveChan   chan store.RunRecord
	archiveCancel context.CancelFunc
	consumerWG    *sync.WaitGroup
	logger        *zap.Logger
}

// Shutdown releases components producers first. ctx bounds the wait for
// in-flight runs and browser teardown.
func (c *Components) Shutdown(ctx context.Context) {
	logger := c.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Debug("Beginning components shutdown sequence.")

	// 1. Stop accepting work and wait for runs to record their outcome.
	if c.Service != nil {
		if err := c.Service.Shutdown(ctx); err != nil {
			logger.Warn("Runs did not finish before shutdown deadline.", zap.Error(err))
		} else {
			logger.Debug("Service stopped.")
		}
	}

	// 2. Close the archive queue and let the consumer drain it.
	if c.archiveChan != nil {
		close(c.archiveChan)
		c.archiveChan = nil
	}
	if c.consumerWG != nil {
		c.consumerWG.Wait()
		logger.Debug("Archive consumer finished processing.")
	}
	if c.archiveCancel != nil {
		c.archiveCancel()
	}

	// 3. Close any browser a stuck run left behind.
	if c.BrowserManager != nil {
		if err := c.BrowserManager.Shutdown(ctx); err != nil {
			logger.Warn("Error during browser manager shutdown.", zap.Error(err))
		} else {
			logger.Debug("Browser manager shut down.")
		}
	}

	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			logger.Warn("Error closing redis client.", zap.Error(err))
		}
	}

	if c.DBPool != nil {
		c.DBPool.Close()
		logger.Debug("Database connection pool closed.")
	}

	logger.Info("All components shut down.")
}
