// internal/service/archive.go
package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/totemscrape/internal/store"
)

// ResultArchive persists finished runs. *store.Store satisfies it.
type ResultArchive interface {
	PersistResult(ctx context.Context, rec store.RunRecord) error
}

const archivePersistTimeout = 30 * time.Second

// StartArchiveConsumer launches a goroutine that persists every record sent on
// records. It exits once records is closed and drained, or when ctx is
// canceled after a best effort drain. wg is released on exit.
func StartArchiveConsumer(ctx context.Context, wg *sync.WaitGroup, records <-chan store.RunRecord, archive ResultArchive, logger *zap.Logger) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("Starting archive consumer.")
		defer logger.Info("Archive consumer shut down.")

		persist := func(rec store.RunRecord) {
			// Not derived from ctx so a record in hand is still written during shutdown.
			persistCtx, cancel := context.WithTimeout(context.Background(), archivePersistTimeout)
			defer cancel()
			if err := archive.PersistResult(persistCtx, rec); err != nil {
				logger.Error("Failed to archive run. Result is only kept in the task store.",
					zap.String("run_id", rec.RunID), zap.Error(err))
				return
			}
			logger.Debug("Run archived.", zap.String("run_id", rec.RunID), zap.Int("rows", len(rec.Result.Data)))
		}

		for {
			select {
			case rec, ok := <-records:
				if !ok {
					return
				}
				persist(rec)
			case <-ctx.Done():
				logger.Warn("Archive consumer context canceled, draining queued records.")
				for _, rec := range drainChannel(records) {
					persist(rec)
				}
				return
			}
		}
	}()
}

// drainChannel reads whatever is buffered without blocking.
func drainChannel(records <-chan store.RunRecord) []store.RunRecord {
	var out []store.RunRecord
	for {
		select {
		case rec, ok := <-records:
			if !ok {
				return out
			}
			out = append(out, rec)
		default:
			return out
		}
	}
}
