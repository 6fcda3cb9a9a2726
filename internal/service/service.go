// internal/service/service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/xkilldash9x/totemscrape/api/schemas"
	"github.com/xkilldash9x/totemscrape/internal/config"
	"github.com/xkilldash9x/totemscrape/internal/observability"
	"github.com/xkilldash9x/totemscrape/internal/store"
)

var (
	// ErrMissingCredentials rejects a submission without username or password.
	ErrMissingCredentials = errors.New("username and password are required")
	// ErrServiceClosed rejects submissions after Shutdown.
	ErrServiceClosed = errors.New("service is shutting down")
)

const taskIDLayout = "20060102150405"

// Runner executes one extraction run. *extraction.Engine satisfies it.
type Runner interface {
	Run(ctx context.Context, creds schemas.Credentials, filters *schemas.FilterSelection, sc schemas.SessionConfig) schemas.ExtractionResult
}

// RunnerFactory returns a Runner that logs through the given run-scoped logger.
type RunnerFactory func(logger *zap.Logger) Runner

// Observer receives task lifecycle events for metrics. RunFinished is only
// called for runs that reached RunStarted.
type Observer interface {
	TaskSubmitted()
	RunStarted()
	RunFinished(status schemas.TaskStatus, result *schemas.ExtractionResult, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) TaskSubmitted() {}
func (nopObserver) RunStarted() {}
func (nopObserver) RunFinished(schemas.TaskStatus, *schemas.ExtractionResult, time.Duration) {}

// Option configures a Service.
type Option func(*Service)

// WithObserver installs a lifecycle observer.
func WithObserver(o Observer) Option {
	return func(s *Service) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithArchive forwards every finished result to ch.
func WithArchive(ch chan<- store.RunRecord) Option {
	return func(s *Service) { s.archive = ch }
}

// RunPurger removes archived runs older than a cutoff. *store.Store
// satisfies it.
type RunPurger interface {
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// WithRunPurger expires archived runs together with tasks on every cleanup.
func WithRunPurger(p RunPurger) Option {
	return func(s *Service) { s.purger = p }
}

// Service accepts extraction requests and runs them in the background.
type Service struct {
	tasks     TaskStore
	newRunner RunnerFactory
	sem       *semaphore.Weighted
	logger    *zap.Logger
	observer  Observer
	archive   chan<- store.RunRecord
	purger    RunPurger
	cfg       config.ServiceConfig
	now       func() time.Time

	seq atomic.Uint64

	// ctx is the service lifetime. Runs derive from it, never from a request.
	ctx    context.Context
	cancel context.CancelFunc
	runs   sync.WaitGroup
	loops  sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// New creates the service and starts its cleanup loop.
func New(tasks TaskStore, newRunner RunnerFactory, cfg config.ServiceConfig, logger *zap.Logger, opts ...Option) *Service {
	if cfg.MaxConcurrentRuns <= 0 {
		cfg.MaxConcurrentRuns = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		tasks:     tasks,
		newRunner: newRunner,
		sem:       semaphore.NewWeighted(int64(cfg.MaxConcurrentRuns)),
		logger:    logger.Named("service"),
		observer:  nopObserver{},
		cfg:       cfg,
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(s)
	}

	if cfg.TaskRetention > 0 && cfg.CleanupInterval > 0 {
		s.loops.Add(1)
		go s.cleanupLoop()
	}
	return s
}

// Submit records a running task and starts the extraction in the background.
// It returns as soon as the task is stored.
func (s *Service) Submit(ctx context.Context, req schemas.ScrapeRequest) (schemas.SubmitResponse, error) {
	if !req.Credentials.Valid() {
		return schemas.SubmitResponse{}, ErrMissingCredentials
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return schemas.SubmitResponse{}, ErrServiceClosed
	}

	now := s.now()
	task := schemas.Task{
		TaskID:    fmt.Sprintf("task_%s_%d", now.Format(taskIDLayout), s.seq.Add(1)),
		RunID:     uuid.NewString(),
		Status:    schemas.TaskRunning,
		StartedAt: now,
	}
	if err := s.tasks.Create(ctx, task); err != nil {
		return schemas.SubmitResponse{}, fmt.Errorf("failed to record task: %w", err)
	}
	s.observer.TaskSubmitted()
	s.logger.Info("Task submitted.",
		zap.String("task_id", task.TaskID),
		zap.String("run_id", task.RunID),
		schemas.CredentialsField(req.Credentials),
	)

	s.runs.Add(1)
	go s.execute(task, req)

	return schemas.SubmitResponse{
		TaskID:  task.TaskID,
		Status:  schemas.TaskRunning,
		Message: "Scraping task started in the background",
	}, nil
}

// Get returns the current record of a task.
func (s *Service) Get(ctx context.Context, id string) (schemas.Task, error) {
	return s.tasks.Get(ctx, id)
}

func (s *Service) execute(task schemas.Task, req schemas.ScrapeRequest) {
	defer s.runs.Done()
	logger := observability.RunLogger(s.logger, task.RunID, task.TaskID)

	if err := s.sem.Acquire(s.ctx, 1); err != nil {
		logger.Warn("Run abandoned before start.", zap.Error(err))
		s.finish(task, schemas.TaskFailed, nil, fmt.Sprintf("run canceled before start: %v", err), logger, 0)
		return
	}
	defer s.sem.Release(1)

	s.observer.RunStarted()
	start := time.Now()

	result, err := s.runSafely(logger, req)
	elapsed := time.Since(start)
	if err != nil {
		logger.Error("Run aborted.", zap.Error(err))
		s.finish(task, schemas.TaskFailed, nil, err.Error(), logger, elapsed)
		s.observer.RunFinished(schemas.TaskFailed, nil, elapsed)
		return
	}
	s.finish(task, schemas.TaskCompleted, &result, "", logger, elapsed)
	s.observer.RunFinished(schemas.TaskCompleted, &result, elapsed)
	s.forward(task, req.Credentials.Username, result, logger)
}

// runSafely converts a panic in the runner into an error.
func (s *Service) runSafely(logger *zap.Logger, req schemas.ScrapeRequest) (result schemas.ExtractionResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("extraction panicked: %v", r)
		}
	}()
	runner := s.newRunner(logger)
	return runner.Run(s.ctx, req.Credentials, req.FilterOptions, req.SessionConfig()), nil
}

func (s *Service) finish(task schemas.Task, status schemas.TaskStatus, result *schemas.ExtractionResult, errMsg string, logger *zap.Logger, elapsed time.Duration) {
	completed := s.now()
	task.Status = status
	task.Result = result
	task.Error = errMsg
	task.CompletedAt = &completed

	// The request context is long gone; bound the write on its own.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.tasks.Update(ctx, task); err != nil {
		logger.Error("Failed to record task completion.", zap.Error(err))
	}

	fields := []zap.Field{zap.String("task_status", string(status)), zap.Duration("elapsed", elapsed)}
	if result != nil {
		fields = append(fields, zap.String("result_status", string(result.Status)), zap.Int("rows", len(result.Data)))
	}
	logger.Info("Task finished.", fields...)
}

func (s *Service) forward(task schemas.Task, username string, result schemas.ExtractionResult, logger *zap.Logger) {
	if s.archive == nil {
		return
	}
	rec := store.RunRecord{RunID: task.RunID, TaskID: task.TaskID, Username: username, Result: result}
	select {
	case s.archive <- rec:
	default:
		logger.Warn("Archive queue full, result not archived.")
	}
}

func (s *Service) cleanupLoop() {
	defer s.loops.Done()
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.Cleanup(s.ctx)
		}
	}
}

// Cleanup removes finished tasks older than the retention window, and the
// archived runs of the same age when a purger is installed. It returns the
// number of tasks removed.
func (s *Service) Cleanup(ctx context.Context) int {
	cutoff := s.now().Add(-s.cfg.TaskRetention)
	n, err := s.tasks.Cleanup(ctx, cutoff)
	if err != nil {
		s.logger.Warn("Task cleanup failed.", zap.Error(err))
	}
	if n > 0 {
		s.logger.Debug("Expired tasks removed.", zap.Int("count", n))
	}
	if s.purger != nil {
		purged, err := s.purger.PurgeBefore(ctx, cutoff)
		if err != nil {
			s.logger.Warn("Archive purge failed.", zap.Error(err))
		} else if purged > 0 {
			s.logger.Debug("Expired archived runs removed.", zap.Int64("count", purged))
		}
	}
	return n
}

// Shutdown stops accepting work, cancels in-flight runs and waits for them
// to record their outcome or for ctx to end.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	done := make(chan struct{})
	go func() {
		s.runs.Wait()
		s.loops.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Debug("All runs finished.")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("service shutdown timed out: %w", ctx.Err())
	}
}
