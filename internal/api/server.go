// internal/api/server.go
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/totemscrape/api/schemas"
	"github.com/xkilldash9x/totemscrape/internal/config"
	"github.com/xkilldash9x/totemscrape/internal/store"
)

const defaultShutdownTimeout = 30 * time.Second

// TaskService is what the HTTP layer needs from the task service.
type TaskService interface {
	Submit(ctx context.Context, req schemas.ScrapeRequest) (schemas.SubmitResponse, error)
	Get(ctx context.Context, id string) (schemas.Task, error)
}

// RunArchive reads archived runs. *store.Store satisfies it.
type RunArchive interface {
	GetRows(ctx context.Context, runID string) (store.ArchivedRows, error)
}

// Info is reported by GET /.
type Info struct {
	Name    string
	Version string
}

// Server exposes the task service over HTTP.
type Server struct {
	cfg     config.ServiceConfig
	info    Info
	tasks   TaskService
	archive RunArchive
	metrics *Metrics
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewServer creates the HTTP server. metrics may be nil, in which case a
// fresh registry is used.
func NewServer(cfg config.ServiceConfig, info Info, tasks TaskService, metrics *Metrics, logger *zap.Logger) *Server {
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Server{
		cfg:     cfg,
		info:    info,
		tasks:   tasks,
		metrics: metrics,
		limiter: newSubmitLimiter(cfg.SubmitRateLimit, cfg.SubmitBurst),
		logger:  logger.Named("api"),
	}
}

// WithRunArchive serves archived runs on GET /runs/{run_id}/rows.
func (s *Server) WithRunArchive(a RunArchive) *Server {
	s.archive = a
	return s
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)
	r.Use(s.metrics.Middleware)

	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Group(func(r chi.Router) {
		if s.cfg.RequestTimeout > 0 {
			r.Use(middleware.Timeout(s.cfg.RequestTimeout))
		}
		r.Get("/", s.handleIndex)
		r.Get("/health", s.handleHealth)
		r.Get("/tasks/{task_id}", s.handleGetTask)
		r.Get("/runs/{run_id}/rows", s.handleGetRunRows)
		r.With(s.rateLimit).Post("/scrape", s.handleScrape)
	})

	return r
}

// Start listens on the configured address and serves until ctx ends.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.ListenAddr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx ends, then shuts down gracefully
// within the configured shutdown timeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("HTTP API starting", zap.String("address", ln.Addr().String()))
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTP server failed: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP API...")
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server shutdown error: %w", err)
	}
	<-errCh
	return nil
}
