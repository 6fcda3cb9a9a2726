// internal/browser/manager.go
package browser

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/totemscrape/api/schemas"
	"github.com/xkilldash9x/totemscrape/internal/config"
)

// Manager launches browser sessions and keeps track of the live ones so
// they can all be closed on shutdown.
type Manager struct {
	logger *zap.Logger
	cfg    config.BrowserConfig

	// launch is swapped in tests.
	launch func(ctx context.Context, cfg config.BrowserConfig, sc schemas.SessionConfig, logger *zap.Logger) (*Session, error)

	sessions map[string]*Session
	mu       sync.RWMutex
	wg       sync.WaitGroup
	closed   bool
}

// NewManager creates a manager. No browser is started until Launch.
func NewManager(cfg config.BrowserConfig, logger *zap.Logger) *Manager {
	m := &Manager{
		logger:   logger.Named("browser_manager"),
		cfg:      cfg,
		launch:   Launch,
		sessions: make(map[string]*Session),
	}
	return m
}

// Launch starts a new session with per run settings layered over the
// manager's browser config.
func (m *Manager) Launch(ctx context.Context, sc schemas.SessionConfig) (*Session, error) {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("browser manager is shut down")
	}

	s, err := m.launch(ctx, m.cfg, sc, m.logger)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.wg.Add(1)
	m.mu.Unlock()

	s.onClose = func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.sessions[s.ID()]; ok {
			delete(m.sessions, s.ID())
			m.wg.Done()
		}
		m.logger.Debug("Session removed from manager.", zap.String("session_id", s.ID()))
	}
	return s, nil
}

// Active returns the number of sessions that have not been closed.
func (m *Manager) Active() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Shutdown closes every live session and refuses new launches. It returns
// ctx.Err() if sessions were still closing when ctx ended.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("Shutting down browser manager.")

	m.mu.Lock()
	m.closed = true
	toClose := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		toClose = append(toClose, s)
	}
	m.mu.Unlock()

	for _, s := range toClose {
		go func(s *Session) {
			if err := s.Close(ctx); err != nil {
				m.logger.Warn("Error during session close in shutdown.", zap.String("session_id", s.ID()), zap.Error(err))
			}
		}(s)
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("All sessions closed gracefully.")
		return nil
	case <-ctx.Done():
		m.logger.Warn("Timeout waiting for sessions to close.", zap.Error(ctx.Err()))
		return ctx.Err()
	}
}
