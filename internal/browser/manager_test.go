// internal/browser/manager_test.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/totemscrape/api/schemas"
	"github.com/xkilldash9x/totemscrape/internal/config"
)

// newDetachedSession builds a session that is not backed by a browser.
func newDetachedSession(t *testing.T, id string) *Session {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:          id,
		ctx:         ctx,
		cancel:      cancel,
		allocCancel: func() {},
		logger:      zaptest.NewLogger(t),
		cfg:         config.BrowserConfig{CloseTimeout: time.Second},
		network:     NewNetworkTracker(zaptest.NewLogger(t)),
	}
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(config.BrowserConfig{}, zaptest.NewLogger(t))
	n := 0
	m.launch = func(ctx context.Context, cfg config.BrowserConfig, sc schemas.SessionConfig, logger *zap.Logger) (*Session, error) {
		n++
		return newDetachedSession(t, fmt.Sprintf("s%d", n)), nil
	}
	return m
}

func TestManager_TracksSessions(t *testing.T) {
	m := newTestManager(t)

	s1, err := m.Launch(context.Background(), schemas.DefaultSessionConfig())
	require.NoError(t, err)
	_, err = m.Launch(context.Background(), schemas.DefaultSessionConfig())
	require.NoError(t, err)
	assert.Equal(t, 2, m.Active())

	// The session is not a real CDP target, so Close reports an error but
	// still releases its slot.
	_ = s1.Close(context.Background())
	assert.Equal(t, 1, m.Active())

	// A second close must not release the slot twice.
	_ = s1.Close(context.Background())
	assert.Equal(t, 1, m.Active())
}

func TestManager_Shutdown(t *testing.T) {
	m := newTestManager(t)
	for i := 0; i < 3; i++ {
		_, err := m.Launch(context.Background(), schemas.DefaultSessionConfig())
		require.NoError(t, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))
	assert.Equal(t, 0, m.Active())

	_, err := m.Launch(context.Background(), schemas.DefaultSessionConfig())
	assert.Error(t, err, "launch after shutdown must be refused")
}

func TestManager_LaunchError(t *testing.T) {
	m := NewManager(config.BrowserConfig{}, zaptest.NewLogger(t))
	boom := errors.New("chrome not found")
	m.launch = func(context.Context, config.BrowserConfig, schemas.SessionConfig, *zap.Logger) (*Session, error) {
		return nil, boom
	}

	_, err := m.Launch(context.Background(), schemas.DefaultSessionConfig())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, m.Active())
}
