// internal/browser/session.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/totemscrape/api/schemas"
	"github.com/xkilldash9x/totemscrape/internal/config"
)

const defaultCloseTimeout = 10 * time.Second

// ErrSessionClosed is returned by actions issued after Close.
var ErrSessionClosed = errors.New("browser session is closed")

// Session is one Chrome instance with a single tab, driven over CDP.
type Session struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	// allocCancel stops the Chrome process.
	allocCancel context.CancelFunc
	logger      *zap.Logger
	cfg         config.BrowserConfig

	network *NetworkTracker
	handles atomic.Uint64

	mu       sync.Mutex
	isClosed bool
	onClose  func()
}

// Launch starts Chrome with the run's session settings and opens one tab.
// The caller owns the session and must Close it on every exit path.
func Launch(ctx context.Context, cfg config.BrowserConfig, sc schemas.SessionConfig, logger *zap.Logger) (*Session, error) {
	sc = sc.Normalize()
	sessionID := uuid.NewString()
	log := logger.Named("browser").With(zap.String("session_id", sessionID))

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, ExecOptions(cfg, sc)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(log.Sugar().Debugf),
		chromedp.WithErrorf(log.Sugar().Warnf),
	)

	s := &Session{
		id:          sessionID,
		ctx:         tabCtx,
		cancel:      tabCancel,
		allocCancel: allocCancel,
		logger:      log,
		cfg:         cfg,
		network:     NewNetworkTracker(log),
	}

	// The listener must be attached before the first action starts the browser.
	s.network.Listen(tabCtx)
	if err := chromedp.Run(tabCtx, network.Enable()); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start browser session: %w", err)
	}

	log.Info("Browser session started.",
		zap.Bool("headless", sc.Headless),
		zap.Int("viewport_width", sc.ViewportWidth),
		zap.Int("viewport_height", sc.ViewportHeight),
	)
	return s, nil
}

// ExecOptions translates the browser config and run settings into allocator options.
func ExecOptions(cfg config.BrowserConfig, sc schemas.SessionConfig) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(sc.ViewportWidth, sc.ViewportHeight),
	)

	// DefaultExecAllocatorOptions is headless; a later flag overrides it.
	if !sc.Headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if cfg.DisableGPU {
		opts = append(opts, chromedp.DisableGPU)
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	for _, f := range parseFlags(cfg.Args) {
		opts = append(opts, chromedp.Flag(f.name, f.value))
	}
	return opts
}

type flagKV struct {
	name  string
	value interface{}
}

// parseFlags turns "--no-zygote" or "lang=pt-BR" style arguments into
// allocator flags. chromedp adds the leading dashes itself.
func parseFlags(args []string) []flagKV {
	flags := make([]flagKV, 0, len(args))
	for _, arg := range args {
		arg = strings.TrimLeft(strings.TrimSpace(arg), "-")
		if arg == "" {
			continue
		}
		if name, value, ok := strings.Cut(arg, "="); ok {
			flags = append(flags, flagKV{name: name, value: value})
			continue
		}
		flags = append(flags, flagKV{name: arg, value: true})
	}
	return flags
}

// ID returns the session identifier used in logs.
func (s *Session) ID() string { return s.id }

// RunActions executes chromedp actions on the session's tab, bounded by ctx.
func (s *Session) RunActions(ctx context.Context, actions ...chromedp.Action) error {
	s.mu.Lock()
	closed := s.isClosed
	s.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}

	opCtx, cancel := bindOperation(s.ctx, ctx)
	defer cancel()

	err := chromedp.Run(opCtx, actions...)
	if err != nil && opCtx.Err() != nil {
		// Report the cause that actually stopped the action.
		cause := context.Cause(opCtx)
		if errors.Is(cause, errSessionEnded) {
			return fmt.Errorf("%w: %v", ErrSessionClosed, s.ctx.Err())
		}
		return cause
	}
	return err
}

// Close shuts the tab and the browser process. It is safe to call more than
// once and honors ctx as an upper bound on the graceful shutdown.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.isClosed {
		s.mu.Unlock()
		return nil
	}
	s.isClosed = true
	s.mu.Unlock()

	timeout := s.cfg.CloseTimeout
	if timeout <= 0 {
		timeout = defaultCloseTimeout
	}
	closeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		// chromedp.Cancel closes the browser gracefully before canceling the context.
		done <- chromedp.Cancel(s.ctx)
	}()

	var err error
	select {
	case err = <-done:
	case <-closeCtx.Done():
		err = fmt.Errorf("graceful browser shutdown timed out: %w", closeCtx.Err())
	}

	s.cancel()
	s.allocCancel()
	if s.onClose != nil {
		s.onClose()
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("Browser session closed with error.", zap.Error(err))
		return err
	}
	s.logger.Info("Browser session closed.")
	return nil
}

func (s *Session) nextHandleToken() string {
	return fmt.Sprintf("h%d", s.handles.Add(1))
}
