// internal/browser/network_idle.go
package browser

import (
	"context"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

const networkIdleCheckFrequency = 100 * time.Millisecond

// NetworkTracker counts in flight requests of a target from CDP network
// events so callers can wait for the page to settle.
type NetworkTracker struct {
	logger *zap.Logger

	mu       sync.RWMutex
	inflight map[network.RequestID]struct{}
	// lastActivity is bumped on every event and read by WaitIdle.
	lastActivity time.Time
}

// NewNetworkTracker creates an empty tracker.
func NewNetworkTracker(logger *zap.Logger) *NetworkTracker {
	return &NetworkTracker{
		logger:       logger.Named("network"),
		inflight:     make(map[network.RequestID]struct{}),
		lastActivity: time.Now(),
	}
}

// Listen subscribes the tracker to the network events of the target in ctx.
// network.Enable must be run on the same target for events to flow.
func (t *NetworkTracker) Listen(ctx context.Context) {
	chromedp.ListenTarget(ctx, t.handleEvent)
}

func (t *NetworkTracker) handleEvent(ev interface{}) {
	switch ev := ev.(type) {
	case *network.EventRequestWillBeSent:
		// Redirects reuse the request id, so the map keeps the count honest.
		t.begin(ev.RequestID)
	case *network.EventLoadingFinished:
		t.end(ev.RequestID)
	case *network.EventLoadingFailed:
		t.end(ev.RequestID)
	}
}

func (t *NetworkTracker) begin(id network.RequestID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inflight[id] = struct{}{}
	t.lastActivity = time.Now()
}

func (t *NetworkTracker) end(id network.RequestID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.inflight, id)
	t.lastActivity = time.Now()
}

// Inflight returns the number of requests that have not finished.
func (t *NetworkTracker) Inflight() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.inflight)
}

// Reset forgets outstanding requests. Navigations call it because requests
// of the previous document never report completion.
func (t *NetworkTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inflight = make(map[network.RequestID]struct{})
	t.lastActivity = time.Now()
}

// WaitIdle blocks until no request has been in flight for quietPeriod.
func (t *NetworkTracker) WaitIdle(ctx context.Context, quietPeriod time.Duration) error {
	t.logger.Debug("Waiting for network to become idle.", zap.Duration("quiet_period", quietPeriod))

	// The timer only runs while the network is idle.
	timer := time.NewTimer(quietPeriod)
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	defer timer.Stop()

	isIdle := false
	check := networkIdleCheckFrequency
	if quietPeriod > 0 && quietPeriod/2 < check {
		check = quietPeriod / 2
	}
	if check <= 0 {
		check = time.Millisecond
	}
	ticker := time.NewTicker(check)
	defer ticker.Stop()

	var idleSince time.Time
	for {
		select {
		case <-ctx.Done():
			t.logger.Debug("Network idle wait aborted.", zap.Int("inflight", t.Inflight()), zap.Error(ctx.Err()))
			return ctx.Err()
		case <-ticker.C:
			t.mu.RLock()
			active := len(t.inflight)
			last := t.lastActivity
			t.mu.RUnlock()

			switch {
			case active > 0 && isIdle:
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				isIdle = false
			case active == 0 && !isIdle:
				timer.Reset(quietPeriod)
				isIdle = true
				idleSince = last
			case active == 0 && isIdle && last.After(idleSince):
				// A request started and finished between two ticks.
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(quietPeriod)
				idleSince = last
			}
		case <-timer.C:
			t.logger.Debug("Network is idle.")
			return nil
		}
	}
}
