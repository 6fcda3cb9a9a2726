// internal/browser/page.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/totemscrape/api/schemas"
)

// Navigate loads url and waits for the document to finish loading.
func (s *Session) Navigate(ctx context.Context, url string) error {
	s.logger.Debug("Navigating.", zap.String("url", url))
	s.network.Reset()
	if err := s.RunActions(ctx, chromedp.Navigate(url)); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("navigation to '%s' timed out: %w", url, err)
		}
		return fmt.Errorf("failed to navigate to '%s': %w", url, err)
	}
	return nil
}

// WaitReady blocks until a node matching selector is present in the DOM.
func (s *Session) WaitReady(ctx context.Context, selector string) error {
	if err := s.RunActions(ctx, chromedp.WaitReady(selector, chromedp.ByQuery)); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("wait for selector '%s' timed out: %w", selector, err)
		}
		return fmt.Errorf("wait for selector '%s' failed: %w", selector, err)
	}
	return nil
}

// Locate finds the first visible node matching q. The returned handle
// addresses that exact node for subsequent actions. found is false when no
// visible node matched; that is not an error.
func (s *Session) Locate(ctx context.Context, q schemas.ElementQuery) (schemas.ElementHandle, bool, error) {
	token := s.nextHandleToken()
	var found bool
	if err := s.Evaluate(ctx, locateScript(q, token), &found); err != nil {
		return schemas.ElementHandle{}, false, fmt.Errorf("locate %s: %w", q, err)
	}
	if !found {
		return schemas.ElementHandle{}, false, nil
	}
	return schemas.ElementHandle{
		Selector: fmt.Sprintf(`[%s="%s"]`, handleAttr, token),
		Query:    q,
	}, true, nil
}

// Inspect reports presence, visibility and disabled markers of the first
// node matching selector.
func (s *Session) Inspect(ctx context.Context, selector string) (schemas.ElementState, error) {
	var state schemas.ElementState
	if err := s.Evaluate(ctx, inspectScript(selector), &state); err != nil {
		return schemas.ElementState{}, fmt.Errorf("inspect '%s': %w", selector, err)
	}
	return state, nil
}

// ScrollIntoView scrolls the handle's node into the viewport.
func (s *Session) ScrollIntoView(ctx context.Context, h schemas.ElementHandle) error {
	if err := s.RunActions(ctx, chromedp.ScrollIntoView(h.Selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("scroll into view failed for %s: %w", h.Query, err)
	}
	return nil
}

// Click performs a native mouse click on the handle's node.
func (s *Session) Click(ctx context.Context, h schemas.ElementHandle) error {
	if err := s.RunActions(ctx, chromedp.Click(h.Selector, chromedp.ByQuery, chromedp.NodeVisible)); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("click action timed out for %s: %w", h.Query, err)
		}
		return fmt.Errorf("click action failed for %s: %w", h.Query, err)
	}
	return nil
}

// Fill replaces the value of the handle's input with value using key events.
func (s *Session) Fill(ctx context.Context, h schemas.ElementHandle, value string) error {
	var cleared bool
	err := s.RunActions(ctx,
		chromedp.Focus(h.Selector, chromedp.ByQuery),
		chromedp.Evaluate(clearScript(h.Selector), &cleared),
		chromedp.SendKeys(h.Selector, value, chromedp.ByQuery),
	)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("fill action timed out for %s: %w", h.Query, err)
		}
		return fmt.Errorf("fill action failed for %s: %w", h.Query, err)
	}
	return nil
}

// Texts returns the trimmed text content of every node matching selector.
func (s *Session) Texts(ctx context.Context, selector string) ([]string, error) {
	var texts []string
	if err := s.Evaluate(ctx, textsScript(selector), &texts); err != nil {
		return nil, fmt.Errorf("read texts of '%s': %w", selector, err)
	}
	return texts, nil
}

// Cells returns the cell texts of every row matching rowSelector.
func (s *Session) Cells(ctx context.Context, rowSelector, cellSelector string) ([][]string, error) {
	var rows [][]string
	if err := s.Evaluate(ctx, cellsScript(rowSelector, cellSelector), &rows); err != nil {
		return nil, fmt.Errorf("read cells of '%s': %w", rowSelector, err)
	}
	return rows, nil
}

// Evaluate runs script in the page and decodes its value into res. res may
// be nil when the result is not needed. Promises are awaited.
func (s *Session) Evaluate(ctx context.Context, script string, res interface{}) error {
	awaitPromise := func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true).WithReturnByValue(true)
	}
	if err := s.RunActions(ctx, chromedp.Evaluate(script, res, awaitPromise)); err != nil {
		return fmt.Errorf("javascript evaluation failed: %w", err)
	}
	return nil
}

// Screenshot captures the full page as PNG.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	// Quality 100 makes chromedp capture PNG instead of JPEG.
	if err := s.RunActions(ctx, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return nil, fmt.Errorf("failed to capture screenshot: %w", err)
	}
	return buf, nil
}

// WaitNetworkIdle waits until no request has been in flight for quietPeriod.
func (s *Session) WaitNetworkIdle(ctx context.Context, quietPeriod time.Duration) error {
	return s.network.WaitIdle(ctx, quietPeriod)
}
