// internal/extraction/interaction.go
package extraction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/totemscrape/api/schemas"
)

// Outcome is the result of one interaction. Err is an *InteractionError
// whenever OK is false.
type Outcome struct {
	OK bool
	// Fallback is set when the inline script path did the work.
	Fallback bool
	Err      error
}

// Interactor performs clicks and fills: resolve, scroll, pause, native
// action, and a single inline script retry when the native path fails.
type Interactor struct {
	page          Page
	resolver      *Resolver
	logger        *zap.Logger
	preAction     time.Duration
	actionTimeout time.Duration
}

// NewInteractor creates an interactor. preAction is the pause between
// scrolling a node into view and acting on it. actionTimeout bounds each
// native or script action; zero leaves them bounded by the caller only.
func NewInteractor(page Page, resolver *Resolver, logger *zap.Logger, preAction, actionTimeout time.Duration) *Interactor {
	return &Interactor{
		page:          page,
		resolver:      resolver,
		logger:        logger.Named("interaction"),
		preAction:     preAction,
		actionTimeout: actionTimeout,
	}
}

// Click clicks the first candidate that resolves.
func (i *Interactor) Click(ctx context.Context, name string, candidates ...schemas.ElementQuery) Outcome {
	return i.interact(ctx, name, "click", candidates,
		func(ctx context.Context, h schemas.ElementHandle) error { return i.page.Click(ctx, h) },
		clickFallbackScript(candidates),
	)
}

// Fill replaces the value of the first candidate input that resolves.
func (i *Interactor) Fill(ctx context.Context, name, value string, candidates ...schemas.ElementQuery) Outcome {
	return i.interact(ctx, name, "fill", candidates,
		func(ctx context.Context, h schemas.ElementHandle) error { return i.page.Fill(ctx, h, value) },
		fillFallbackScript(candidates, value),
	)
}

func (i *Interactor) interact(
	ctx context.Context,
	name, action string,
	candidates []schemas.ElementQuery,
	native func(context.Context, schemas.ElementHandle) error,
	fallbackScript string,
) Outcome {
	log := i.logger.With(zap.String("element", name), zap.String("action", action))

	primaryErr := i.tryNative(ctx, name, candidates, native)
	if primaryErr == nil {
		log.Debug("Native interaction succeeded.")
		return Outcome{OK: true}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Outcome{Err: &InteractionError{Name: name, Err: ctxErr}}
	}

	if errors.Is(primaryErr, ErrNotFound) {
		log.Debug("No visible candidate, trying script fallback.")
	} else {
		log.Warn("Native interaction failed, trying script fallback.", zap.Error(primaryErr))
	}

	var acted bool
	err := i.withActionTimeout(ctx, func(ctx context.Context) error {
		return i.page.Evaluate(ctx, fallbackScript, &acted)
	})
	switch {
	case err == nil && acted:
		log.Info("Script fallback succeeded.")
		return Outcome{OK: true, Fallback: true}
	case ctx.Err() != nil:
		return Outcome{Err: &InteractionError{Name: name, Err: ctx.Err()}}
	case err != nil:
		log.Warn("Script fallback failed.", zap.Error(err))
		return Outcome{Err: &InteractionError{Name: name, Err: fmt.Errorf("%v; fallback: %w", primaryErr, err)}}
	default:
		log.Warn("Script fallback found no element.")
		return Outcome{Err: &InteractionError{Name: name, Err: primaryErr}}
	}
}

func (i *Interactor) tryNative(
	ctx context.Context,
	name string,
	candidates []schemas.ElementQuery,
	native func(context.Context, schemas.ElementHandle) error,
) error {
	h, err := i.resolver.Resolve(ctx, name, candidates...)
	if err != nil {
		return err
	}
	if err := i.withActionTimeout(ctx, func(ctx context.Context) error { return i.page.ScrollIntoView(ctx, h) }); err != nil {
		// The native click scrolls on its own; a failed scroll is not fatal.
		i.logger.Debug("Scroll into view failed.", zap.String("element", name), zap.Error(err))
	}
	if err := Pause(ctx, i.preAction); err != nil {
		return err
	}
	return i.withActionTimeout(ctx, func(ctx context.Context) error { return native(ctx, h) })
}

func (i *Interactor) withActionTimeout(ctx context.Context, fn func(context.Context) error) error {
	if i.actionTimeout <= 0 {
		return fn(ctx)
	}
	actx, cancel := context.WithTimeout(ctx, i.actionTimeout)
	defer cancel()
	return fn(actx)
}

// Pause sleeps for d or until ctx ends.
func Pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
