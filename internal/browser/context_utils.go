// internal/browser/context_utils.go
package browser

import (
	"context"
	"errors"
)

// errSessionEnded is the cancel cause when the tab context ends first.
var errSessionEnded = errors.New("browser session ended")

// bindOperation scopes one chromedp call. The returned context carries the
// tab's values and ends with whichever of tab or op ends first; its cause is
// op's cause, or errSessionEnded when the tab went away.
func bindOperation(tab, op context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(context.WithoutCancel(tab))
	switch {
	case tab.Err() != nil:
		cancel(errSessionEnded)
	case op.Err() != nil:
		cancel(context.Cause(op))
	}
	stopOp := context.AfterFunc(op, func() { cancel(context.Cause(op)) })
	stopTab := context.AfterFunc(tab, func() { cancel(errSessionEnded) })
	return ctx, func() {
		stopOp()
		stopTab()
		cancel(context.Canceled)
	}
}

// Detach keeps the values of ctx, the chromedp target included, and drops
// its deadline and cancellation. Session teardown and error screenshots run
// on it after a run context has expired.
func Detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
