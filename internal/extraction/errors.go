// internal/extraction/errors.go
package extraction

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means no candidate matched a visible element. It is
	// recovered locally and never fails a run by itself.
	ErrNotFound = errors.New("element not found")
	// ErrSettleTimeout means the page kept loading past the settle bound.
	ErrSettleTimeout = errors.New("page did not settle in time")
	// ErrNavigationTimeout means a navigation did not complete in time.
	ErrNavigationTimeout = errors.New("navigation timed out")
)

// InteractionError reports that both the native and the script path of an
// interaction failed.
type InteractionError struct {
	Name string
	Err  error
}

func (e *InteractionError) Error() string {
	return fmt.Sprintf("interaction %q failed: %v", e.Name, e.Err)
}

func (e *InteractionError) Unwrap() error { return e.Err }

// StepError attaches the orchestrator step to a failure.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
