// internal/extraction/page.go
package extraction

import (
	"context"
	"time"

	"github.com/xkilldash9x/totemscrape/api/schemas"
)

// Page is the browser control surface the engine drives. All methods block
// until the browser answers or ctx ends.
type Page interface {
	Navigate(ctx context.Context, url string) error
	WaitReady(ctx context.Context, selector string) error
	// Locate tags the first visible node matching q. found is false on a miss.
	Locate(ctx context.Context, q schemas.ElementQuery) (h schemas.ElementHandle, found bool, err error)
	Inspect(ctx context.Context, selector string) (schemas.ElementState, error)
	ScrollIntoView(ctx context.Context, h schemas.ElementHandle) error
	Click(ctx context.Context, h schemas.ElementHandle) error
	Fill(ctx context.Context, h schemas.ElementHandle, value string) error
	Texts(ctx context.Context, selector string) ([]string, error)
	Cells(ctx context.Context, rowSelector, cellSelector string) ([][]string, error)
	Evaluate(ctx context.Context, script string, res interface{}) error
	Screenshot(ctx context.Context) ([]byte, error)
	WaitNetworkIdle(ctx context.Context, quietPeriod time.Duration) error
}

// Session is a Page that owns a browser and must be closed.
type Session interface {
	Page
	Close(ctx context.Context) error
}

// Launcher opens one session per run.
type Launcher interface {
	Launch(ctx context.Context, cfg schemas.SessionConfig) (Session, error)
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(ctx context.Context, cfg schemas.SessionConfig) (Session, error)

// Launch calls f.
func (f LauncherFunc) Launch(ctx context.Context, cfg schemas.SessionConfig) (Session, error) {
	return f(ctx, cfg)
}
