// internal/browser/session_test.go
package browser

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/totemscrape/api/schemas"
	"github.com/xkilldash9x/totemscrape/internal/config"
)

func TestParseFlags(t *testing.T) {
	got := parseFlags([]string{"--no-zygote", "  ", "lang=pt-BR", "-mute-audio", "--proxy-server=http://p:3128"})
	assert.Equal(t, []flagKV{
		{name: "no-zygote", value: true},
		{name: "lang", value: "pt-BR"},
		{name: "mute-audio", value: true},
		{name: "proxy-server", value: "http://p:3128"},
	}, got)

	assert.Empty(t, parseFlags(nil))
}

func TestExecOptions(t *testing.T) {
	base := len(ExecOptions(config.BrowserConfig{}, schemas.DefaultSessionConfig()))

	headful := schemas.DefaultSessionConfig()
	headful.Headless = false
	assert.Equal(t, base+1, len(ExecOptions(config.BrowserConfig{}, headful)))

	full := config.BrowserConfig{
		ExecPath:   "/usr/bin/chromium",
		DisableGPU: true,
		UserAgent:  "totem-test",
		Args:       []string{"--no-zygote", "lang=pt-BR"},
	}
	assert.Equal(t, base+5, len(ExecOptions(full, schemas.DefaultSessionConfig())))
}

func TestScriptsEscapeArguments(t *testing.T) {
	q := schemas.TextQuery("a", `O'Brien "quoted"`)
	script := locateScript(q, "h1")

	encoded, err := json.Marshal(q.Text)
	require.NoError(t, err)
	assert.Contains(t, script, string(encoded))
	assert.Contains(t, script, `"data-totem-handle"`)
	assert.True(t, strings.HasSuffix(script, `false, "data-totem-handle", "h1")`))

	assert.Contains(t, cellsScript("table tbody tr", "td"), `("table tbody tr", "td")`)
	assert.Contains(t, inspectScript("#next"), `("#next")`)
}

func TestSessionClosedRejectsActions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ctx:         ctx,
		cancel:      cancel,
		allocCancel: func() {},
		logger:      zaptest.NewLogger(t),
		network:     NewNetworkTracker(zaptest.NewLogger(t)),
		isClosed:    true,
	}

	err := s.RunActions(context.Background())
	assert.ErrorIs(t, err, ErrSessionClosed)

	_, err = s.Texts(context.Background(), "td")
	assert.ErrorIs(t, err, ErrSessionClosed)

	// Closing twice is a no-op.
	closeCtx, closeCancel := context.WithTimeout(context.Background(), time.Second)
	defer closeCancel()
	assert.NoError(t, s.Close(closeCtx))
}

func TestHandleTokensAreUnique(t *testing.T) {
	s := &Session{}
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		tok := s.nextHandleToken()
		require.False(t, seen[tok])
		seen[tok] = true
	}
}
