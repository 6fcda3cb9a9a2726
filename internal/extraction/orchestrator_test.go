// internal/extraction/orchestrator_test.go
package extraction

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/totemscrape/api/schemas"
	"github.com/xkilldash9x/totemscrape/internal/config"
)

var (
	testCreds = schemas.Credentials{Username: "operador", Password: "s3cret"}
	fixedNow  = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
)

// loggedInPage is a page where login and the totem view work.
func loggedInPage() *fakePage {
	page := newFakePage()
	page.addNode(`input[name="j_username"]`, "")
	page.addNode(`input[name="j_password"]`, "")
	page.addNode(`button[type="submit"]`, "Entrar")
	page.addNode("#btnSetGuicheModal", "Confirmar")
	page.addNode("#btnFiltrar", "Filtrar")
	page.nextSelector = dataTablesNext
	return page
}

func newTestEngine(t *testing.T, page *fakePage, launchErr error) (*Engine, string) {
	t.Helper()
	dir := t.TempDir()
	logger := zaptest.NewLogger(t)
	exporter := NewExporter(config.ExportConfig{Dir: dir, CSV: true, JSON: true, HTML: true, Screenshots: true}, "table", time.Second, logger)
	launcher := LauncherFunc(func(ctx context.Context, sc schemas.SessionConfig) (Session, error) {
		if launchErr != nil {
			return nil, launchErr
		}
		return page, nil
	})
	e := NewEngine(launcher, testExtractionConfig(), exporter, logger)
	e.now = func() time.Time { return fixedNow }
	return e, dir
}

func TestEngine_Run_MultiPageSuccess(t *testing.T) {
	page := loggedInPage()
	page.tables = []fakeTablePage{
		tablePage(queueHeader, [][]string{{"1", "Ana", "Aguardando"}, {"2", "Bruno", "Chamado"}}, enabledNext),
		tablePage(queueHeader, [][]string{{"3", "Carla", "Aguardando"}}, enabledNext),
		tablePage(queueHeader, nil, disabledNext),
	}
	engine, dir := newTestEngine(t, page, nil)

	result := engine.Run(context.Background(), testCreds, nil, schemas.DefaultSessionConfig())

	require.Equal(t, schemas.StatusSuccess, result.Status, result.Message)
	assert.Equal(t, "Successfully scraped 3 rows of data", result.Message)
	assert.Equal(t, 3, result.Pages)
	assert.Equal(t, schemas.TableHeader(queueHeader), result.Headers)
	assert.Nil(t, result.Filters, "no filters were supplied")
	want := []schemas.TableRow{
		row("ID", "1", "Paciente", "Ana", "Status", "Aguardando"),
		row("ID", "2", "Paciente", "Bruno", "Status", "Chamado"),
		row("ID", "3", "Paciente", "Carla", "Status", "Aguardando"),
	}
	if diff := cmp.Diff(want, result.Data); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, filepath.Join(dir, "table_data_20250314_092653.csv"), result.CSVFile)
	assert.Equal(t, filepath.Join(dir, "table_data_20250314_092653.json"), result.JSONFile)
	assert.Equal(t, filepath.Join(dir, "table_html_20250314_092653.html"), result.HTMLFile)
	assert.Equal(t, filepath.Join(dir, "final_state_20250314_092653.png"), result.FinalScreenshot)
	assert.Empty(t, result.ErrorScreenshot)
	for _, p := range []string{result.CSVFile, result.JSONFile, result.HTMLFile, result.FinalScreenshot} {
		assert.FileExists(t, p)
	}

	assert.Equal(t, "operador", page.fills[`input[name="j_username"]`])
	assert.Equal(t, "s3cret", page.fills[`input[name="j_password"]`])
	assert.True(t, page.isClosed())

	// The login view is opened before the totem view and the session is closed last.
	calls := page.Calls()
	assert.Equal(t, "navigate:"+testExtractionConfig().LoginURL, calls[0])
	assert.Equal(t, "close", calls[len(calls)-1])
}

func TestEngine_Run_CredentialInputNeverAppears(t *testing.T) {
	page := loggedInPage()
	page.readyErr[`input[name="j_username"]`] = context.DeadlineExceeded
	engine, dir := newTestEngine(t, page, nil)

	result := engine.Run(context.Background(), testCreds, nil, schemas.DefaultSessionConfig())

	assert.Equal(t, schemas.StatusFailed, result.Status)
	assert.Empty(t, result.Data)
	assert.NotNil(t, result.Data)
	assert.True(t, strings.HasPrefix(result.Message, "An error occurred: wait for credential input"), result.Message)
	assert.Equal(t, 1, page.called("screenshot"), "a diagnostic screenshot is attempted")
	assert.Equal(t, filepath.Join(dir, "error_state_20250314_092653.png"), result.ErrorScreenshot)
	assert.FileExists(t, result.ErrorScreenshot)
	assert.Equal(t, 0, page.called("fill:"))
	assert.True(t, page.isClosed())
}

func TestEngine_Run_AllFiltersFail(t *testing.T) {
	page := loggedInPage()
	page.tables = []fakeTablePage{
		tablePage(queueHeader, [][]string{{"1", "Ana", "Aguardando"}}, disabledNext),
	}
	engine, _ := newTestEngine(t, page, nil)

	filters := schemas.DefaultFilterSelection()
	result := engine.Run(context.Background(), testCreds, &filters, schemas.DefaultSessionConfig())

	require.Equal(t, schemas.StatusSuccess, result.Status, result.Message)
	require.Len(t, result.Filters, 5)
	for _, o := range result.Filters {
		assert.False(t, o.OK(), o.Filter)
	}
	assert.Len(t, result.Data, 1)
	assert.Contains(t, result.Message, "Successfully scraped 1 rows of data")
	assert.Contains(t, result.Message, "failed: grupo_totem, guiche, tipo, prioridade, modalidade")
}

func TestEngine_Run_Failures(t *testing.T) {
	t.Run("launch failure", func(t *testing.T) {
		page := loggedInPage()
		engine, _ := newTestEngine(t, page, errors.New("chrome executable not found"))

		result := engine.Run(context.Background(), testCreds, nil, schemas.DefaultSessionConfig())
		assert.Equal(t, schemas.StatusFailed, result.Status)
		assert.Contains(t, result.Message, "chrome executable not found")
		assert.Empty(t, result.ErrorScreenshot)
		assert.Equal(t, 0, page.called("screenshot"))
	})

	t.Run("panic is converted and the session still closes", func(t *testing.T) {
		page := loggedInPage()
		page.onClick = func(q schemas.ElementQuery) {
			if q.Selector == `button[type="submit"]` {
				panic("unexpected nil form")
			}
		}
		engine, _ := newTestEngine(t, page, nil)

		result := engine.Run(context.Background(), testCreds, nil, schemas.DefaultSessionConfig())
		assert.Equal(t, schemas.StatusFailed, result.Status)
		assert.Contains(t, result.Message, "unexpected nil form")
		assert.True(t, page.isClosed())
	})

	t.Run("password never reaches the message", func(t *testing.T) {
		page := loggedInPage()
		page.fillErr[`input[name="j_password"]`] = errors.New(`cannot type "s3cret" into a readonly field`)
		engine, _ := newTestEngine(t, page, nil)

		result := engine.Run(context.Background(), testCreds, nil, schemas.DefaultSessionConfig())
		assert.Equal(t, schemas.StatusFailed, result.Status)
		assert.Contains(t, result.Message, "fill password")
		assert.NotContains(t, result.Message, "s3cret")
	})

	t.Run("settle timeout after login", func(t *testing.T) {
		page := loggedInPage()
		page.idleErr = context.DeadlineExceeded
		engine, _ := newTestEngine(t, page, nil)

		result := engine.Run(context.Background(), testCreds, nil, schemas.DefaultSessionConfig())
		assert.Equal(t, schemas.StatusFailed, result.Status)
		assert.Contains(t, result.Message, "settle after login")
		assert.Contains(t, result.Message, ErrSettleTimeout.Error())
	})

	t.Run("missing modal and apply control are not fatal", func(t *testing.T) {
		page := newFakePage()
		page.addNode(`input[name="j_username"]`, "")
		page.addNode(`input[name="j_password"]`, "")
		page.addNode(`button[type="submit"]`, "")
		page.tables = []fakeTablePage{tablePage(queueHeader, nil, schemas.ElementState{})}
		engine, _ := newTestEngine(t, page, nil)

		result := engine.Run(context.Background(), testCreds, nil, schemas.DefaultSessionConfig())
		assert.Equal(t, schemas.StatusSuccess, result.Status, result.Message)
		assert.Equal(t, "Successfully scraped 0 rows of data", result.Message)
		assert.NotNil(t, result.Data)
	})

	t.Run("canceled run", func(t *testing.T) {
		page := loggedInPage()
		engine, _ := newTestEngine(t, page, nil)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		result := engine.Run(ctx, testCreds, nil, schemas.DefaultSessionConfig())
		assert.Equal(t, schemas.StatusFailed, result.Status)
		assert.True(t, page.isClosed())
	})
}

func TestEngine_Run_TimeoutDuringPageTurnKeepsRows(t *testing.T) {
	page := loggedInPage()
	page.tables = []fakeTablePage{
		tablePage(queueHeader, [][]string{{"1", "Ana", "Aguardando"}, {"2", "Bruno", "Chamado"}}, enabledNext),
		tablePage(queueHeader, [][]string{{"3", "Carla", "Aguardando"}}, disabledNext),
	}
	page.onClick = func(q schemas.ElementQuery) {
		if q.Selector == dataTablesNext {
			time.Sleep(400 * time.Millisecond)
		}
	}
	engine, _ := newTestEngine(t, page, nil)
	engine.cfg.Timeouts.Run = 200 * time.Millisecond

	result := engine.Run(context.Background(), testCreds, nil, schemas.DefaultSessionConfig())

	require.Equal(t, schemas.StatusFailed, result.Status, result.Message)
	assert.Contains(t, result.Message, context.DeadlineExceeded.Error())
	assert.Contains(t, result.Message, "kept 2 rows from 1 pages")
	assert.Equal(t, 1, result.Pages)
	assert.Equal(t, schemas.TableHeader(queueHeader), result.Headers)
	want := []schemas.TableRow{
		row("ID", "1", "Paciente", "Ana", "Status", "Aguardando"),
		row("ID", "2", "Paciente", "Bruno", "Status", "Chamado"),
	}
	if diff := cmp.Diff(want, result.Data); diff != "" {
		t.Errorf("partial rows mismatch (-want +got):\n%s", diff)
	}
	assert.NotEmpty(t, result.ErrorScreenshot)
	assert.True(t, page.isClosed())
}

func TestEngine_Run_ExportFailureKeepsSuccess(t *testing.T) {
	page := loggedInPage()
	page.tables = []fakeTablePage{tablePage(queueHeader, [][]string{{"1", "Ana", "x"}}, schemas.ElementState{})}
	page.shotErr = errors.New("screenshot failed")
	engine, _ := newTestEngine(t, page, nil)

	// A file where the directory should be makes every write fail.
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	engine.exporter.cfg.Dir = blocker

	result := engine.Run(context.Background(), testCreds, nil, schemas.DefaultSessionConfig())
	assert.Equal(t, schemas.StatusSuccess, result.Status)
	assert.Empty(t, result.CSVFile)
	assert.Empty(t, result.FinalScreenshot)
}
