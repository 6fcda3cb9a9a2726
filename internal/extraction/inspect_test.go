// internal/extraction/inspect_test.go
package extraction

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/totemscrape/api/schemas"
)

func TestEngine_Inspect(t *testing.T) {
	page := loggedInPage()
	page.addNode("#slGrupoTotem_chosen", "Selecione um grupo totem")
	page.tables = []fakeTablePage{
		tablePage(queueHeader, [][]string{{"1", "Ana", "Aguardando"}, {"2", "Bruno", "Chamado"}}, enabledNext),
	}
	engine, _ := newTestEngine(t, page, nil)

	held := false
	report, err := engine.Inspect(context.Background(), testCreds, schemas.SessionConfig{ViewportWidth: 800, ViewportHeight: 600}, func(ctx context.Context) error {
		held = true
		assert.False(t, page.isClosed(), "session must stay open while held")
		return nil
	})
	require.NoError(t, err)
	assert.True(t, held)
	assert.True(t, page.isClosed())

	filters := report.Matched(ProbeFilter)
	require.Len(t, filters, 1)
	assert.Equal(t, string(schemas.FilterGroup), filters[0].Name)

	headers := report.Matched(ProbeHeader)
	require.Len(t, headers, 1)
	assert.Equal(t, primaryHeaders, headers[0].Query)
	assert.Equal(t, 3, headers[0].Count)

	rows := report.Matched(ProbeRow)
	require.Len(t, rows, 1)
	assert.Equal(t, 2, rows[0].Count)

	next := report.Matched(ProbeNext)
	require.Len(t, next, 1)
	assert.Equal(t, dataTablesNext, next[0].Query)
	assert.False(t, next[0].Disabled)
	assert.Equal(t, dataTablesNext, report.NextSelector)
	assert.Equal(t, "enabled", report.Pagination)

	// Inspect never pages through the table.
	assert.Zero(t, page.called("click:"+dataTablesNext))
}

func TestEngine_Inspect_LoginFailureIsRedacted(t *testing.T) {
	page := loggedInPage()
	page.fillErr[`input[name="j_password"]`] = errors.New("cannot type s3cret")
	engine, _ := newTestEngine(t, page, nil)

	_, err := engine.Inspect(context.Background(), testCreds, schemas.DefaultSessionConfig(), nil)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "s3cret")
	assert.Contains(t, err.Error(), "fill password")
	assert.True(t, page.isClosed())
}

func TestEngine_Inspect_HoldError(t *testing.T) {
	page := loggedInPage()
	engine, _ := newTestEngine(t, page, nil)

	report, err := engine.Inspect(context.Background(), testCreds, schemas.DefaultSessionConfig(), func(ctx context.Context) error {
		return context.Canceled
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "absent", report.Pagination)
	assert.NotEmpty(t, report.Probes)
}
