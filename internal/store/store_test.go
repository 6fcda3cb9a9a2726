package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/totemscrape/api/schemas"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

// ArgumentMatcherFunc is a helper to create inline mock matchers.
type ArgumentMatcherFunc func(interface{}) bool

func (f ArgumentMatcherFunc) Match(v interface{}) bool {
	return f(v)
}

// utcTime accepts a time.Time only when it is in UTC.
var utcTime = ArgumentMatcherFunc(func(v interface{}) bool {
	ts, ok := v.(time.Time)
	return ok && ts.Location() == time.UTC
})

func newMockStore(t *testing.T, logger *zap.Logger) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing().WillReturnError(nil)
	s, err := New(context.Background(), mockPool, logger)
	require.NoError(t, err)
	return s, mockPool
}

func sampleRecord() RunRecord {
	loc := time.FixedZone("BRT", -3*60*60)
	return RunRecord{
		RunID:    uuid.NewString(),
		TaskID:   "task_20250314092653_1",
		Username: "operador",
		Result: schemas.ExtractionResult{
			Status:  schemas.StatusSuccess,
			Message: "Successfully scraped 2 rows of data",
			Headers: schemas.TableHeader{"ID", "Paciente"},
			Data: []schemas.TableRow{
				{{Column: "ID", Value: "1"}, {Column: "Paciente", Value: "Ana"}},
				{{Column: "ID", Value: "2"}},
			},
			Pages:     1,
			Timestamp: time.Date(2025, 3, 14, 9, 26, 53, 0, loc),
		},
	}
}

func TestNewStore(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = New(context.Background(), mockPool, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr, "Error from ping should be propagated")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestEnsureSchema(t *testing.T) {
	s, mockPool := newMockStore(t, zap.NewNop())
	mockPool.ExpectExec("CREATE TABLE IF NOT EXISTS extraction_runs").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.EnsureSchema(context.Background()))
	assert.NoError(t, mockPool.ExpectationsWereMet())
	// JSONB would normalize key order and lose the column order of each row.
	assert.Regexp(t, `data\s+JSON NOT NULL`, schemaSQL)
}

func TestPersistResult(t *testing.T) {
	ctx := context.Background()

	t.Run("should persist the run and copy rows in one transaction", func(t *testing.T) {
		observedZapCore, observedLogs := observer.New(zapcore.ErrorLevel)
		s, mockPool := newMockStore(t, zap.New(observedZapCore))
		rec := sampleRecord()

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertRun)).
			WithArgs(
				rec.RunID, rec.TaskID, "operador",
				"success", rec.Result.Message,
				`["ID","Paciente"]`, `[]`,
				1, 2,
				utcTime,
			).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCopyFrom(pgx.Identifier{"extraction_rows"}, []string{"run_id", "row_index", "data"}).
			WillReturnResult(2)
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		require.NoError(t, s.PersistResult(ctx, rec))
		assert.NoError(t, mockPool.ExpectationsWereMet())
		assert.Empty(t, observedLogs.All(), "Expected no errors logged on successful commit")
	})

	t.Run("should skip the copy for a run without rows", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		rec := sampleRecord()
		rec.Result = schemas.ExtractionResult{
			Status:    schemas.StatusFailed,
			Message:   "An error occurred: wait for credential input: timeout",
			Data:      []schemas.TableRow{},
			Timestamp: time.Now().UTC(),
		}

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertRun)).
			WithArgs(rec.RunID, rec.TaskID, "operador", "failed", rec.Result.Message, `[]`, `[]`, 0, 0, utcTime).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		require.NoError(t, s.PersistResult(ctx, rec))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should roll back when the copy fails", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		rec := sampleRecord()
		copyErr := errors.New("connection reset")

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertRun)).
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCopyFrom(pgx.Identifier{"extraction_rows"}, []string{"run_id", "row_index", "data"}).
			WillReturnError(copyErr)
		mockPool.ExpectRollback()

		err := s.PersistResult(ctx, rec)
		require.Error(t, err)
		assert.ErrorIs(t, err, copyErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should report a short copy", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		rec := sampleRecord()

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertRun)).
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCopyFrom(pgx.Identifier{"extraction_rows"}, []string{"run_id", "row_index", "data"}).
			WillReturnResult(1)
		mockPool.ExpectRollback()

		err := s.PersistResult(ctx, rec)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "mismatch in copied rows count")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should fail when begin fails", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		mockPool.ExpectBegin().WillReturnError(errors.New("too many connections"))

		err := s.PersistResult(ctx, sampleRecord())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to begin transaction")
	})
}

func TestGetRows(t *testing.T) {
	ctx := context.Background()

	t.Run("should lay out cells in header order", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		runID := uuid.NewString()

		mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectRunHeaders)).
			WithArgs(runID).
			WillReturnRows(pgxmock.NewRows([]string{"headers"}).
				AddRow([]byte(`["Status","ID"]`)))
		// Keys come back sorted, the way a normalizing column would return them.
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectRows)).
			WithArgs(runID).
			WillReturnRows(pgxmock.NewRows([]string{"data"}).
				AddRow([]byte(`{"Extra":"x","ID":"1","Status":"Aguardando"}`)).
				AddRow([]byte(`{"ID":"2"}`)))

		got, err := s.GetRows(ctx, runID)
		require.NoError(t, err)
		assert.Equal(t, runID, got.RunID)
		assert.Equal(t, schemas.TableHeader{"Status", "ID"}, got.Headers)
		require.Len(t, got.Data, 2)
		assert.Equal(t, []string{"Status", "ID", "Extra"}, got.Data[0].Columns())
		v, ok := got.Data[1].Get("ID")
		assert.True(t, ok)
		assert.Equal(t, "2", v)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should report an unknown run", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectRunHeaders)).
			WithArgs("missing").
			WillReturnRows(pgxmock.NewRows([]string{"headers"}))

		_, err := s.GetRows(ctx, "missing")
		assert.ErrorIs(t, err, ErrRunNotFound)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPurgeBefore(t *testing.T) {
	s, mockPool := newMockStore(t, zap.NewNop())
	mockPool.ExpectExec("DELETE FROM extraction_runs").
		WithArgs(utcTime).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	n, err := s.PurgeBefore(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
