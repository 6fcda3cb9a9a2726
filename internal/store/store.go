package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/totemscrape/api/schemas"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS extraction_runs (
    run_id      UUID PRIMARY KEY,
    task_id     TEXT NOT NULL DEFAULT '',
    username    TEXT NOT NULL,
    status      TEXT NOT NULL,
    message     TEXT NOT NULL,
    headers     JSONB NOT NULL DEFAULT '[]',
    filters     JSONB NOT NULL DEFAULT '[]',
    pages       INTEGER NOT NULL DEFAULT 0,
    row_count   INTEGER NOT NULL DEFAULT 0,
    scraped_at  TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS extraction_rows (
    run_id      UUID NOT NULL REFERENCES extraction_runs (run_id) ON DELETE CASCADE,
    row_index   INTEGER NOT NULL,
    data        JSON NOT NULL,
    PRIMARY KEY (run_id, row_index)
);
`

const sqlInsertRun = `
        INSERT INTO extraction_runs (run_id, task_id, username, status, message, headers, filters, pages, row_count, scraped_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);
    `

const sqlSelectRunHeaders = `
        SELECT headers
        FROM extraction_runs
        WHERE run_id = $1;
    `

const sqlSelectRows = `
        SELECT data
        FROM extraction_rows
        WHERE run_id = $1
        ORDER BY row_index ASC;
    `

var rowColumns = []string{"run_id", "row_index", "data"}

// ErrRunNotFound is returned when no archived run has the requested id.
var ErrRunNotFound = errors.New("archived run not found")

// ArchivedRows is the table of one archived run.
type ArchivedRows struct {
	RunID   string              `json:"run_id"`
	Headers schemas.TableHeader `json:"headers"`
	Data    []schemas.TableRow  `json:"data"`
}

// RunRecord is one finished extraction to archive. It carries the username
// of the run but never its password.
type RunRecord struct {
	RunID    string
	TaskID   string
	Username string
	Result   schemas.ExtractionResult
}

// Store archives extraction results in PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// EnsureSchema creates the archive tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create archive schema: %w", err)
	}
	return nil
}

// PersistResult writes the run and its rows in one transaction. Rows are
// loaded with COPY in result order.
func (s *Store) PersistResult(ctx context.Context, rec RunRecord) error {
	headers, err := json.MarshalToString(nonNilHeader(rec.Result.Headers))
	if err != nil {
		return fmt.Errorf("failed to encode headers: %w", err)
	}
	filters, err := json.MarshalToString(nonNilFilters(rec.Result.Filters))
	if err != nil {
		return fmt.Errorf("failed to encode filters: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	res := rec.Result
	if _, err := tx.Exec(ctx, sqlInsertRun,
		rec.RunID, rec.TaskID, rec.Username,
		string(res.Status), res.Message,
		headers, filters,
		res.Pages, len(res.Data),
		res.Timestamp.UTC(),
	); err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	if len(res.Data) > 0 {
		if err := s.persistRows(ctx, tx, rec.RunID, res.Data); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Debug("Run archived.", zap.String("run_id", rec.RunID), zap.Int("rows", len(res.Data)))
	return nil
}

func (s *Store) persistRows(ctx context.Context, tx pgx.Tx, runID string, data []schemas.TableRow) error {
	rows := make([][]interface{}, len(data))
	for i, r := range data {
		encoded, err := r.MarshalJSON()
		if err != nil {
			return fmt.Errorf("failed to encode row %d: %w", i, err)
		}
		rows[i] = []interface{}{runID, i, string(encoded)}
	}

	copyCount, err := tx.CopyFrom(ctx, pgx.Identifier{"extraction_rows"}, rowColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy rows: %w", err)
	}
	if int(copyCount) != len(data) {
		return fmt.Errorf("mismatch in copied rows count: expected %d, got %d", len(data), copyCount)
	}
	return nil
}

// GetRows returns the archived rows of a run in their original order. Cells
// are laid out in the run's header order whatever order the database hands
// the keys back in.
func (s *Store) GetRows(ctx context.Context, runID string) (ArchivedRows, error) {
	header, err := s.runHeaders(ctx, runID)
	if err != nil {
		return ArchivedRows{}, err
	}

	rows, err := s.pool.Query(ctx, sqlSelectRows, runID)
	if err != nil {
		return ArchivedRows{}, fmt.Errorf("failed to query rows: %w", err)
	}
	defer rows.Close()

	out := ArchivedRows{RunID: runID, Headers: header, Data: []schemas.TableRow{}}
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return ArchivedRows{}, fmt.Errorf("failed to scan row: %w", err)
		}
		var r schemas.TableRow
		if err := r.UnmarshalJSON(data); err != nil {
			return ArchivedRows{}, fmt.Errorf("failed to decode row: %w", err)
		}
		out.Data = append(out.Data, inHeaderOrder(r, header))
	}
	if err := rows.Err(); err != nil {
		return ArchivedRows{}, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}

func (s *Store) runHeaders(ctx context.Context, runID string) (schemas.TableHeader, error) {
	rows, err := s.pool.Query(ctx, sqlSelectRunHeaders, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to query run: %w", err)
		}
		return nil, ErrRunNotFound
	}
	var raw []byte
	if err := rows.Scan(&raw); err != nil {
		return nil, fmt.Errorf("failed to scan run headers: %w", err)
	}
	header := schemas.TableHeader{}
	if err := json.Unmarshal(raw, &header); err != nil {
		return nil, fmt.Errorf("failed to decode run headers: %w", err)
	}
	return header, nil
}

// inHeaderOrder sorts cells by header position. Columns missing from the
// header keep their relative order at the end.
func inHeaderOrder(r schemas.TableRow, header schemas.TableHeader) schemas.TableRow {
	if len(header) == 0 {
		return r
	}
	out := make(schemas.TableRow, 0, len(r))
	used := make([]bool, len(r))
	for _, col := range header {
		for i, c := range r {
			if !used[i] && c.Column == col {
				out = append(out, c)
				used[i] = true
				break
			}
		}
	}
	for i, c := range r {
		if !used[i] {
			out = append(out, c)
		}
	}
	return out
}

// PurgeBefore deletes runs scraped before cutoff. Rows go with them.
func (s *Store) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM extraction_runs WHERE scraped_at < $1;`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge runs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func nonNilHeader(h schemas.TableHeader) schemas.TableHeader {
	if h == nil {
		return schemas.TableHeader{}
	}
	return h
}

func nonNilFilters(f []schemas.FilterOutcome) []schemas.FilterOutcome {
	if f == nil {
		return []schemas.FilterOutcome{}
	}
	return f
}
