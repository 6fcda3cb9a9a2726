// internal/extraction/table.go
package extraction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/totemscrape/api/schemas"
	"github.com/xkilldash9x/totemscrape/internal/config"
)

// TableOptions configures a TableScraper.
type TableOptions struct {
	Selectors   config.SelectorConfig
	MaxPages    int
	PageTurn    time.Duration
	PageTimeout time.Duration
	QuietPeriod time.Duration
}

// TableScraper reads the results table page by page.
type TableScraper struct {
	page       Page
	interactor *Interactor
	logger     *zap.Logger
	opts       TableOptions
}

// NewTableScraper creates a scraper.
func NewTableScraper(page Page, interactor *Interactor, logger *zap.Logger, opts TableOptions) *TableScraper {
	if opts.MaxPages <= 0 {
		opts.MaxPages = 1
	}
	return &TableScraper{
		page:       page,
		interactor: interactor,
		logger:     logger.Named("table"),
		opts:       opts,
	}
}

type nextState int

const (
	nextAbsent nextState = iota
	nextDisabled
	nextEnabled
)

// Scrape returns the header, every non-blank row in page order, and the
// number of pages read. Pagination stops at the first page without an
// enabled next control, at MaxPages, or at the first failed transition; rows
// gathered up to that point are kept. An error is returned only when the
// first page cannot be read or ctx ends.
func (s *TableScraper) Scrape(ctx context.Context) (schemas.TableHeader, []schemas.TableRow, int, error) {
	header, err := s.readHeader(ctx)
	if err != nil {
		return nil, nil, 0, err
	}
	s.logger.Info("Table header read.", zap.Strings("columns", header))

	var (
		rows  []schemas.TableRow
		pages int
	)
	for {
		pageRows, err := s.readPage(ctx, header)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return header, rows, pages, ctxErr
			}
			if pages == 0 {
				return header, nil, 0, fmt.Errorf("read first table page: %w", err)
			}
			s.logger.Warn("Failed to read table page, keeping previous pages.", zap.Int("page", pages+1), zap.Error(err))
			break
		}
		pages++
		rows = append(rows, pageRows...)
		s.logger.Info("Table page read.", zap.Int("page", pages), zap.Int("rows", len(pageRows)), zap.Int("total_rows", len(rows)))

		if pages >= s.opts.MaxPages {
			s.logger.Warn("Page limit reached, stopping pagination.", zap.Int("max_pages", s.opts.MaxPages))
			break
		}

		selector, state, err := s.findNext(ctx)
		if err != nil {
			return header, rows, pages, err
		}
		if state == nextAbsent {
			s.logger.Debug("No next page control found.")
			break
		}
		if state == nextDisabled {
			s.logger.Debug("Next page control is disabled.", zap.String("selector", selector))
			break
		}

		if err := s.turnPage(ctx, selector); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return header, rows, pages, ctxErr
			}
			s.logger.Warn("Page transition failed, stopping pagination.", zap.Int("page", pages), zap.Error(err))
			break
		}
	}
	return header, rows, pages, nil
}

func (s *TableScraper) readHeader(ctx context.Context) (schemas.TableHeader, error) {
	var lastErr error
	read := false
	for _, sel := range s.opts.Selectors.Headers {
		labels, err := s.page.Texts(ctx, sel)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			lastErr = err
			continue
		}
		read = true
		if len(labels) == 0 {
			continue
		}
		header := make(schemas.TableHeader, len(labels))
		for i, l := range labels {
			header[i] = strings.TrimSpace(l)
		}
		return UniqueLabels(header), nil
	}
	if !read && lastErr != nil {
		return nil, fmt.Errorf("read table header: %w", lastErr)
	}
	// No header cells is not fatal; rows will be empty and dropped.
	s.logger.Warn("Table has no header cells.")
	return schemas.TableHeader{}, nil
}

// readPage returns the non-blank rows of the current page.
func (s *TableScraper) readPage(ctx context.Context, header schemas.TableHeader) ([]schemas.TableRow, error) {
	cellSels := s.opts.Selectors.Cells
	if len(cellSels) == 0 {
		return nil, errors.New("no cell selectors configured")
	}

	var (
		rowSel  string
		cells   [][]string
		lastErr error
		read    bool
	)
	for _, sel := range s.opts.Selectors.Rows {
		got, err := s.page.Cells(ctx, sel, cellSels[0])
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			lastErr = err
			continue
		}
		read = true
		if len(got) > 0 {
			rowSel, cells = sel, got
			break
		}
	}
	if !read && lastErr != nil {
		return nil, fmt.Errorf("read table rows: %w", lastErr)
	}

	// Rows with no primary cells are retried under the looser conventions.
	for _, alt := range cellSels[1:] {
		if !anyEmpty(cells) {
			break
		}
		retry, err := s.page.Cells(ctx, rowSel, alt)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			s.logger.Debug("Secondary cell selector failed.", zap.String("selector", alt), zap.Error(err))
			break
		}
		for i := range cells {
			if len(cells[i]) == 0 && i < len(retry) {
				cells[i] = retry[i]
			}
		}
	}

	rows := make([]schemas.TableRow, 0, len(cells))
	for _, c := range cells {
		if row := ZipRow(header, c); !IsBlank(row) {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

func anyEmpty(cells [][]string) bool {
	for _, c := range cells {
		if len(c) == 0 {
			return true
		}
	}
	return false
}

// UniqueLabels suffixes repeated column labels with their occurrence number
// ("Data", "Data_2") so every cell of a row keeps its own key. A suffix never
// reuses a label that already appears in the header.
func UniqueLabels(header schemas.TableHeader) schemas.TableHeader {
	literal := make(map[string]bool, len(header))
	for _, l := range header {
		literal[l] = true
	}
	used := make(map[string]bool, len(header))
	out := make(schemas.TableHeader, len(header))
	for i, l := range header {
		label := l
		for n := 2; used[label]; n++ {
			if c := fmt.Sprintf("%s_%d", l, n); !literal[c] && !used[c] {
				label = c
			}
		}
		used[label] = true
		out[i] = label
	}
	return out
}

// ZipRow pairs cells with header labels by position. Cells past the header
// are dropped and columns without a cell are absent.
func ZipRow(header schemas.TableHeader, cells []string) schemas.TableRow {
	n := len(header)
	if len(cells) < n {
		n = len(cells)
	}
	row := make(schemas.TableRow, 0, n)
	for i := 0; i < n; i++ {
		row = append(row, schemas.Cell{Column: header[i], Value: strings.TrimSpace(cells[i])})
	}
	return row
}

// IsBlank reports whether no cell of the row has text.
func IsBlank(row schemas.TableRow) bool {
	for _, c := range row {
		if strings.TrimSpace(c.Value) != "" {
			return false
		}
	}
	return true
}

func (s *TableScraper) findNext(ctx context.Context) (string, nextState, error) {
	for _, sel := range s.opts.Selectors.NextControls {
		state, err := s.page.Inspect(ctx, sel)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", nextAbsent, ctxErr
			}
			s.logger.Debug("Next control probe failed.", zap.String("selector", sel), zap.Error(err))
			continue
		}
		if !state.Found {
			continue
		}
		if IsDisabled(state) {
			return sel, nextDisabled, nil
		}
		return sel, nextEnabled, nil
	}
	return "", nextAbsent, nil
}

// IsDisabled reports whether a next control carries a disabled marker.
func IsDisabled(state schemas.ElementState) bool {
	class := strings.ToLower(state.ClassName)
	return strings.Contains(class, "disabled") ||
		strings.Contains(class, "inactive") ||
		state.Disabled ||
		strings.EqualFold(strings.TrimSpace(state.AriaDisabled), "true")
}

func (s *TableScraper) turnPage(ctx context.Context, selector string) error {
	out := s.interactor.Click(ctx, "next page", schemas.Query(selector))
	if !out.OK {
		return out.Err
	}
	if err := Pause(ctx, s.opts.PageTurn); err != nil {
		return err
	}

	waitCtx := ctx
	if s.opts.PageTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, s.opts.PageTimeout)
		defer cancel()
	}
	if err := s.page.WaitNetworkIdle(waitCtx, s.opts.QuietPeriod); err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("next page: %w", ErrSettleTimeout)
		}
		return err
	}
	return nil
}
