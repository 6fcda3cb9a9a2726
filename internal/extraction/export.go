// internal/extraction/export.go
package extraction

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/totemscrape/api/schemas"
	"github.com/xkilldash9x/totemscrape/internal/config"
)

// TimestampLayout names the artifacts of one run.
const TimestampLayout = "20060102_150405"

// FinalScreenshotName returns the name of the success screenshot of the run
// stamped ts.
func FinalScreenshotName(ts string) string {
	return fmt.Sprintf("final_state_%s.png", ts)
}

// artifactJSON writes rows indented by four spaces and leaves non ASCII text
// unescaped.
var artifactJSON = json.Config{
	IndentionStep: 4,
	EscapeHTML:    false,
}.Froze()

// Artifacts are the paths written after a successful scrape. An empty path
// means the artifact is disabled or could not be written.
type Artifacts struct {
	CSVFile         string
	JSONFile        string
	HTMLFile        string
	FinalScreenshot string
}

// Exporter writes run artifacts to the export directory.
type Exporter struct {
	cfg               config.ExportConfig
	tableSelector     string
	screenshotTimeout time.Duration
	logger            *zap.Logger
}

// NewExporter creates an exporter.
func NewExporter(cfg config.ExportConfig, tableSelector string, screenshotTimeout time.Duration, logger *zap.Logger) *Exporter {
	if tableSelector == "" {
		tableSelector = "table"
	}
	return &Exporter{
		cfg:               cfg,
		tableSelector:     tableSelector,
		screenshotTimeout: screenshotTimeout,
		logger:            logger.Named("export"),
	}
}

// Export captures the table markup and a final screenshot from page, then
// writes every enabled artifact. Failures are logged and leave the path
// empty; they never fail the run.
func (e *Exporter) Export(ctx context.Context, page Page, ts string, header schemas.TableHeader, rows []schemas.TableRow) Artifacts {
	dir, err := e.prepareDir()
	if err != nil {
		e.logger.Error("Export directory unavailable, skipping artifacts.", zap.Error(err))
		return Artifacts{}
	}

	// Page reads happen before the parallel writes so the page sees one
	// operation at a time.
	var markup string
	if e.cfg.HTML {
		if err := page.Evaluate(ctx, tableMarkupScript(e.tableSelector), &markup); err != nil {
			e.logger.Warn("Could not capture table markup.", zap.Error(err))
			markup = ""
		}
	}
	var shot []byte
	if e.cfg.Screenshots {
		if shot, err = e.capture(ctx, page); err != nil {
			e.logger.Warn("Could not capture final screenshot.", zap.Error(err))
			shot = nil
		}
	}

	var a Artifacts
	g := new(errgroup.Group)
	if e.cfg.CSV {
		path := filepath.Join(dir, fmt.Sprintf("table_data_%s.csv", ts))
		g.Go(func() error {
			if err := writeFile(path, func(w io.Writer) error { return WriteCSV(w, header, rows) }); err != nil {
				return fmt.Errorf("csv: %w", err)
			}
			a.CSVFile = path
			return nil
		})
	}
	if e.cfg.JSON {
		path := filepath.Join(dir, fmt.Sprintf("table_data_%s.json", ts))
		g.Go(func() error {
			if err := writeFile(path, func(w io.Writer) error { return WriteJSON(w, rows) }); err != nil {
				return fmt.Errorf("json: %w", err)
			}
			a.JSONFile = path
			return nil
		})
	}
	if markup != "" {
		path := filepath.Join(dir, fmt.Sprintf("table_html_%s.html", ts))
		g.Go(func() error {
			if err := os.WriteFile(path, []byte(markup), 0o644); err != nil {
				return fmt.Errorf("html: %w", err)
			}
			a.HTMLFile = path
			return nil
		})
	}
	if len(shot) > 0 {
		path := filepath.Join(dir, FinalScreenshotName(ts))
		g.Go(func() error {
			if err := os.WriteFile(path, shot, 0o644); err != nil {
				return fmt.Errorf("screenshot: %w", err)
			}
			a.FinalScreenshot = path
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		e.logger.Error("Failed to write an artifact.", zap.Error(err))
	}

	e.logger.Info("Artifacts exported.",
		zap.String("csv_file", a.CSVFile),
		zap.String("json_file", a.JSONFile),
		zap.String("html_file", a.HTMLFile),
		zap.String("final_screenshot", a.FinalScreenshot),
	)
	return a
}

// ErrorScreenshot saves error_state_<ts>.png. It is best effort; the caller
// only logs the error.
func (e *Exporter) ErrorScreenshot(ctx context.Context, page Page, ts string) (string, error) {
	if !e.cfg.Screenshots {
		return "", nil
	}
	dir, err := e.prepareDir()
	if err != nil {
		return "", err
	}
	shot, err := e.capture(ctx, page)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("error_state_%s.png", ts))
	if err := os.WriteFile(path, shot, 0o644); err != nil {
		return "", fmt.Errorf("write error screenshot: %w", err)
	}
	return path, nil
}

func (e *Exporter) capture(ctx context.Context, page Page) ([]byte, error) {
	if e.screenshotTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.screenshotTimeout)
		defer cancel()
	}
	return page.Screenshot(ctx)
}

func (e *Exporter) prepareDir() (string, error) {
	dir, err := e.cfg.ResolveDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create export directory %s: %w", dir, err)
	}
	return dir, nil
}

func writeFile(path string, write func(io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return write(f)
}

// WriteCSV writes the header row followed by one record per row. Columns a
// row lacks are written as empty fields.
func WriteCSV(w io.Writer, header schemas.TableHeader, rows []schemas.TableRow) error {
	columns := csvColumns(header, rows)
	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return err
	}
	record := make([]string, len(columns))
	for _, row := range rows {
		values := row.Map()
		for i, col := range columns {
			record[i] = values[col]
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// csvColumns uses the header, or the union of row columns in first seen
// order when the header is empty.
func csvColumns(header schemas.TableHeader, rows []schemas.TableRow) []string {
	if len(header) > 0 {
		return header
	}
	seen := make(map[string]bool)
	var cols []string
	for _, row := range rows {
		for _, c := range row {
			if !seen[c.Column] {
				seen[c.Column] = true
				cols = append(cols, c.Column)
			}
		}
	}
	return cols
}

// WriteJSON writes rows as an indented array of objects in column order.
func WriteJSON(w io.Writer, rows []schemas.TableRow) error {
	stream := artifactJSON.BorrowStream(w)
	defer artifactJSON.ReturnStream(stream)

	if len(rows) == 0 {
		stream.WriteEmptyArray()
	} else {
		stream.WriteArrayStart()
		for i, row := range rows {
			if i > 0 {
				stream.WriteMore()
			}
			if len(row) == 0 {
				stream.WriteEmptyObject()
				continue
			}
			stream.WriteObjectStart()
			for j, c := range row {
				if j > 0 {
					stream.WriteMore()
				}
				stream.WriteObjectField(c.Column)
				stream.WriteString(c.Value)
			}
			stream.WriteObjectEnd()
		}
		stream.WriteArrayEnd()
	}
	stream.WriteRaw("\n")
	if err := stream.Flush(); err != nil {
		return err
	}
	return stream.Error
}
