// internal/extraction/orchestrator.go
package extraction

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/totemscrape/api/schemas"
	"github.com/xkilldash9x/totemscrape/internal/browser"
	"github.com/xkilldash9x/totemscrape/internal/config"
)

const sessionCloseTimeout = 15 * time.Second

// Engine runs the whole extraction: login, totem view, filters, table, and
// artifacts. One Engine serves any number of sequential or concurrent runs;
// each run opens its own session.
type Engine struct {
	launcher Launcher
	cfg      config.ExtractionConfig
	exporter *Exporter
	logger   *zap.Logger
	now      func() time.Time
}

// NewEngine creates an engine. exporter may be nil to skip artifacts.
func NewEngine(launcher Launcher, cfg config.ExtractionConfig, exporter *Exporter, logger *zap.Logger) *Engine {
	return &Engine{
		launcher: launcher,
		cfg:      cfg,
		exporter: exporter,
		logger:   logger.Named("engine"),
		now:      time.Now,
	}
}

// WithLogger returns a copy of the engine that logs through logger.
func (e *Engine) WithLogger(logger *zap.Logger) *Engine {
	c := *e
	c.logger = logger.Named("engine")
	return &c
}

// Run performs one extraction and always returns a well formed result.
// filters nil skips the dropdowns entirely.
func (e *Engine) Run(ctx context.Context, creds schemas.Credentials, filters *schemas.FilterSelection, sc schemas.SessionConfig) (result schemas.ExtractionResult) {
	start := e.now()
	ts := start.Format(TimestampLayout)
	log := e.logger.With(zap.String("username", creds.Username))

	defer func() {
		if r := recover(); r != nil {
			log.Error("Recovered from panic during extraction.", zap.Any("panic", r), zap.String("stack", string(debug.Stack())))
			result = e.failure(start, fmt.Errorf("unexpected fault: %v", r), creds.Password, scraped{}, "")
		}
	}()

	runCtx := ctx
	if e.cfg.Timeouts.Run > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.cfg.Timeouts.Run)
		defer cancel()
	}

	log.Info("Starting extraction run.", zap.Bool("headless", sc.Headless), zap.Bool("filters", filters != nil))
	session, err := e.launcher.Launch(runCtx, sc)
	if err != nil {
		log.Error("Failed to launch browser session.", zap.Error(err))
		return e.failure(start, &StepError{Step: "launch browser", Err: err}, creds.Password, scraped{}, "")
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(browser.Detach(ctx), sessionCloseTimeout)
		defer cancel()
		if err := session.Close(closeCtx); err != nil {
			log.Warn("Browser session close reported an error.", zap.Error(err))
		}
	}()

	r := &run{engine: e, page: session, logger: log}
	out, err := r.execute(runCtx, creds, filters)
	if err != nil {
		log.Error("Extraction run failed.", zap.String("error", Redact(err.Error(), creds.Password)), zap.Int("partial_rows", len(out.rows)))
		shot := e.captureError(ctx, session, ts, log)
		return e.failure(start, err, creds.Password, out, shot)
	}

	result = schemas.ExtractionResult{
		Status:    schemas.StatusSuccess,
		Message:   successMessage(len(out.rows), out.filters),
		Data:      out.rows,
		Headers:   out.header,
		Filters:   out.filters,
		Pages:     out.pages,
		Timestamp: start,
	}
	if result.Data == nil {
		result.Data = []schemas.TableRow{}
	}
	if e.exporter != nil {
		a := e.exporter.Export(runCtx, session, ts, out.header, out.rows)
		result.CSVFile = a.CSVFile
		result.JSONFile = a.JSONFile
		result.HTMLFile = a.HTMLFile
		result.FinalScreenshot = a.FinalScreenshot
	}
	log.Info("Extraction run finished.", zap.Int("rows", len(result.Data)), zap.Int("pages", result.Pages), zap.Duration("elapsed", e.now().Sub(start)))
	return result
}

func successMessage(n int, filters []schemas.FilterOutcome) string {
	msg := fmt.Sprintf("Successfully scraped %d rows of data", n)
	if summary := SummarizeFilters(filters); summary != "" {
		msg += "; " + summary
	}
	return msg
}

// failure builds a failed result. Pages read before the fault stay in it.
func (e *Engine) failure(start time.Time, err error, secret string, partial scraped, screenshot string) schemas.ExtractionResult {
	msg := "An error occurred: " + err.Error()
	result := schemas.ExtractionResult{
		Status:          schemas.StatusFailed,
		Data:            []schemas.TableRow{},
		Filters:         partial.filters,
		Timestamp:       start,
		ErrorScreenshot: screenshot,
	}
	if partial.pages > 0 {
		result.Headers = partial.header
		result.Pages = partial.pages
		if partial.rows != nil {
			result.Data = partial.rows
		}
		msg += fmt.Sprintf(" (kept %d rows from %d pages)", len(partial.rows), partial.pages)
	}
	result.Message = Redact(msg, secret)
	return result
}

func (e *Engine) captureError(ctx context.Context, page Page, ts string, log *zap.Logger) string {
	if e.exporter == nil {
		return ""
	}
	// The run context may already be expired; the capture gets its own bound.
	path, err := e.exporter.ErrorScreenshot(browser.Detach(ctx), page, ts)
	if err != nil {
		log.Warn("Could not take error screenshot.", zap.Error(err))
		return ""
	}
	if path != "" {
		log.Info("Error screenshot saved.", zap.String("path", path))
	}
	return path
}

// run holds the state of one execution.
type run struct {
	engine *Engine
	page   Page
	logger *zap.Logger
}

type scraped struct {
	header  schemas.TableHeader
	rows    []schemas.TableRow
	pages   int
	filters []schemas.FilterOutcome
}

func (r *run) execute(ctx context.Context, creds schemas.Credentials, filters *schemas.FilterSelection) (out scraped, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("Recovered from panic in extraction step.", zap.Any("panic", p), zap.String("stack", string(debug.Stack())))
			err = fmt.Errorf("unexpected fault: %v", p)
		}
	}()

	cfg := r.engine.cfg
	sel := cfg.Selectors
	resolver := NewResolver(r.page, r.logger)
	interactor := NewInteractor(r.page, resolver, r.logger, cfg.Delays.PreAction, cfg.Timeouts.Action)

	if err := r.login(ctx, interactor, creds); err != nil {
		return out, err
	}
	if err := r.openTotemView(ctx, interactor, 0); err != nil {
		return out, err
	}

	if filters != nil {
		pipeline := NewFilterPipeline(interactor, r.logger, cfg.Delays.Dropdown)
		out.filters = pipeline.Apply(ctx, *filters)
		r.logger.Info("Filters processed.", zap.String("summary", SummarizeFilters(out.filters)))
	}
	if o := interactor.Click(ctx, "apply filters", schemas.Query(sel.ApplyFilters)); !o.OK {
		r.logger.Warn("Apply filters control not clicked, continuing.", zap.Error(o.Err))
	}
	if err := Pause(ctx, cfg.Delays.PostFilter); err != nil {
		return out, err
	}
	if err := r.settle(ctx, "settle after filters"); err != nil {
		return out, err
	}

	// Table.
	scraper := NewTableScraper(r.page, interactor, r.logger, TableOptions{
		Selectors:   sel,
		MaxPages:    cfg.MaxPages,
		PageTurn:    cfg.Delays.PageTurn,
		PageTimeout: cfg.Timeouts.Page,
		QuietPeriod: cfg.QuietPeriod,
	})
	out.header, out.rows, out.pages, err = scraper.Scrape(ctx)
	if err != nil {
		return out, &StepError{Step: "scrape table", Err: err}
	}
	return out, nil
}

// login fills the credential form and waits for the landing page.
func (r *run) login(ctx context.Context, interactor *Interactor, creds schemas.Credentials) error {
	cfg := r.engine.cfg
	sel := cfg.Selectors
	if err := r.navigate(ctx, "navigate to login", cfg.LoginURL); err != nil {
		return err
	}
	if err := r.bounded(ctx, cfg.Timeouts.Credential, func(ctx context.Context) error {
		return r.page.WaitReady(ctx, sel.Username)
	}); err != nil {
		return &StepError{Step: "wait for credential input", Err: err}
	}
	if o := interactor.Fill(ctx, "username", creds.Username, schemas.Query(sel.Username)); !o.OK {
		return &StepError{Step: "fill username", Err: o.Err}
	}
	if o := interactor.Fill(ctx, "password", creds.Password, schemas.Query(sel.Password)); !o.OK {
		return &StepError{Step: "fill password", Err: o.Err}
	}
	if o := interactor.Click(ctx, "submit", schemas.Query(sel.Submit)); !o.OK {
		return &StepError{Step: "submit login", Err: o.Err}
	}
	if err := r.settle(ctx, "settle after login"); err != nil {
		return err
	}
	if err := Pause(ctx, cfg.Delays.PostLogin); err != nil {
		return err
	}
	r.logger.Info("Logged in.")
	return nil
}

// openTotemView loads the queue page and dismisses the counter setup modal
// after waiting hold.
func (r *run) openTotemView(ctx context.Context, interactor *Interactor, hold time.Duration) error {
	cfg := r.engine.cfg
	sel := cfg.Selectors
	if err := r.navigate(ctx, "navigate to totem view", cfg.TotemURL); err != nil {
		return err
	}
	if err := r.settle(ctx, "settle totem view"); err != nil {
		return err
	}
	if err := Pause(ctx, hold); err != nil {
		return err
	}
	if o := interactor.Click(ctx, "setup modal", schemas.Query(sel.ModalConfirm)); !o.OK {
		r.logger.Warn("Setup modal not dismissed, continuing.", zap.Error(o.Err))
	}
	if err := Pause(ctx, cfg.Delays.Modal); err != nil {
		return err
	}
	return nil
}

func (r *run) navigate(ctx context.Context, step, url string) error {
	err := r.bounded(ctx, r.engine.cfg.Timeouts.Navigation, func(ctx context.Context) error {
		return r.page.Navigate(ctx, url)
	})
	if err == nil {
		return nil
	}
	if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %s", ErrNavigationTimeout, url)
	}
	return &StepError{Step: step, Err: err}
}

func (r *run) settle(ctx context.Context, step string) error {
	err := r.bounded(ctx, r.engine.cfg.Timeouts.Settle, func(ctx context.Context) error {
		return r.page.WaitNetworkIdle(ctx, r.engine.cfg.QuietPeriod)
	})
	if err == nil {
		return nil
	}
	if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		err = ErrSettleTimeout
	}
	return &StepError{Step: step, Err: err}
}

// bounded runs fn under a child deadline of d; d <= 0 leaves only ctx.
func (r *run) bounded(ctx context.Context, d time.Duration, fn func(context.Context) error) error {
	if d <= 0 {
		return fn(ctx)
	}
	cctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return fn(cctx)
}

// Redact removes a secret from a message before it leaves the engine.
func Redact(msg, secret string) string {
	if secret == "" {
		return msg
	}
	return strings.ReplaceAll(msg, secret, "****")
}
