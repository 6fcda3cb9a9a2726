// internal/extraction/inspect.go
package extraction

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/totemscrape/api/schemas"
	"github.com/xkilldash9x/totemscrape/internal/browser"
)

// Probe groups.
const (
	ProbeFilter = "filter"
	ProbeNext   = "next"
	ProbeHeader = "header"
	ProbeRow    = "row"
)

// Probe is what one selector candidate matched on the live page.
type Probe struct {
	Group    string `json:"group"`
	Name     string `json:"name"`
	Query    string `json:"query"`
	Found    bool   `json:"found"`
	Disabled bool   `json:"disabled,omitempty"`
	Count    int    `json:"count,omitempty"`
	Error    string `json:"error,omitempty"`
}

// InspectReport lists every probed selector convention of the totem view.
type InspectReport struct {
	Probes       []Probe `json:"probes"`
	NextSelector string  `json:"next_selector,omitempty"`
	Pagination   string  `json:"pagination"`
}

// Matched returns the probes of group that found something.
func (r InspectReport) Matched(group string) []Probe {
	var out []Probe
	for _, p := range r.Probes {
		if p.Group == group && p.Found {
			out = append(out, p)
		}
	}
	return out
}

func (s nextState) String() string {
	switch s {
	case nextEnabled:
		return "enabled"
	case nextDisabled:
		return "disabled"
	}
	return "absent"
}

// Inspect logs in, opens the totem view, and probes every configured selector
// against the live page. hold, when not nil, runs with the session still open
// so the caller can look at the browser before it is torn down.
func (e *Engine) Inspect(ctx context.Context, creds schemas.Credentials, sc schemas.SessionConfig, hold func(context.Context) error) (report InspectReport, err error) {
	log := e.logger.Named("inspect").With(zap.String("username", creds.Username))

	session, err := e.launcher.Launch(ctx, sc)
	if err != nil {
		return report, &StepError{Step: "launch browser", Err: err}
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(browser.Detach(ctx), sessionCloseTimeout)
		defer cancel()
		if cerr := session.Close(closeCtx); cerr != nil {
			log.Warn("Browser session close reported an error.", zap.Error(cerr))
		}
	}()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("unexpected fault: %v", p)
		}
	}()

	r := &run{engine: e, page: session, logger: log}
	interactor := NewInteractor(session, NewResolver(session, log), log, e.cfg.Delays.PreAction, e.cfg.Timeouts.Action)
	if err := r.login(ctx, interactor, creds); err != nil {
		return report, errors.New(Redact(err.Error(), creds.Password))
	}
	if err := r.openTotemView(ctx, interactor, e.cfg.Delays.Inspect); err != nil {
		return report, err
	}

	report = e.probe(ctx, session, interactor, log)
	if hold != nil {
		if err := hold(ctx); err != nil {
			return report, err
		}
	}
	return report, nil
}

func (e *Engine) probe(ctx context.Context, page Page, interactor *Interactor, log *zap.Logger) InspectReport {
	var report InspectReport
	add := func(p Probe, err error) {
		if err != nil {
			p.Error = err.Error()
		}
		log.Info("Selector probed.",
			zap.String("group", p.Group),
			zap.String("name", p.Name),
			zap.String("query", p.Query),
			zap.Bool("found", p.Found),
			zap.Int("count", p.Count),
		)
		report.Probes = append(report.Probes, p)
	}

	for _, w := range Widgets {
		for _, q := range w.queries(w.Toggle, schemas.DefaultFilterLabel(w.Filter)) {
			_, found, err := page.Locate(ctx, q)
			add(Probe{Group: ProbeFilter, Name: string(w.Filter), Query: q.String(), Found: found}, err)
		}
	}

	sel := e.cfg.Selectors
	for _, s := range sel.NextControls {
		state, err := page.Inspect(ctx, s)
		add(Probe{Group: ProbeNext, Name: "next page", Query: s, Found: state.Found, Disabled: IsDisabled(state)}, err)
	}
	for _, s := range sel.Headers {
		texts, err := page.Texts(ctx, s)
		add(Probe{Group: ProbeHeader, Name: "header cells", Query: s, Found: len(texts) > 0, Count: len(texts)}, err)
	}
	for _, s := range sel.Rows {
		rows, err := page.Cells(ctx, s, sel.Cells[0])
		add(Probe{Group: ProbeRow, Name: "rows", Query: s, Found: len(rows) > 0, Count: len(rows)}, err)
	}

	scraper := NewTableScraper(page, interactor, log, TableOptions{Selectors: sel})
	next, state, err := scraper.findNext(ctx)
	if err != nil {
		log.Warn("Pagination state unknown.", zap.Error(err))
	}
	report.NextSelector = next
	report.Pagination = state.String()
	log.Info("Pagination state.", zap.String("next_selector", next), zap.String("state", report.Pagination))
	return report
}
