// internal/extraction/filters.go
package extraction

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/totemscrape/api/schemas"
)

// textSource says which text, if any, constrains a widget candidate.
type textSource int

const (
	noText textSource = iota
	labelText
	sentinelText
)

// widgetQuery is one candidate of a widget definition.
type widgetQuery struct {
	Selector string
	Text     textSource
}

// Widget describes how to open one dropdown and pick an entry from it.
type Widget struct {
	Filter  schemas.FilterKey
	Toggle  []widgetQuery
	Options []widgetQuery
}

// Widgets is the dropdown table of the totem view, in application order.
var Widgets = []Widget{
	{
		Filter:  schemas.FilterGroup,
		Toggle:  []widgetQuery{{Selector: "#slGrupoTotem_chosen"}, {Selector: "#slGrupoTotem_chosen a"}},
		Options: []widgetQuery{{Selector: "#slGrupoTotem_chosen li", Text: labelText}},
	},
	{
		Filter:  schemas.FilterCounter,
		Toggle:  []widgetQuery{{Selector: "#guiche_chosen a"}, {Selector: "#guiche_chosen"}},
		Options: []widgetQuery{{Selector: "#guiche_chosen li", Text: labelText}},
	},
	labelledWidget(schemas.FilterType),
	labelledWidget(schemas.FilterPriority),
	labelledWidget(schemas.FilterModality),
}

// labelledWidget is a dropdown with no stable id. Its toggle shows the
// current choice, which is the sentinel until something is picked.
func labelledWidget(key schemas.FilterKey) Widget {
	return Widget{
		Filter: key,
		Toggle: []widgetQuery{
			{Selector: "a", Text: labelText},
			{Selector: ".chosen-container a", Text: labelText},
			{Selector: ".chosen-container a", Text: sentinelText},
		},
		Options: []widgetQuery{{Selector: "li", Text: labelText}},
	}
}

func (w Widget) queries(src []widgetQuery, label string) []schemas.ElementQuery {
	out := make([]schemas.ElementQuery, 0, len(src))
	seen := make(map[schemas.ElementQuery]bool, len(src))
	for _, wq := range src {
		q := schemas.Query(wq.Selector)
		switch wq.Text {
		case labelText:
			q.Text = label
		case sentinelText:
			q.Text = schemas.DefaultFilterLabel(w.Filter)
		}
		if !seen[q] {
			seen[q] = true
			out = append(out, q)
		}
	}
	return out
}

// FilterPipeline applies the five dropdown selections independently.
type FilterPipeline struct {
	interactor *Interactor
	widgets    []Widget
	logger     *zap.Logger
	dropdown   time.Duration
}

// NewFilterPipeline creates a pipeline over the default widget table.
// dropdown is the pause between opening a dropdown and picking an entry.
func NewFilterPipeline(interactor *Interactor, logger *zap.Logger, dropdown time.Duration) *FilterPipeline {
	return &FilterPipeline{
		interactor: interactor,
		widgets:    Widgets,
		logger:     logger.Named("filters"),
		dropdown:   dropdown,
	}
}

// Apply opens every dropdown in order and picks its label. A failing step
// never stops the later ones. One outcome per widget is returned.
func (p *FilterPipeline) Apply(ctx context.Context, selection schemas.FilterSelection) []schemas.FilterOutcome {
	selection = selection.WithDefaults()
	outcomes := make([]schemas.FilterOutcome, 0, len(p.widgets))

	for _, w := range p.widgets {
		label := selection.Label(w.Filter)
		outcome := schemas.FilterOutcome{Filter: w.Filter, Label: label}
		log := p.logger.With(zap.String("filter", string(w.Filter)), zap.String("label", label))

		if err := ctx.Err(); err != nil {
			outcome.Error = err.Error()
			outcomes = append(outcomes, outcome)
			continue
		}

		toggle := p.interactor.Click(ctx, string(w.Filter)+" dropdown", w.queries(w.Toggle, label)...)
		if !toggle.OK {
			outcome.Error = toggle.Err.Error()
			log.Warn("Could not open dropdown.", zap.Error(toggle.Err))
			outcomes = append(outcomes, outcome)
			continue
		}
		outcome.Opened = true

		if err := Pause(ctx, p.dropdown); err != nil {
			outcome.Error = err.Error()
			outcomes = append(outcomes, outcome)
			continue
		}

		option := p.interactor.Click(ctx, label+" option", w.queries(w.Options, label)...)
		if !option.OK {
			outcome.Error = option.Err.Error()
			log.Warn("Could not select dropdown option.", zap.Error(option.Err))
			outcomes = append(outcomes, outcome)
			continue
		}
		outcome.Selected = true
		log.Info("Filter applied.", zap.Bool("fallback", option.Fallback))
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

// SummarizeFilters renders the outcomes for the result message. It returns
// "" when there is nothing to report.
func SummarizeFilters(outcomes []schemas.FilterOutcome) string {
	if len(outcomes) == 0 {
		return ""
	}
	var failed []string
	for _, o := range outcomes {
		if !o.OK() {
			failed = append(failed, string(o.Filter))
		}
	}
	applied := len(outcomes) - len(failed)
	if len(failed) == 0 {
		return fmt.Sprintf("filters applied: %d/%d", applied, len(outcomes))
	}
	return fmt.Sprintf("filters applied: %d/%d (failed: %s)", applied, len(outcomes), strings.Join(failed, ", "))
}
