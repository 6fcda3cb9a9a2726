// internal/extraction/fake_page_test.go
package extraction

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/xkilldash9x/totemscrape/api/schemas"
	"github.com/xkilldash9x/totemscrape/internal/config"
)

// fakeNode is a node the fake page can locate.
type fakeNode struct {
	text    string
	visible bool
}

// fakeTablePage is what the table looks like on one page.
type fakeTablePage struct {
	// texts maps a header selector to its cells.
	texts map[string][]string
	// cells maps "rowSel|cellSel" to the cell texts per row.
	cells map[string][][]string
	// next maps a next control selector to its state.
	next map[string]schemas.ElementState
}

// fakePage is a scripted Page. It models only what the engine reads.
type fakePage struct {
	mu sync.Mutex

	nodes     map[string][]fakeNode
	clickErr  map[string]error
	fillErr   map[string]error
	readyErr  map[string]error
	navErr    map[string]error
	idleErr   error
	locateErr map[string]error

	tables       []fakeTablePage
	current      int
	nextSelector string
	readErrPage  int // 1-based page whose Cells call fails; 0 disables

	fallbackOK bool
	markup     string
	shotErr    error
	onClick    func(q schemas.ElementQuery)

	calls  []string
	fills  map[string]string
	closed bool
}

func newFakePage() *fakePage {
	return &fakePage{
		nodes:     make(map[string][]fakeNode),
		clickErr:  make(map[string]error),
		fillErr:   make(map[string]error),
		readyErr:  make(map[string]error),
		navErr:    make(map[string]error),
		locateErr: make(map[string]error),
		fills:     make(map[string]string),
		markup:    "<table><tr><th>ID</th></tr></table>",
	}
}

func (p *fakePage) addNode(selector, text string) {
	p.nodes[selector] = append(p.nodes[selector], fakeNode{text: text, visible: true})
}

func (p *fakePage) record(format string, args ...interface{}) {
	p.calls = append(p.calls, fmt.Sprintf(format, args...))
}

func (p *fakePage) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *fakePage) called(prefix string) int {
	n := 0
	for _, c := range p.Calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func foldForTest(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("navigate:%s", url)
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.navErr[url]
}

func (p *fakePage) WaitReady(ctx context.Context, selector string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("ready:%s", selector)
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.readyErr[selector]
}

func (p *fakePage) Locate(ctx context.Context, q schemas.ElementQuery) (schemas.ElementHandle, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return schemas.ElementHandle{}, false, err
	}
	if err := p.locateErr[q.Selector]; err != nil {
		return schemas.ElementHandle{}, false, err
	}

	nodes := p.nodes[q.Selector]
	if p.current < len(p.tables) {
		if st, ok := p.tables[p.current].next[q.Selector]; ok && st.Found && st.Visible {
			nodes = append(nodes, fakeNode{visible: true})
		}
	}
	for _, n := range nodes {
		if !n.visible {
			continue
		}
		switch {
		case q.Text == "":
		case q.FoldText && foldForTest(n.text) == foldForTest(q.Text):
		case !q.FoldText && strings.TrimSpace(n.text) == q.Text:
		default:
			continue
		}
		return schemas.ElementHandle{Selector: q.Selector, Query: q}, true, nil
	}
	return schemas.ElementHandle{}, false, nil
}

func (p *fakePage) Inspect(ctx context.Context, selector string) (schemas.ElementState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return schemas.ElementState{}, err
	}
	if p.current < len(p.tables) {
		return p.tables[p.current].next[selector], nil
	}
	return schemas.ElementState{}, nil
}

func (p *fakePage) ScrollIntoView(ctx context.Context, h schemas.ElementHandle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("scroll:%s", h.Query)
	return ctx.Err()
}

func (p *fakePage) Click(ctx context.Context, h schemas.ElementHandle) error {
	p.mu.Lock()
	p.record("click:%s", h.Query)
	if err := ctx.Err(); err != nil {
		p.mu.Unlock()
		return err
	}
	if err := p.clickErr[h.Query.Selector]; err != nil {
		p.mu.Unlock()
		return err
	}
	if h.Query.Selector == p.nextSelector && p.nextSelector != "" {
		p.current++
	}
	onClick := p.onClick
	p.mu.Unlock()
	if onClick != nil {
		onClick(h.Query)
	}
	return nil
}

func (p *fakePage) Fill(ctx context.Context, h schemas.ElementHandle, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("fill:%s", h.Query)
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.fillErr[h.Query.Selector]; err != nil {
		return err
	}
	p.fills[h.Query.Selector] = value
	return nil
}

func (p *fakePage) Texts(ctx context.Context, selector string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.current < len(p.tables) {
		return p.tables[p.current].texts[selector], nil
	}
	return nil, nil
}

func (p *fakePage) Cells(ctx context.Context, rowSelector, cellSelector string) ([][]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.readErrPage != 0 && p.current+1 == p.readErrPage {
		return nil, fmt.Errorf("execution context was destroyed")
	}
	if p.current >= len(p.tables) {
		return nil, nil
	}
	src := p.tables[p.current].cells[rowSelector+"|"+cellSelector]
	// Callers may mutate the result.
	out := make([][]string, len(src))
	for i, r := range src {
		out[i] = append([]string(nil), r...)
	}
	return out, nil
}

func (p *fakePage) Evaluate(ctx context.Context, script string, res interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	switch {
	case strings.Contains(script, "__pick"):
		p.record("fallback")
		if b, ok := res.(*bool); ok {
			*b = p.fallbackOK
		}
	case strings.Contains(script, "outerHTML"):
		p.record("markup")
		if s, ok := res.(*string); ok {
			*s = p.markup
		}
	default:
		return fmt.Errorf("unexpected script")
	}
	return nil
}

func (p *fakePage) Screenshot(ctx context.Context) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("screenshot")
	if p.shotErr != nil {
		return nil, p.shotErr
	}
	return []byte("\x89PNG\r\n\x1a\n"), nil
}

func (p *fakePage) WaitNetworkIdle(ctx context.Context, quietPeriod time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("idle")
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.idleErr
}

func (p *fakePage) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.record("close")
	return nil
}

func (p *fakePage) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// testExtractionConfig is the default config with every pause removed.
func testExtractionConfig() config.ExtractionConfig {
	cfg := config.NewDefaultConfig().Extraction()
	cfg.QuietPeriod = 0
	cfg.Delays = config.DelayConfig{}
	cfg.Timeouts.Run = 5 * time.Second
	cfg.Timeouts.Navigation = time.Second
	cfg.Timeouts.Credential = time.Second
	cfg.Timeouts.Settle = time.Second
	cfg.Timeouts.Page = time.Second
	cfg.Timeouts.Action = time.Second
	return cfg
}

const (
	primaryHeaders = "table thead th"
	primaryRows    = "table tbody tr"
	dataTablesNext = "#dataTableAtendimentosTotem_next"
)

// tablePage builds a page whose rows answer the primary selectors and whose
// paginator is the data table's next button.
func tablePage(header []string, rows [][]string, next schemas.ElementState) fakeTablePage {
	return fakeTablePage{
		texts: map[string][]string{primaryHeaders: header},
		cells: map[string][][]string{primaryRows + "|td": rows},
		next:  map[string]schemas.ElementState{dataTablesNext: next},
	}
}

var (
	enabledNext  = schemas.ElementState{Found: true, Visible: true, ClassName: "paginate_button next"}
	disabledNext = schemas.ElementState{Found: true, Visible: true, ClassName: "paginate_button next disabled"}
)
