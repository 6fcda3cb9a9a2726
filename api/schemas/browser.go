package schemas

import "fmt"

// -- Browser Schemas --

// ElementQuery locates an element by CSS selector, optionally constrained to
// elements whose visible text matches Text.
type ElementQuery struct {
	Selector string `json:"selector"`
	Text     string `json:"text,omitempty"`
	// FoldText relaxes the text match to trimmed, case-insensitive,
	// Unicode-normalized equality.
	FoldText bool `json:"fold_text,omitempty"`
}

// Query builds a selector-only query.
func Query(selector string) ElementQuery {
	return ElementQuery{Selector: selector}
}

// TextQuery builds a query constrained by visible text.
func TextQuery(selector, text string) ElementQuery {
	return ElementQuery{Selector: selector, Text: text}
}

// Folded returns a copy with relaxed text matching. Queries without a text
// constraint are returned unchanged.
func (q ElementQuery) Folded() ElementQuery {
	if q.Text != "" {
		q.FoldText = true
	}
	return q
}

func (q ElementQuery) String() string {
	if q.Text == "" {
		return q.Selector
	}
	mode := "exact"
	if q.FoldText {
		mode = "folded"
	}
	return fmt.Sprintf("%s[text=%q,%s]", q.Selector, q.Text, mode)
}

// ElementHandle addresses a node that was found visible by a query. Selector
// matches exactly that node for as long as it stays attached.
type ElementHandle struct {
	Selector string       `json:"selector"`
	Query    ElementQuery `json:"query"`
}

// ElementState is a static snapshot of the first node matching a selector.
type ElementState struct {
	Found        bool   `json:"found"`
	Visible      bool   `json:"visible"`
	ClassName    string `json:"className"`
	Disabled     bool   `json:"disabled"`
	AriaDisabled string `json:"ariaDisabled"`
}
