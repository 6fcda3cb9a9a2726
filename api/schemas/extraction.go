package schemas

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// -- Filter Schemas --

// FilterKey names one of the five dependent dropdowns on the totem view.
type FilterKey string

const (
	FilterGroup    FilterKey = "grupo_totem"
	FilterCounter  FilterKey = "guiche"
	FilterType     FilterKey = "tipo"
	FilterPriority FilterKey = "prioridade"
	FilterModality FilterKey = "modalidade"
)

// FilterOrder is the order the dropdowns must be applied in. Later widgets
// are narrowed by the state of earlier ones.
var FilterOrder = []FilterKey{FilterGroup, FilterCounter, FilterType, FilterPriority, FilterModality}

// defaultFilterLabels are the "not selected" sentinels the UI renders.
var defaultFilterLabels = map[FilterKey]string{
	FilterGroup:    "Selecione um grupo totem",
	FilterCounter:  "Selecione um guichê",
	FilterType:     "Selecione um tipo",
	FilterPriority: "Selecione uma prioridade",
	FilterModality: "Selecione uma modalidade",
}

// DefaultFilterLabel returns the sentinel label for a filter.
func DefaultFilterLabel(key FilterKey) string {
	return defaultFilterLabels[key]
}

// FilterSelection maps each dropdown to the option label to pick.
type FilterSelection struct {
	Group    string `json:"grupo_totem,omitempty"`
	Counter  string `json:"guiche,omitempty"`
	Type     string `json:"tipo,omitempty"`
	Priority string `json:"prioridade,omitempty"`
	Modality string `json:"modalidade,omitempty"`
}

// DefaultFilterSelection selects the sentinel label on every dropdown.
func DefaultFilterSelection() FilterSelection {
	return FilterSelection{}.WithDefaults()
}

// WithDefaults returns a copy with unset labels replaced by their sentinels.
func (f FilterSelection) WithDefaults() FilterSelection {
	fill := func(v string, key FilterKey) string {
		if strings.TrimSpace(v) == "" {
			return defaultFilterLabels[key]
		}
		return v
	}
	f.Group = fill(f.Group, FilterGroup)
	f.Counter = fill(f.Counter, FilterCounter)
	f.Type = fill(f.Type, FilterType)
	f.Priority = fill(f.Priority, FilterPriority)
	f.Modality = fill(f.Modality, FilterModality)
	return f
}

// Label returns the configured label for a filter key.
func (f FilterSelection) Label(key FilterKey) string {
	switch key {
	case FilterGroup:
		return f.Group
	case FilterCounter:
		return f.Counter
	case FilterType:
		return f.Type
	case FilterPriority:
		return f.Priority
	case FilterModality:
		return f.Modality
	}
	return ""
}

// IsDefault reports whether the label for key is the sentinel.
func (f FilterSelection) IsDefault(key FilterKey) bool {
	return f.Label(key) == defaultFilterLabels[key]
}

// FilterOutcome records what happened to one dropdown.
type FilterOutcome struct {
	Filter   FilterKey `json:"filter"`
	Label    string    `json:"label"`
	Opened   bool      `json:"opened"`
	Selected bool      `json:"selected"`
	Error    string    `json:"error,omitempty"`
}

// OK is true when the option was chosen.
func (o FilterOutcome) OK() bool { return o.Selected }

// -- Table Schemas --

// TableHeader is the ordered list of column labels.
type TableHeader []string

// Cell is one column/value pair of a row.
type Cell struct {
	Column string
	Value  string
}

// TableRow maps column labels to cell text. It is an ordered list of cells so
// that serialization follows header order.
type TableRow []Cell

// Get returns the value of a column.
func (r TableRow) Get(column string) (string, bool) {
	for _, c := range r {
		if c.Column == column {
			return c.Value, true
		}
	}
	return "", false
}

// Columns returns the populated column labels in order.
func (r TableRow) Columns() []string {
	cols := make([]string, len(r))
	for i, c := range r {
		cols[i] = c.Column
	}
	return cols
}

// Map flattens the row into a plain map.
func (r TableRow) Map() map[string]string {
	m := make(map[string]string, len(r))
	for _, c := range r {
		m[c.Column] = c.Value
	}
	return m
}

// MarshalJSON writes the row as a JSON object preserving column order.
func (r TableRow) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(c.Column)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(c.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object keeping the key order of the document.
func (r *TableRow) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("table row must be a JSON object, got %v", tok)
	}
	row := TableRow{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("unexpected key token %v", keyTok)
		}
		var value string
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("column %q: %w", key, err)
		}
		row = append(row, Cell{Column: key, Value: value})
	}
	*r = row
	return nil
}

// -- Result Schemas --

// ExtractionStatus is the terminal state of a run.
type ExtractionStatus string

const (
	StatusSuccess ExtractionStatus = "success"
	StatusFailed  ExtractionStatus = "failed"
	// StatusTimeout is only produced by the polling client.
	StatusTimeout ExtractionStatus = "timeout"
)

// ExtractionResult is the single value a run hands back to its caller.
type ExtractionResult struct {
	Status          ExtractionStatus `json:"status"`
	Message         string           `json:"message"`
	Data            []TableRow       `json:"data"`
	Headers         TableHeader      `json:"headers,omitempty"`
	Filters         []FilterOutcome  `json:"filters,omitempty"`
	Pages           int              `json:"pages"`
	Timestamp       time.Time        `json:"timestamp"`
	CSVFile         string           `json:"csv_file,omitempty"`
	JSONFile        string           `json:"json_file,omitempty"`
	HTMLFile        string           `json:"html_file,omitempty"`
	FinalScreenshot string           `json:"final_screenshot,omitempty"`
	ErrorScreenshot string           `json:"error_screenshot,omitempty"`
}

// Succeeded is a small helper for callers that only care about the status.
func (r ExtractionResult) Succeeded() bool { return r.Status == StatusSuccess }
