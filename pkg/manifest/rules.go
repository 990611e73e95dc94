// Package manifest provides loading and validation of airq cleaning rules.
//
// A rules manifest is a YAML or JSON file naming the columns each dataset
// transformer works on, the measure allow-list and rescale rule, the
// indicator document's expected source headers and their canonical names,
// and the glob patterns used to discover source files.
//
// Manifests are validated against an embedded JSON Schema before they are
// decoded. Fields omitted from a manifest keep the built-in defaults.
//
// Example manifest (YAML):
//
//	version: "1.0"
//	measures:
//	  filter:
//	    enabled: false
//	history:
//	  drop_columns: []
package manifest

import (
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	schemasassets "github.com/3leaps/airq/internal/assets/schemas"
)

// Version is the only supported rules manifest version.
const Version = "1.0"

// Encoding names accepted for the history source.
const (
	EncodingLatin1 = "latin-1"
	EncodingUTF8   = "utf-8"
)

// Rules is a validated cleaning-rules manifest.
type Rules struct {
	// Schema is an optional JSON Schema reference for editor support.
	Schema string `json:"$schema,omitempty" yaml:"$schema,omitempty"`

	// Version is the manifest schema version. Must be "1.0".
	Version string `json:"version" yaml:"version"`

	History    HistoryRules   `json:"history" yaml:"history"`
	Measures   MeasuresRules  `json:"measures" yaml:"measures"`
	Indicators IndicatorRules `json:"indicators" yaml:"indicators"`
	Discovery  DiscoveryRules `json:"discovery" yaml:"discovery"`
}

// HistoryRules configures the history time-series transformer.
type HistoryRules struct {
	// Encoding of the delimited source ("latin-1" or "utf-8").
	Encoding string `json:"encoding" yaml:"encoding"`

	TimestampColumn string `json:"timestamp_column" yaml:"timestamp_column"`
	AQIColumn       string `json:"aqi_column" yaml:"aqi_column"`

	// LowercaseColumns are lower-cased one at a time; each is its own step.
	LowercaseColumns []string `json:"lowercase_columns" yaml:"lowercase_columns"`

	// DropColumns are removed when present.
	DropColumns []string `json:"drop_columns" yaml:"drop_columns"`
}

// MeasuresRules configures the summary measures transformer.
type MeasuresRules struct {
	// Sheet selects the workbook sheet. Empty means the first sheet.
	Sheet string `json:"sheet,omitempty" yaml:"sheet,omitempty"`

	ValueColumn      string        `json:"value_column" yaml:"value_column"`
	MeasureColumn    string        `json:"measure_column" yaml:"measure_column"`
	LowercaseColumns []string      `json:"lowercase_columns" yaml:"lowercase_columns"`
	Filter           MeasureFilter `json:"filter" yaml:"filter"`
	Rescale          RescaleRule   `json:"rescale" yaml:"rescale"`
	DropColumns      []string      `json:"drop_columns" yaml:"drop_columns"`
}

// MeasureFilter restricts rows to recognized measure labels.
type MeasureFilter struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Allow   []string `json:"allow" yaml:"allow"`
}

// Allowed reports whether label is in the allow-list.
func (f MeasureFilter) Allowed(label string) bool {
	for _, a := range f.Allow {
		if a == label {
			return true
		}
	}
	return false
}

// RescaleRule converts one measure from a percentage-of-days encoding into
// a day count: round(value / Divisor * Multiplier).
//
// The rule only runs when filtering is enabled.
type RescaleRule struct {
	Measure    string  `json:"measure" yaml:"measure"`
	Divisor    float64 `json:"divisor" yaml:"divisor"`
	Multiplier float64 `json:"multiplier" yaml:"multiplier"`
}

// IndicatorRules configures the indicator document extractor and transformer.
type IndicatorRules struct {
	// SystemFieldPrefix marks descriptor columns that carry document
	// bookkeeping rather than data (matched against the descriptor fieldName).
	SystemFieldPrefix string `json:"system_field_prefix" yaml:"system_field_prefix"`

	// Columns lists the expected data columns in source order, with the
	// canonical name each is renamed to.
	Columns []ColumnMapping `json:"columns" yaml:"columns"`

	// DropColumns are source column names removed before renaming.
	DropColumns []string `json:"drop_columns" yaml:"drop_columns"`

	// ValueColumn and DateColumn are canonical names coerced after renaming.
	ValueColumn string `json:"value_column" yaml:"value_column"`
	DateColumn  string `json:"date_column" yaml:"date_column"`
}

// ColumnMapping maps a source header onto a canonical column name.
type ColumnMapping struct {
	Source string `json:"source" yaml:"source"`
	Name   string `json:"name" yaml:"name"`
}

// SourceHeaders returns the expected source headers in order.
func (r IndicatorRules) SourceHeaders() []string {
	out := make([]string, len(r.Columns))
	for i, c := range r.Columns {
		out[i] = c.Source
	}
	return out
}

// RenameMap returns the source-to-canonical mapping, excluding dropped columns.
func (r IndicatorRules) RenameMap() map[string]string {
	dropped := make(map[string]bool, len(r.DropColumns))
	for _, d := range r.DropColumns {
		dropped[d] = true
	}
	out := make(map[string]string, len(r.Columns))
	for _, c := range r.Columns {
		if !dropped[c.Source] {
			out[c.Source] = c.Name
		}
	}
	return out
}

// DiscoveryRules holds the glob patterns that locate each source file.
type DiscoveryRules struct {
	History    string `json:"history" yaml:"history"`
	Measures   string `json:"measures" yaml:"measures"`
	Indicators string `json:"indicators" yaml:"indicators"`
}

var (
	defaultOnce  sync.Once
	defaultRules Rules
	defaultErr   error
)

// Default returns a copy of the built-in rule set.
//
// It panics if the embedded defaults are malformed, which is a build defect.
func Default() *Rules {
	defaultOnce.Do(func() {
		defaultErr = yaml.Unmarshal(schemasassets.DefaultRules, &defaultRules)
	})
	if defaultErr != nil {
		panic(fmt.Sprintf("embedded default rules: %v", defaultErr))
	}
	return defaultRules.clone()
}

func (r *Rules) clone() *Rules {
	out := *r
	out.History.LowercaseColumns = cloneStrings(r.History.LowercaseColumns)
	out.History.DropColumns = cloneStrings(r.History.DropColumns)
	out.Measures.LowercaseColumns = cloneStrings(r.Measures.LowercaseColumns)
	out.Measures.Filter.Allow = cloneStrings(r.Measures.Filter.Allow)
	out.Measures.DropColumns = cloneStrings(r.Measures.DropColumns)
	out.Indicators.Columns = append([]ColumnMapping(nil), r.Indicators.Columns...)
	out.Indicators.DropColumns = cloneStrings(r.Indicators.DropColumns)
	return &out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}

// Check performs semantic checks the schema cannot express.
func (r *Rules) Check() error {
	var errs ValidationErrors
	add := func(path, msg string) {
		errs = append(errs, ValidationError{Path: path, Message: msg})
	}

	if strings.TrimSpace(r.History.TimestampColumn) == "" {
		add("/history/timestamp_column", "is required")
	}
	if strings.TrimSpace(r.History.AQIColumn) == "" {
		add("/history/aqi_column", "is required")
	}
	if strings.TrimSpace(r.Measures.ValueColumn) == "" {
		add("/measures/value_column", "is required")
	}
	if strings.TrimSpace(r.Measures.MeasureColumn) == "" {
		add("/measures/measure_column", "is required")
	}
	if r.Measures.Rescale.Measure != "" && r.Measures.Rescale.Divisor == 0 {
		add("/measures/rescale/divisor", "must be non-zero")
	}
	if len(r.Indicators.Columns) == 0 {
		add("/indicators/columns", "at least one column is required")
	}

	seen := make(map[string]bool, len(r.Indicators.Columns))
	for i, c := range r.Indicators.Columns {
		if seen[c.Name] {
			add(fmt.Sprintf("/indicators/columns/%d/name", i), fmt.Sprintf("duplicate canonical name %q", c.Name))
		}
		seen[c.Name] = true
	}

	renamed := r.Indicators.RenameMap()
	canonical := make(map[string]bool, len(renamed))
	for _, n := range renamed {
		canonical[n] = true
	}
	if r.Indicators.ValueColumn != "" && !canonical[r.Indicators.ValueColumn] {
		add("/indicators/value_column", fmt.Sprintf("%q is not a retained canonical column", r.Indicators.ValueColumn))
	}
	if r.Indicators.DateColumn != "" && !canonical[r.Indicators.DateColumn] {
		add("/indicators/date_column", fmt.Sprintf("%q is not a retained canonical column", r.Indicators.DateColumn))
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}
