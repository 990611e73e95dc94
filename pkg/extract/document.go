package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/3leaps/airq/pkg/manifest"
	"github.com/3leaps/airq/pkg/table"
)

const documentSchemaURL = "indicator-document.schema.json"

// indicatorDocument is the subset of the indicator export that is read.
type indicatorDocument struct {
	Meta struct {
		View struct {
			Columns []descriptorColumn `json:"columns"`
		} `json:"view"`
	} `json:"meta"`
	Data [][]any `json:"data"`
}

type descriptorColumn struct {
	Name      string `json:"name"`
	FieldName string `json:"fieldName"`
}

// documentSchema describes the document envelope. The descriptor must list
// at least as many columns as the rules expect.
func documentSchema(rules manifest.IndicatorRules) map[string]any {
	return map[string]any{
		"$schema":  "http://json-schema.org/draft-07/schema#",
		"type":     "object",
		"required": []string{"data", "meta"},
		"properties": map[string]any{
			"data": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "array"},
			},
			"meta": map[string]any{
				"type":     "object",
				"required": []string{"view"},
				"properties": map[string]any{
					"view": map[string]any{
						"type":     "object",
						"required": []string{"columns"},
						"properties": map[string]any{
							"columns": map[string]any{
								"type":     "array",
								"minItems": len(rules.Columns),
								"items": map[string]any{
									"type":     "object",
									"required": []string{"name"},
									"properties": map[string]any{
										"name":      map[string]any{"type": "string"},
										"fieldName": map[string]any{"type": "string"},
									},
								},
							},
						},
					},
				},
			},
		},
	}
}

func compileDocumentSchema(rules manifest.IndicatorRules) (*jsonschema.Schema, error) {
	b, err := json.Marshal(documentSchema(rules))
	if err != nil {
		return nil, fmt.Errorf("marshal document schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(documentSchemaURL, bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add document schema: %w", err)
	}
	sch, err := compiler.Compile(documentSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile document schema: %w", err)
	}
	return sch, nil
}

// readDocument parses an indicator export.
//
// Column names come from meta.view.columns. Descriptor entries whose
// fieldName carries the system prefix are bookkeeping and are discarded.
// The remaining names must match the expected source headers exactly, in
// count and order, so a reshaped export fails here instead of being
// silently mis-assigned downstream.
func (e *Extractor) readDocument(r io.Reader) (*table.Table, error) {
	raw, err := readAll(r)
	if err != nil {
		return nil, err
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := e.docSchema.Validate(generic); err != nil {
		return nil, fmt.Errorf("document does not match indicator envelope: %w", err)
	}

	var doc indicatorDocument
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}

	descriptor := doc.Meta.View.Columns
	rules := e.rules.Indicators

	var keep []int
	var names []string
	for i, c := range descriptor {
		if rules.SystemFieldPrefix != "" && strings.HasPrefix(c.FieldName, rules.SystemFieldPrefix) {
			continue
		}
		keep = append(keep, i)
		names = append(names, strings.TrimSpace(c.Name))
	}

	if err := checkHeaders(names, rules.SourceHeaders()); err != nil {
		return nil, err
	}

	tbl := table.New(names...)
	for ri, row := range doc.Data {
		if len(row) != len(descriptor) {
			return nil, fmt.Errorf("data row %d has %d cells, descriptor lists %d columns", ri, len(row), len(descriptor))
		}
		out := make(table.Row, len(keep))
		for j, i := range keep {
			out[j] = documentCell(row[i])
		}
		tbl.Rows = append(tbl.Rows, out)
	}
	return tbl, nil
}

// SchemaMismatchError reports descriptor columns that do not match the
// expected source headers.
type SchemaMismatchError struct {
	Got  []string
	Want []string
}

func (e *SchemaMismatchError) Error() string {
	if len(e.Got) != len(e.Want) {
		return fmt.Sprintf("indicator columns: got %d data columns, want %d (%s)", len(e.Got), len(e.Want), strings.Join(e.Want, ", "))
	}
	for i := range e.Got {
		if e.Got[i] != e.Want[i] {
			return fmt.Sprintf("indicator columns: column %d is %q, want %q", i, e.Got[i], e.Want[i])
		}
	}
	return "indicator columns do not match"
}

func checkHeaders(got, want []string) error {
	if len(got) != len(want) {
		return &SchemaMismatchError{Got: got, Want: want}
	}
	for i := range got {
		if got[i] != want[i] {
			return &SchemaMismatchError{Got: got, Want: want}
		}
	}
	return nil
}

func documentCell(v any) table.Cell {
	switch x := v.(type) {
	case nil:
		return table.Missing()
	case string:
		if strings.TrimSpace(x) == "" {
			return table.Missing()
		}
		return table.Text(x)
	case json.Number:
		return table.Text(x.String())
	case bool:
		if x {
			return table.Text("true")
		}
		return table.Text("false")
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return table.Missing()
		}
		return table.Text(string(b))
	}
}
