// Package transform implements the per-dataset cleaning rules.
//
// Each dataset is cleaned by an ordered list of independent steps. A step
// that fails is rolled back: the table continues in the state it had before
// the step, and the failure is reported as a TransformWarning in the
// StageResult. Transform never aborts a job.
package transform

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/3leaps/airq/pkg/manifest"
	"github.com/3leaps/airq/pkg/table"
)

// TransformWarning records a cleaning step that failed and was skipped.
type TransformWarning struct {
	Dataset table.Dataset `json:"dataset"`
	Step    string        `json:"step"`
	Err     error         `json:"-"`
}

func (w TransformWarning) Error() string {
	return fmt.Sprintf("transform %s: %s: %v", w.Dataset, w.Step, w.Err)
}

func (w TransformWarning) Unwrap() error { return w.Err }

// StageResult is the outcome of transforming one dataset: the cleaned table
// and the steps that were skipped along the way.
type StageResult struct {
	Dataset  table.Dataset
	Table    *table.Table
	Warnings []TransformWarning
}

// Degraded reports whether any step was skipped.
func (r StageResult) Degraded() bool { return len(r.Warnings) > 0 }

type step struct {
	name  string
	apply func(*table.Table) error
}

// Transformer applies a rule set to extracted tables.
type Transformer struct {
	rules  *manifest.Rules
	logger *zap.Logger
}

// New returns a Transformer. Nil rules select the defaults and a nil logger
// disables logging.
func New(rules *manifest.Rules, logger *zap.Logger) *Transformer {
	if rules == nil {
		rules = manifest.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transformer{rules: rules, logger: logger}
}

// Apply cleans tbl with the steps of dataset d.
func (t *Transformer) Apply(d table.Dataset, tbl *table.Table) StageResult {
	switch d {
	case table.History:
		return t.History(tbl)
	case table.Measures:
		return t.Measures(tbl)
	case table.Indicators:
		return t.Indicators(tbl)
	}
	return StageResult{
		Dataset:  d,
		Table:    tbl,
		Warnings: []TransformWarning{{Dataset: d, Step: "select transformer", Err: fmt.Errorf("unknown dataset")}},
	}
}

// run applies steps in order. Each step works on a copy that replaces the
// current table only when the step succeeds.
func (t *Transformer) run(d table.Dataset, tbl *table.Table, steps []step) StageResult {
	res := StageResult{Dataset: d, Table: tbl}
	for _, s := range steps {
		next := res.Table.Clone()
		if err := s.apply(next); err != nil {
			w := TransformWarning{Dataset: d, Step: s.name, Err: err}
			res.Warnings = append(res.Warnings, w)
			t.logger.Warn("Cleaning step skipped",
				zap.String("dataset", d.String()),
				zap.String("step", s.name),
				zap.Error(err))
			continue
		}
		res.Table = next
	}
	t.logger.Debug("Dataset transformed",
		zap.String("dataset", d.String()),
		zap.Int("rows", res.Table.Len()),
		zap.Int("warnings", len(res.Warnings)))
	return res
}

func mapStep(name, column string, fn func(table.Cell) table.Cell) step {
	return step{name: name, apply: func(tbl *table.Table) error {
		return tbl.Map(column, fn)
	}}
}

func lowercaseSteps(columns []string) []step {
	steps := make([]step, 0, len(columns))
	for _, c := range columns {
		steps = append(steps, mapStep("lowercase "+c, c, table.ToLower))
	}
	return steps
}

func dropStep(columns []string) step {
	return step{name: "drop columns", apply: func(tbl *table.Table) error {
		tbl.Drop(columns...)
		return nil
	}}
}
