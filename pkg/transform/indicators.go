package transform

import (
	"github.com/3leaps/airq/pkg/table"
)

// Indicators normalizes indicator records onto the canonical column set.
func (t *Transformer) Indicators(tbl *table.Table) StageResult {
	r := t.rules.Indicators

	steps := []step{
		dropStep(r.DropColumns),
		{name: "rename columns", apply: func(tbl *table.Table) error {
			return tbl.Rename(r.RenameMap())
		}},
	}
	if r.ValueColumn != "" {
		steps = append(steps, mapStep("coerce "+r.ValueColumn, r.ValueColumn, table.ToNumber))
	}
	if r.DateColumn != "" {
		steps = append(steps, mapStep("parse "+r.DateColumn, r.DateColumn, table.ToTimestamp))
	}
	return t.run(table.Indicators, tbl, steps)
}
