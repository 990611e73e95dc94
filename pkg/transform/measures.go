package transform

import (
	"math"

	"github.com/3leaps/airq/pkg/manifest"
	"github.com/3leaps/airq/pkg/table"
)

// Measures cleans the county summary measures.
func (t *Transformer) Measures(tbl *table.Table) StageResult {
	r := t.rules.Measures

	steps := []step{mapStep("coerce "+r.ValueColumn, r.ValueColumn, table.ToNumber)}
	steps = append(steps, lowercaseSteps(r.LowercaseColumns)...)
	if r.Filter.Enabled {
		steps = append(steps, step{name: "filter " + r.MeasureColumn, apply: func(tbl *table.Table) error {
			idx, err := tbl.MustIndex(r.MeasureColumn)
			if err != nil {
				return err
			}
			tbl.Filter(func(row table.Row) bool {
				return r.Filter.Allowed(row[idx].String())
			})
			return nil
		}})
		if r.Rescale.Measure != "" {
			steps = append(steps, step{name: "rescale " + r.Rescale.Measure, apply: func(tbl *table.Table) error {
				return rescale(tbl, r)
			}})
		}
	}
	if len(r.DropColumns) > 0 {
		steps = append(steps, dropStep(r.DropColumns))
	}
	return t.run(table.Measures, tbl, steps)
}

// rescale converts the configured measure from percent of days to days.
// Half values round to even.
func rescale(tbl *table.Table, r manifest.MeasuresRules) error {
	mIdx, err := tbl.MustIndex(r.MeasureColumn)
	if err != nil {
		return err
	}
	vIdx, err := tbl.MustIndex(r.ValueColumn)
	if err != nil {
		return err
	}
	for _, row := range tbl.Rows {
		if row[mIdx].String() != r.Rescale.Measure {
			continue
		}
		v := table.ToNumber(row[vIdx])
		if v.IsMissing() {
			row[vIdx] = v
			continue
		}
		row[vIdx] = table.Number(math.RoundToEven(v.Num / r.Rescale.Divisor * r.Rescale.Multiplier))
	}
	return nil
}
