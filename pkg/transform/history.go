package transform

import (
	"github.com/3leaps/airq/pkg/table"
)

// History cleans the AQI time series.
//
// Timestamps that do not parse and AQI values that are not numeric become
// missing. Rows without an AQI value are excluded.
func (t *Transformer) History(tbl *table.Table) StageResult {
	r := t.rules.History

	steps := []step{
		mapStep("parse "+r.TimestampColumn, r.TimestampColumn, table.ToTimestamp),
		mapStep("coerce "+r.AQIColumn, r.AQIColumn, table.ToNumber),
		{name: "exclude missing " + r.AQIColumn, apply: func(tbl *table.Table) error {
			idx, err := tbl.MustIndex(r.AQIColumn)
			if err != nil {
				return err
			}
			tbl.Filter(func(row table.Row) bool {
				return row[idx].Kind == table.KindNumber
			})
			return nil
		}},
	}
	steps = append(steps, lowercaseSteps(r.LowercaseColumns)...)
	if len(r.DropColumns) > 0 {
		steps = append(steps, dropStep(r.DropColumns))
	}
	return t.run(table.History, tbl, steps)
}
