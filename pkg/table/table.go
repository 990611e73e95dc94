// Package table provides the in-memory tabular structure shared by the
// extract, transform and load stages.
//
// A Table is a header plus rows of typed cells. Cells carry an explicit
// missing state so coercion failures can be represented without sentinel
// strings leaking into artifacts.
package table

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind identifies the type held by a Cell.
type Kind uint8

const (
	KindMissing Kind = iota
	KindText
	KindNumber
	KindTime
)

// TimeLayout is the layout used when timestamps are serialized.
const TimeLayout = "2006-01-02 15:04:05"

// Cell is a single table value.
type Cell struct {
	Kind Kind
	Text string
	Num  float64
	Time time.Time
}

// Missing returns the missing cell.
func Missing() Cell { return Cell{Kind: KindMissing} }

// Text returns a text cell.
func Text(s string) Cell { return Cell{Kind: KindText, Text: s} }

// Number returns a numeric cell.
func Number(f float64) Cell { return Cell{Kind: KindNumber, Num: f} }

// Timestamp returns a time cell.
func Timestamp(t time.Time) Cell { return Cell{Kind: KindTime, Time: t} }

// IsMissing reports whether the cell holds no value.
func (c Cell) IsMissing() bool { return c.Kind == KindMissing }

// String renders the cell the way it is written to artifacts.
// Missing cells render as the empty string.
func (c Cell) String() string {
	switch c.Kind {
	case KindText:
		return c.Text
	case KindNumber:
		return strconv.FormatFloat(c.Num, 'f', -1, 64)
	case KindTime:
		return c.Time.Format(TimeLayout)
	default:
		return ""
	}
}

// Row is one record of a Table.
type Row []Cell

// Table is an ordered header and its rows.
//
// Every row has exactly len(Columns) cells.
type Table struct {
	Columns []string
	Rows    []Row
}

// New returns an empty table with the given header.
func New(columns ...string) *Table {
	cols := make([]string, len(columns))
	copy(cols, columns)
	return &Table{Columns: cols}
}

// FromStrings builds a table from a header and raw string records.
//
// Short records are padded with missing cells and long records are rejected.
// Empty strings become missing cells.
func FromStrings(header []string, records [][]string) (*Table, error) {
	t := New(header...)
	for i, rec := range records {
		if len(rec) > len(header) {
			return nil, fmt.Errorf("record %d has %d fields, header has %d", i+1, len(rec), len(header))
		}
		row := make(Row, len(header))
		for j := range header {
			if j < len(rec) && strings.TrimSpace(rec[j]) != "" {
				row[j] = Text(rec[j])
			} else {
				row[j] = Missing()
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Index returns the position of the named column.
func (t *Table) Index(name string) (int, bool) {
	for i, c := range t.Columns {
		if c == name {
			return i, true
		}
	}
	return -1, false
}

// MustIndex returns the position of the named column or a ColumnError.
func (t *Table) MustIndex(name string) (int, error) {
	i, ok := t.Index(name)
	if !ok {
		return -1, &ColumnError{Column: name}
	}
	return i, nil
}

// Has reports whether the named column exists.
func (t *Table) Has(name string) bool {
	_, ok := t.Index(name)
	return ok
}

// Clone returns a deep copy of the table.
func (t *Table) Clone() *Table {
	out := New(t.Columns...)
	out.Rows = make([]Row, len(t.Rows))
	for i, r := range t.Rows {
		nr := make(Row, len(r))
		copy(nr, r)
		out.Rows[i] = nr
	}
	return out
}

// Map replaces every cell of the named column with fn(cell).
func (t *Table) Map(column string, fn func(Cell) Cell) error {
	idx, err := t.MustIndex(column)
	if err != nil {
		return err
	}
	for _, r := range t.Rows {
		r[idx] = fn(r[idx])
	}
	return nil
}

// Filter keeps the rows for which keep returns true.
func (t *Table) Filter(keep func(Row) bool) {
	out := t.Rows[:0]
	for _, r := range t.Rows {
		if keep(r) {
			out = append(out, r)
		}
	}
	t.Rows = out
}

// Drop removes the named columns that exist and returns the ones removed.
func (t *Table) Drop(names ...string) []string {
	remove := make(map[int]bool, len(names))
	var dropped []string
	for _, n := range names {
		if i, ok := t.Index(n); ok && !remove[i] {
			remove[i] = true
			dropped = append(dropped, n)
		}
	}
	if len(remove) == 0 {
		return nil
	}

	keep := make([]int, 0, len(t.Columns)-len(remove))
	for i := range t.Columns {
		if !remove[i] {
			keep = append(keep, i)
		}
	}

	cols := make([]string, len(keep))
	for j, i := range keep {
		cols[j] = t.Columns[i]
	}
	t.Columns = cols

	for ri, r := range t.Rows {
		nr := make(Row, len(keep))
		for j, i := range keep {
			nr[j] = r[i]
		}
		t.Rows[ri] = nr
	}
	return dropped
}

// Rename renames columns according to mapping (old name to new name).
// Every old name must exist.
func (t *Table) Rename(mapping map[string]string) error {
	for from := range mapping {
		if !t.Has(from) {
			return &ColumnError{Column: from}
		}
	}
	for i, c := range t.Columns {
		if to, ok := mapping[c]; ok {
			t.Columns[i] = to
		}
	}
	return nil
}

// Records renders the rows as strings, header excluded.
func (t *Table) Records() [][]string {
	out := make([][]string, len(t.Rows))
	for i, r := range t.Rows {
		rec := make([]string, len(r))
		for j, c := range r {
			rec[j] = c.String()
		}
		out[i] = rec
	}
	return out
}

// ColumnError reports a column that is required but absent.
type ColumnError struct {
	Column string
}

func (e *ColumnError) Error() string {
	return fmt.Sprintf("column %q not found", e.Column)
}
