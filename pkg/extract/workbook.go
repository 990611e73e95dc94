package extract

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/3leaps/airq/pkg/table"
)

// readWorkbook parses one sheet of a spreadsheet workbook. The first row is
// the header. An empty sheet name selects the first sheet.
func readWorkbook(r io.Reader, sheet string) (*table.Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("workbook has no sheets")
		}
		sheet = sheets[0]
	}

	// Raw values keep numbers parseable regardless of the cell's display format.
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("sheet %q is empty", sheet)
	}

	header := cleanHeader(rows[0])
	for len(header) > 0 && header[len(header)-1] == "" {
		header = header[:len(header)-1]
	}
	if len(header) == 0 {
		return nil, fmt.Errorf("sheet %q has no header", sheet)
	}
	return table.FromStrings(header, rows[1:])
}
