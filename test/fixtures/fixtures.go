// Package fixtures builds source files shaped like the public air-quality
// exports the pipeline ingests.
//
// The helpers are shared by package tests; they fail the test on error.
//
// Usage:
//
//	func TestPipeline(t *testing.T) {
//	    history, measures, indicators := fixtures.WriteSources(t, t.TempDir())
//	    // ... test code ...
//	}
package fixtures

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
)

// Measure labels used by the measures export.
const (
	OzoneMeasure = "Number of days with maximum 8-hour average ozone concentration over the National Ambient Air Quality Standard (monitor and modeled data)"
	PM25Measure  = "Percent of days with PM2.5 levels over the National Ambient Air Quality Standard (monitor and modeled data)"
	OtherMeasure = "Annual average ambient concentrations of PM2.5 in micrograms per cubic meter (based on seasonal averages and daily measurement)"
)

// HistoryHeader is the header of the history export.
var HistoryHeader = []string{"DATETIME_LOCAL", "AQI", "CITY_NAME", "STATE_NAME", "COUNTY_NAME"}

// MeasuresHeader is the header of the measures workbook.
var MeasuresHeader = []string{
	"StateFips", "StateName", "CountyFips", "CountyName", "ReportYear", "MeasureId",
	"MeasureName", "MeasureType", "Value", "Unit", "UnitName", "DataOrigin", "MonitorOnly",
}

// IndicatorHeaders are the data column names of the indicator export.
var IndicatorHeaders = []string{
	"Unique ID", "Indicator ID", "Name", "Measure", "Measure Info", "Geo Type Name",
	"Geo Join ID", "Geo Place Name", "Time Period", "Start_Date", "Data Value", "Message",
}

// systemFields are the bookkeeping columns that precede data columns.
var systemFields = []string{":sid", ":id", ":position", ":created_at", ":created_meta", ":updated_at", ":updated_meta", ":meta"}

// HistoryRecords returns n history rows. The first bad rows carry a
// non-numeric AQI value.
func HistoryRecords(n, bad int) [][]string {
	base := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([][]string, 0, n)
	for i := 0; i < n; i++ {
		aqi := strconv.Itoa(20 + i%80)
		if i < bad {
			aqi = "n/a"
		}
		city, state, county := "Phoenix", "Arizona", "Maricopa"
		if i%3 == 0 {
			city, state, county = "Mayagüez", "Puerto Rico", "Mayagüez"
		}
		out = append(out, []string{base.Add(time.Duration(i) * time.Hour).Format("2006-01-02 15:04:05"), aqi, city, state, county})
	}
	return out
}

// HistoryCSV renders header and records as latin-1 encoded CSV.
func HistoryCSV(t testing.TB, header []string, records [][]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		t.Fatalf("write header: %v", err)
	}
	if err := w.WriteAll(records); err != nil {
		t.Fatalf("write records: %v", err)
	}
	encoded, err := charmap.ISO8859_1.NewEncoder().Bytes(buf.Bytes())
	if err != nil {
		t.Fatalf("encode latin-1: %v", err)
	}
	return encoded
}

// MeasureRow returns one measures row.
func MeasureRow(state, county, measure, value string) []string {
	return []string{"4", state, "4013", county, "2019", "83", measure, "Counts", value, "No Units", "No Units", "Monitor Only", "Yes"}
}

// MeasuresRecords returns rows for two recognized measures and one other.
func MeasuresRecords() [][]string {
	return [][]string{
		MeasureRow("Arizona", "Maricopa", OzoneMeasure, "33"),
		MeasureRow("Arizona", "Pima", OzoneMeasure, "12"),
		MeasureRow("Arizona", "Maricopa", PM25Measure, "20"),
		MeasureRow("Arizona", "Pima", PM25Measure, "50"),
		MeasureRow("Arizona", "Maricopa", OtherMeasure, "9.1"),
		MeasureRow("Arizona", "Pima", OtherMeasure, "6.4"),
	}
}

// Workbook renders header and rows into an xlsx workbook with one sheet.
func Workbook(t testing.TB, header []string, rows [][]string) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(0)
	all := append([][]string{header}, rows...)
	for r, row := range all {
		for c, v := range row {
			cell, err := excelize.CoordinatesToCellName(c+1, r+1)
			if err != nil {
				t.Fatalf("cell name: %v", err)
			}
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				t.Fatalf("set cell %s: %v", cell, err)
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	return buf.Bytes()
}

// IndicatorRow returns the data cells of one indicator record.
func IndicatorRow(i int) []any {
	return []any{
		strconv.Itoa(216000 + i), "386", "Ozone (O3)", "Mean", "ppb", "UHF34",
		"203", "Bedford Stuyvesant - Crown Heights", "Summer 2013",
		"2013-06-01T00:00:00", fmt.Sprintf("%.2f", 30+float64(i)/4), nil,
	}
}

// IndicatorRows returns n indicator records.
func IndicatorRows(n int) [][]any {
	out := make([][]any, n)
	for i := range out {
		out[i] = IndicatorRow(i)
	}
	return out
}

// IndicatorDocument renders an indicator export with the given data column
// names and data rows. System columns are prepended to both.
func IndicatorDocument(t testing.TB, headers []string, rows [][]any) []byte {
	t.Helper()

	columns := make([]map[string]any, 0, len(systemFields)+len(headers))
	for _, f := range systemFields {
		columns = append(columns, map[string]any{"name": f[1:], "fieldName": f, "dataTypeName": "meta_data"})
	}
	for _, h := range headers {
		columns = append(columns, map[string]any{"name": h, "fieldName": fieldName(h), "dataTypeName": "text"})
	}

	data := make([][]any, len(rows))
	for i, r := range rows {
		row := []any{fmt.Sprintf("row-%d", i), "00000000-0000-0000-0000-000000000000", 0, 1450000000, "7", 1450000000, "7", "{ }"}
		data[i] = append(row, r...)
	}

	doc := map[string]any{
		"meta": map[string]any{"view": map[string]any{"id": "c3uy-2p5r", "columns": columns}},
		"data": data,
	}
	b, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal indicator document: %v", err)
	}
	return b
}

func fieldName(h string) string {
	out := make([]byte, 0, len(h))
	for i := 0; i < len(h); i++ {
		c := h[i]
		switch {
		case c >= 'A' && c <= 'Z':
			out = append(out, c+'a'-'A')
		case c == ' ':
			out = append(out, '_')
		default:
			out = append(out, c)
		}
	}
	return string(out)
}

// Default sizes of the files written by WriteSources.
const (
	HistoryRows    = 100
	HistoryBadRows = 5
	IndicatorCount = 10
)

// Bytes holds the three rendered source files.
type Bytes struct {
	History    []byte
	Measures   []byte
	Indicators []byte
}

// DefaultBytes renders the default source set.
func DefaultBytes(t testing.TB) Bytes {
	t.Helper()
	return Bytes{
		History:    HistoryCSV(t, HistoryHeader, HistoryRecords(HistoryRows, HistoryBadRows)),
		Measures:   Workbook(t, MeasuresHeader, MeasuresRecords()),
		Indicators: IndicatorDocument(t, IndicatorHeaders, IndicatorRows(IndicatorCount)),
	}
}

// WriteSources writes the default source set into dir and returns the paths.
func WriteSources(t testing.TB, dir string) (history, measures, indicators string) {
	t.Helper()
	b := DefaultBytes(t)
	history = writeFile(t, dir, "aqi_history.csv", b.History)
	measures = writeFile(t, dir, "air_quality_measures.xlsx", b.Measures)
	indicators = writeFile(t, dir, "air_quality_indicators.json", b.Indicators)
	return history, measures, indicators
}

func writeFile(t testing.TB, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}
