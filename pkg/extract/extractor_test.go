package extract

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/3leaps/airq/pkg/manifest"
	"github.com/3leaps/airq/pkg/table"
	"github.com/3leaps/airq/test/fixtures"
)

func bytesSource(d table.Dataset, data []byte) Source {
	return Source{
		Dataset: d,
		Format:  FormatFor(d),
		Name:    string(d) + "-input",
		Open: func(ctx context.Context) (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

func newExtractor(t *testing.T) *Extractor {
	t.Helper()
	e, err := New(manifest.Default(), nil)
	require.NoError(t, err)
	return e
}

func TestExtract_Delimited(t *testing.T) {
	e := newExtractor(t)
	data := fixtures.HistoryCSV(t, fixtures.HistoryHeader, fixtures.HistoryRecords(12, 0))

	tbl, err := e.Extract(context.Background(), bytesSource(table.History, data))
	require.NoError(t, err)

	assert.Equal(t, fixtures.HistoryHeader, tbl.Columns)
	assert.Equal(t, 12, tbl.Len())

	city, _ := tbl.Index("CITY_NAME")
	assert.Equal(t, "Mayagüez", tbl.Rows[0][city].Text, "latin-1 is decoded to UTF-8")
}

func TestExtract_DelimitedUTF8(t *testing.T) {
	rules := manifest.Default()
	rules.History.Encoding = manifest.EncodingUTF8
	e, err := New(rules, nil)
	require.NoError(t, err)

	data := []byte("\ufeffDATETIME_LOCAL,AQI\n2021-01-01 00:00:00,42\n")
	tbl, err := e.Extract(context.Background(), bytesSource(table.History, data))
	require.NoError(t, err)
	assert.Equal(t, []string{"DATETIME_LOCAL", "AQI"}, tbl.Columns)
}

func TestExtract_Workbook(t *testing.T) {
	e := newExtractor(t)
	data := fixtures.Workbook(t, fixtures.MeasuresHeader, fixtures.MeasuresRecords())

	tbl, err := e.Extract(context.Background(), bytesSource(table.Measures, data))
	require.NoError(t, err)

	assert.Equal(t, fixtures.MeasuresHeader, tbl.Columns)
	assert.Equal(t, 6, tbl.Len())
	idx, _ := tbl.Index("Value")
	assert.Equal(t, "33", tbl.Rows[0][idx].Text)
}

func TestExtract_WorkbookIgnoresNumberFormats(t *testing.T) {
	f := excelize.NewFile()
	t.Cleanup(func() { _ = f.Close() })
	sheet := f.GetSheetName(0)

	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]any{"Measure", "Value"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]any{fixtures.OzoneMeasure, 1234.5}))
	style, err := f.NewStyle(&excelize.Style{NumFmt: 4}) // #,##0.00
	require.NoError(t, err)
	require.NoError(t, f.SetCellStyle(sheet, "B2", "B2", style))

	shown, err := f.GetCellValue(sheet, "B2")
	require.NoError(t, err)
	require.Equal(t, "1,234.50", shown)

	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	tbl, err := newExtractor(t).Extract(context.Background(), bytesSource(table.Measures, buf.Bytes()))
	require.NoError(t, err)
	require.Equal(t, 1, tbl.Len())
	assert.Equal(t, "1234.5", tbl.Rows[0][1].Text)
	assert.Equal(t, table.Number(1234.5), table.ToNumber(tbl.Rows[0][1]))
}

func TestExtract_WorkbookMalformed(t *testing.T) {
	e := newExtractor(t)
	_, err := e.Extract(context.Background(), bytesSource(table.Measures, []byte("not a zip")))
	require.Error(t, err)
	assert.True(t, IsParseFailure(err))
}

func TestExtract_Document(t *testing.T) {
	e := newExtractor(t)
	data := fixtures.IndicatorDocument(t, fixtures.IndicatorHeaders, fixtures.IndicatorRows(4))

	tbl, err := e.Extract(context.Background(), bytesSource(table.Indicators, data))
	require.NoError(t, err)

	assert.Equal(t, fixtures.IndicatorHeaders, tbl.Columns, "system columns are discarded")
	assert.Equal(t, 4, tbl.Len())

	msg, _ := tbl.Index("Message")
	assert.True(t, tbl.Rows[0][msg].IsMissing())
	id, _ := tbl.Index("Unique ID")
	assert.Equal(t, "216000", tbl.Rows[0][id].Text)
}

func TestExtract_DocumentSchemaChecks(t *testing.T) {
	e := newExtractor(t)

	tests := []struct {
		name string
		data []byte
	}{
		{"not json", []byte("{")},
		{"missing data", []byte(`{"meta":{"view":{"columns":[]}}}`)},
		{"missing descriptor", []byte(`{"data":[]}`)},
		{"reordered columns", func() []byte {
			h := append([]string(nil), fixtures.IndicatorHeaders...)
			h[0], h[1] = h[1], h[0]
			return fixtures.IndicatorDocument(t, h, nil)
		}()},
		{"extra column", fixtures.IndicatorDocument(t, append(append([]string(nil), fixtures.IndicatorHeaders...), "Extra"), nil)},
		{"short row", fixtures.IndicatorDocument(t, fixtures.IndicatorHeaders, [][]any{{"1", "2"}})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Extract(context.Background(), bytesSource(table.Indicators, tt.data))
			require.Error(t, err)
			assert.True(t, IsParseFailure(err), "got %v", err)

			var ee *ExtractionError
			require.ErrorAs(t, err, &ee)
			assert.Equal(t, table.Indicators, ee.Dataset)
		})
	}
}

func TestExtract_NotFound(t *testing.T) {
	e := newExtractor(t)
	src := FileSource(table.Measures, filepath.Join(t.TempDir(), "missing.xlsx"))

	_, err := e.Extract(context.Background(), src)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "measures")
}

func TestExtract_Empty(t *testing.T) {
	e := newExtractor(t)
	for _, d := range table.Datasets {
		_, err := e.Extract(context.Background(), bytesSource(d, nil))
		require.Error(t, err, d)
		assert.True(t, IsParseFailure(err), d)
	}
}

func TestExtractAll_StopsAtFirstFailure(t *testing.T) {
	e := newExtractor(t)
	b := fixtures.DefaultBytes(t)

	opened := 0
	indicators := bytesSource(table.Indicators, b.Indicators)
	inner := indicators.Open
	indicators.Open = func(ctx context.Context) (io.ReadCloser, error) {
		opened++
		return inner(ctx)
	}

	sources := Sources{
		History:    bytesSource(table.History, b.History),
		Measures:   FileSource(table.Measures, filepath.Join(t.TempDir(), "gone.xlsx")),
		Indicators: indicators,
	}
	require.NoError(t, sources.Validate())

	_, err := e.ExtractAll(context.Background(), sources)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Zero(t, opened)
}

func TestSources_Validate(t *testing.T) {
	b := fixtures.DefaultBytes(t)
	s := Sources{
		History:    bytesSource(table.Measures, b.History),
		Measures:   bytesSource(table.Measures, b.Measures),
		Indicators: bytesSource(table.Indicators, b.Indicators),
	}
	assert.Error(t, s.Validate())
}
