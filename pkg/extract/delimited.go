package extract

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/charmap"

	"github.com/3leaps/airq/pkg/manifest"
	"github.com/3leaps/airq/pkg/table"
)

// readDelimited parses comma-separated text with a header row.
//
// Latin-1 input is transcoded to UTF-8 before parsing.
func readDelimited(r io.Reader, encoding string) (*table.Table, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", manifest.EncodingLatin1:
		r = charmap.ISO8859_1.NewDecoder().Reader(r)
	case manifest.EncodingUTF8:
	default:
		return nil, fmt.Errorf("unsupported encoding %q", encoding)
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("source is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	header = cleanHeader(header)

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}
	return table.FromStrings(header, records)
}

func cleanHeader(header []string) []string {
	out := make([]string, len(header))
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		out[i] = strings.TrimSpace(h)
	}
	return out
}
