package extract

import (
	"context"
	"fmt"
	"io"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"github.com/3leaps/airq/pkg/manifest"
	"github.com/3leaps/airq/pkg/table"
)

// Extractor parses sources into tables according to a rule set.
//
// It is safe for concurrent use.
type Extractor struct {
	rules     *manifest.Rules
	logger    *zap.Logger
	docSchema *jsonschema.Schema
}

// New returns an Extractor for rules. A nil logger disables logging.
func New(rules *manifest.Rules, logger *zap.Logger) (*Extractor, error) {
	if rules == nil {
		rules = manifest.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	sch, err := compileDocumentSchema(rules.Indicators)
	if err != nil {
		return nil, err
	}
	return &Extractor{rules: rules, logger: logger, docSchema: sch}, nil
}

// Extract reads src and parses it according to its declared format.
func (e *Extractor) Extract(ctx context.Context, src Source) (*table.Table, error) {
	if src.Open == nil {
		return nil, openError(src, fmt.Errorf("no opener"))
	}
	rc, err := src.Open(ctx)
	if err != nil {
		return nil, openError(src, err)
	}
	defer func() { _ = rc.Close() }()

	var tbl *table.Table
	switch src.Format {
	case FormatDelimited:
		tbl, err = readDelimited(rc, e.rules.History.Encoding)
	case FormatWorkbook:
		tbl, err = readWorkbook(rc, e.rules.Measures.Sheet)
	case FormatDocument:
		tbl, err = e.readDocument(rc)
	default:
		err = fmt.Errorf("unsupported format %q", src.Format)
	}
	if err != nil {
		return nil, parseError(src, err)
	}

	e.logger.Debug("Extracted source",
		zap.String("dataset", src.Dataset.String()),
		zap.String("source", src.Name),
		zap.Int("rows", tbl.Len()),
		zap.Int("columns", len(tbl.Columns)))
	return tbl, nil
}

// ExtractAll extracts every source in order and stops at the first failure.
func (e *Extractor) ExtractAll(ctx context.Context, sources Sources) (map[table.Dataset]*table.Table, error) {
	out := make(map[table.Dataset]*table.Table, 3)
	for _, src := range sources.Each() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tbl, err := e.Extract(ctx, src)
		if err != nil {
			return nil, err
		}
		out[src.Dataset] = tbl
	}
	return out, nil
}

func readAll(r io.Reader) ([]byte, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read source: %w", err)
	}
	if len(b) == 0 {
		return nil, fmt.Errorf("source is empty")
	}
	return b, nil
}
