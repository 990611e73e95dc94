// Package extract implements the Extraction stage: it turns tagged byte
// sources into in-memory tables.
//
// Three formats are supported: delimited text in a legacy single-byte
// encoding, spreadsheet workbooks, and indicator JSON documents carrying a
// column descriptor. Any failure is returned as an *ExtractionError.
package extract

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/3leaps/airq/pkg/table"
)

// Format is the declared encoding of a source.
type Format string

const (
	FormatDelimited Format = "delimited"
	FormatWorkbook  Format = "workbook"
	FormatDocument  Format = "document"
)

// FormatFor returns the format each dataset is delivered in.
func FormatFor(d table.Dataset) Format {
	switch d {
	case table.Measures:
		return FormatWorkbook
	case table.Indicators:
		return FormatDocument
	default:
		return FormatDelimited
	}
}

// Opener yields a fresh stream over the source bytes.
type Opener func(ctx context.Context) (io.ReadCloser, error)

// Source is one byte source tagged with its dataset and format.
type Source struct {
	Dataset table.Dataset
	Format  Format

	// Name identifies the source in errors and logs (file name or URI).
	Name string

	Open Opener
}

// FileSource returns a Source backed by a local file.
func FileSource(d table.Dataset, path string) Source {
	return Source{
		Dataset: d,
		Format:  FormatFor(d),
		Name:    path,
		Open: func(ctx context.Context) (io.ReadCloser, error) {
			return os.Open(path)
		},
	}
}

// ObjectOpener streams objects by key. provider.Bucket satisfies it.
type ObjectOpener interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// ObjectSource returns a Source read from key in an object store.
func ObjectSource(d table.Dataset, opener ObjectOpener, key, name string) Source {
	return Source{
		Dataset: d,
		Format:  FormatFor(d),
		Name:    name,
		Open: func(ctx context.Context) (io.ReadCloser, error) {
			return opener.Open(ctx, key)
		},
	}
}

// Sources bundles the three inputs of one job.
type Sources struct {
	History    Source
	Measures   Source
	Indicators Source
}

// Each returns the sources in processing order.
func (s Sources) Each() []Source {
	return []Source{s.History, s.Measures, s.Indicators}
}

// Validate checks that every source is tagged and openable.
func (s Sources) Validate() error {
	for i, src := range s.Each() {
		want := table.Datasets[i]
		if src.Dataset != want {
			return fmt.Errorf("source %d is tagged %q, want %q", i, src.Dataset, want)
		}
		if src.Open == nil {
			return fmt.Errorf("%s source has no opener", want)
		}
	}
	return nil
}
