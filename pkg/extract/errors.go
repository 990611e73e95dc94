package extract

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/3leaps/airq/pkg/provider"
	"github.com/3leaps/airq/pkg/table"
)

// ErrorKind classifies an extraction failure.
type ErrorKind string

const (
	// KindNotFound means the source could not be opened.
	KindNotFound ErrorKind = "not_found"

	// KindParseFailure means the source was read but its content is malformed.
	KindParseFailure ErrorKind = "parse_failure"
)

// ExtractionError is fatal to a job: no transform runs after it.
type ExtractionError struct {
	Dataset table.Dataset
	Source  string
	Kind    ErrorKind
	Err     error
}

func (e *ExtractionError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("extract %s source %q: %s: %v", e.Dataset, e.Source, e.Kind, e.Err)
	}
	return fmt.Sprintf("extract %s source: %s: %v", e.Dataset, e.Kind, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is an ExtractionError of kind NotFound.
func IsNotFound(err error) bool {
	var ee *ExtractionError
	return errors.As(err, &ee) && ee.Kind == KindNotFound
}

// IsParseFailure reports whether err is an ExtractionError of kind ParseFailure.
func IsParseFailure(err error) bool {
	var ee *ExtractionError
	return errors.As(err, &ee) && ee.Kind == KindParseFailure
}

func openError(src Source, err error) error {
	if errors.Is(err, fs.ErrNotExist) || provider.IsNotFound(err) {
		err = fmt.Errorf("source is missing: %w", err)
	}
	return &ExtractionError{Dataset: src.Dataset, Source: src.Name, Kind: KindNotFound, Err: err}
}

func parseError(src Source, err error) error {
	return &ExtractionError{Dataset: src.Dataset, Source: src.Name, Kind: KindParseFailure, Err: err}
}
