package load

import (
	"fmt"

	"github.com/3leaps/airq/pkg/table"
)

// LoadError reports an artifact that could not be persisted.
//
// Artifacts written before the failure are left in place.
type LoadError struct {
	Dataset  table.Dataset
	Location string
	Written  []string
	Err      error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s artifact %s: %v", e.Dataset, e.Location, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }
