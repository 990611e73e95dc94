package jobregistry

import (
	"errors"
	"fmt"

	"github.com/3leaps/airq/pkg/extract"
	"github.com/3leaps/airq/pkg/load"
)

// CriticalError is an unclassified fault during job orchestration, including
// recovered panics.
type CriticalError struct {
	JobID string
	Err   error

	// Panic holds the recovered value when the fault was a panic.
	Panic any
	Stack []byte
}

func (e *CriticalError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("critical fault in job %s: panic: %v", e.JobID, e.Panic)
	}
	return fmt.Sprintf("critical fault in job %s: %v", e.JobID, e.Err)
}

func (e *CriticalError) Unwrap() error { return e.Err }

// ErrShuttingDown is returned by Submit after Shutdown has begun.
var ErrShuttingDown = errors.New("executor is shutting down")

// classify maps a pipeline error to the terminal state it produces.
// Structured extraction and load errors fail the job; anything else is
// critical.
func classify(err error) JobState {
	var ee *extract.ExtractionError
	var le *load.LoadError
	if errors.As(err, &ee) || errors.As(err, &le) {
		return JobStateFailed
	}
	return JobStateFailedCritical
}
