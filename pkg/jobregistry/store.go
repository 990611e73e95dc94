package jobregistry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Store errors.
var (
	// ErrNotFound is returned for an unknown job id.
	ErrNotFound = errors.New("job not found")

	// ErrExists is returned when creating a job id that is already present.
	ErrExists = errors.New("job already exists")

	// ErrConflict is returned when a transition's expected state does not
	// match the stored state.
	ErrConflict = errors.New("job state conflict")

	// ErrInvalidTransition is returned for backward transitions or
	// transitions out of a terminal state.
	ErrInvalidTransition = errors.New("invalid job state transition")
)

// Store holds job records.
//
// Readers always receive a private copy. Transition replaces a record
// atomically, so concurrent readers see either the old or the new record in
// full.
type Store interface {
	// Create stores a new record.
	Create(ctx context.Context, rec *JobRecord) error

	// Get returns the record for jobID.
	Get(ctx context.Context, jobID string) (*JobRecord, error)

	// List returns all records, newest first.
	List(ctx context.Context) ([]JobRecord, error)

	// Transition moves jobID from the expected state to next, applying
	// mutate to the record first. mutate may be nil.
	Transition(ctx context.Context, jobID string, from, next JobState, mutate func(*JobRecord)) (*JobRecord, error)
}

// applyTransition validates and builds the replacement record.
func applyTransition(cur *JobRecord, from, next JobState, mutate func(*JobRecord)) (*JobRecord, error) {
	if cur.Status != from {
		return nil, fmt.Errorf("%w: job %s is %s, expected %s", ErrConflict, cur.JobID, cur.Status, from)
	}
	if !from.CanTransition(next) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, next)
	}
	out := cur.Clone()
	if mutate != nil {
		mutate(out)
	}
	out.JobID = cur.JobID
	out.Status = next
	return out, nil
}

func validateNew(rec *JobRecord) error {
	if rec == nil {
		return fmt.Errorf("job record is nil")
	}
	if strings.TrimSpace(rec.JobID) == "" {
		return fmt.Errorf("job_id is required")
	}
	if rec.Status != JobStateSubmitted {
		return fmt.Errorf("%w: new jobs start as %s, got %q", ErrInvalidTransition, JobStateSubmitted, rec.Status)
	}
	return nil
}

func sortNewestFirst(recs []JobRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		return jobSortTime(recs[i]).After(jobSortTime(recs[j]))
	})
}
