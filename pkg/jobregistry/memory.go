package jobregistry

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore keeps records in process memory. Records do not survive a
// restart.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*JobRecord
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*JobRecord)}
}

// Create stores a copy of rec. It fails with ErrExists if the job ID is taken.
func (s *MemoryStore) Create(ctx context.Context, rec *JobRecord) error {
	if err := validateNew(rec); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[rec.JobID]; ok {
		return fmt.Errorf("%w: %s", ErrExists, rec.JobID)
	}
	s.jobs[rec.JobID] = rec.Clone()
	return nil
}

// Get returns a copy of the record for jobID.
func (s *MemoryStore) Get(ctx context.Context, jobID string) (*JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	return rec.Clone(), nil
}

// List returns copies of every record, newest first.
func (s *MemoryStore) List(ctx context.Context) ([]JobRecord, error) {
	s.mu.RLock()
	out := make([]JobRecord, 0, len(s.jobs))
	for _, rec := range s.jobs {
		out = append(out, *rec.Clone())
	}
	s.mu.RUnlock()
	sortNewestFirst(out)
	return out, nil
}

// Transition moves jobID from one state to next under the store lock.
func (s *MemoryStore) Transition(ctx context.Context, jobID string, from, next JobState, mutate func(*JobRecord)) (*JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	updated, err := applyTransition(cur, from, next, mutate)
	if err != nil {
		return nil, err
	}
	s.jobs[jobID] = updated
	return updated.Clone(), nil
}
