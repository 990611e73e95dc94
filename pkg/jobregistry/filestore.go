package jobregistry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const recordFile = "job.json"

// FileStore keeps one JSON document per job under <root>/<job_id>/job.json.
//
// Records are replaced by rename so a reader never sees half a file.
// Transitions are serialized within the process only.
type FileStore struct {
	root string
	mu   sync.Mutex
}

var _ Store = (*FileStore)(nil)

// NewFileStore returns a store rooted at dir. The directory is created on
// first write.
func NewFileStore(dir string) *FileStore {
	return &FileStore{root: strings.TrimSpace(dir)}
}

func (s *FileStore) recordPath(jobID string) (string, error) {
	id := strings.TrimSpace(jobID)
	if id == "" || !filepath.IsLocal(id) || strings.ContainsRune(id, filepath.Separator) {
		return "", fmt.Errorf("%w: %q", ErrNotFound, jobID)
	}
	return filepath.Join(s.root, id, recordFile), nil
}

// Create writes rec as a new job. It fails with ErrExists if the job ID is taken.
func (s *FileStore) Create(ctx context.Context, rec *JobRecord) error {
	if err := validateNew(rec); err != nil {
		return err
	}
	path, err := s.recordPath(rec.JobID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrExists, rec.JobID)
	}
	return s.save(path, rec)
}

// Get reads the record for jobID.
func (s *FileStore) Get(ctx context.Context, jobID string) (*JobRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.load(jobID)
}

// List returns every record, newest first. It skips directories whose record cannot be decoded.
func (s *FileStore) List(ctx context.Context) ([]JobRecord, error) {
	entries, err := os.ReadDir(s.root)
	if errors.Is(err, fs.ErrNotExist) {
		return []JobRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs in %s: %w", s.root, err)
	}

	recs := make([]JobRecord, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !e.IsDir() {
			continue
		}
		if r, err := s.load(e.Name()); err == nil {
			recs = append(recs, *r)
		}
	}
	sortNewestFirst(recs)
	return recs, nil
}

// Transition moves jobID from one state to next and rewrites its record.
func (s *FileStore) Transition(ctx context.Context, jobID string, from, next JobState, mutate func(*JobRecord)) (*JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cur, err := s.load(jobID)
	if err != nil {
		return nil, err
	}
	out, err := applyTransition(cur, from, next, mutate)
	if err != nil {
		return nil, err
	}
	path, _ := s.recordPath(out.JobID)
	if err := s.save(path, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *FileStore) load(jobID string) (*JobRecord, error) {
	path, err := s.recordPath(jobID)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("read job %s: %w", jobID, err)
	}

	var rec JobRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", jobID, err)
	}
	return &rec, nil
}

func (s *FileStore) save(path string, rec *JobRecord) error {
	if s.root == "" {
		return errors.New("job store directory is not set")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	body, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode job %s: %w", rec.JobID, err)
	}

	f, err := os.CreateTemp(dir, "."+recordFile+".*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	_, werr := f.Write(append(body, '\n'))
	cerr := f.Close()
	if err := errors.Join(werr, cerr); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write job %s: %w", rec.JobID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("commit job %s: %w", rec.JobID, err)
	}
	return nil
}
