package jobregistry

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Staging stores uploaded inputs under a per-job directory, one
// subdirectory per upload slot so equal filenames never collide:
//
//	<root>/<job_id>/<slot>/<filename>
type Staging struct {
	root string
}

// NewStaging returns a Staging rooted at root.
func NewStaging(root string) *Staging {
	return &Staging{root: strings.TrimSpace(root)}
}

// JobDir is the directory holding every staged input of jobID.
func (s *Staging) JobDir(jobID string) string {
	return filepath.Join(s.root, jobID)
}

// Put copies r into the job's slot directory under the base of filename and
// returns the written path. A slot holds one file.
func (s *Staging) Put(jobID, slot, filename string, r io.Reader) (string, error) {
	if s.root == "" {
		return "", fmt.Errorf("staging root dir is empty")
	}
	if slot == "" || !filepath.IsLocal(slot) || strings.ContainsRune(slot, filepath.Separator) {
		return "", fmt.Errorf("invalid staging slot %q", slot)
	}
	name := filepath.Base(strings.TrimSpace(filename))
	if name == "" || name == "." || name == ".." || name == string(filepath.Separator) {
		return "", fmt.Errorf("invalid upload filename %q", filename)
	}
	dir := filepath.Join(s.JobDir(jobID), slot)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}

	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if err != nil {
		return "", fmt.Errorf("create staged file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("write staged file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close staged file: %w", err)
	}
	return path, nil
}

// Remove deletes the job's staged inputs.
func (s *Staging) Remove(jobID string) error {
	if s.root == "" || strings.TrimSpace(jobID) == "" {
		return nil
	}
	return os.RemoveAll(s.JobDir(jobID))
}
