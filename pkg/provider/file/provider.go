// Package file serves a local directory as a provider.Bucket.
package file

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/3leaps/airq/pkg/provider"
)

// ErrInvalidKey is returned for keys that would leave the root directory.
var ErrInvalidKey = errors.New("key escapes bucket root")

// Bucket maps slash-separated keys to files under a root directory.
//
// Writes land in a temp file beside the target and are renamed over it, so
// readers never see a partial artifact.
type Bucket struct {
	root string
}

var _ provider.Bucket = (*Bucket)(nil)

func New(root string) (*Bucket, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("file bucket root is required")
	}
	return &Bucket{root: filepath.Clean(root)}, nil
}

func (b *Bucket) Root() string { return b.root }

func (b *Bucket) Close() error { return nil }

func (b *Bucket) path(key string) (string, error) {
	rel := filepath.FromSlash(strings.TrimPrefix(strings.TrimSpace(key), "/"))
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(b.root, rel), nil
}

func (b *Bucket) fail(op, key string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		err = provider.ErrNotFound
	case errors.Is(err, fs.ErrPermission):
		err = provider.ErrAccessDenied
	}
	return &provider.OpError{Op: op, Scheme: provider.SchemeFile, Bucket: b.root, Key: key, Err: err}
}

// Walk visits regular files under prefix. Keys are collected before fn runs
// so fn may write into the bucket.
func (b *Bucket) Walk(ctx context.Context, prefix string, fn func(provider.Object) error) error {
	prefix = strings.TrimPrefix(prefix, "/")
	start := b.root
	if i := strings.LastIndex(prefix, "/"); i >= 0 {
		p, err := b.path(prefix[:i])
		if err != nil {
			return b.fail("walk", prefix, err)
		}
		start = p
	}

	var objects []provider.Object
	err := filepath.WalkDir(start, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == start && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(b.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		objects = append(objects, provider.Object{Key: key, Size: info.Size()})
		return nil
	})
	if err != nil {
		return b.fail("walk", prefix, err)
	}

	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	for _, o := range objects {
		if err := fn(o); err != nil {
			if errors.Is(err, provider.ErrStopWalk) {
				return nil
			}
			return err
		}
	}
	return nil
}

func (b *Bucket) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	p, err := b.path(key)
	if err != nil {
		return nil, b.fail("open", key, err)
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, b.fail("open", key, err)
	}
	if st, err := f.Stat(); err == nil && st.IsDir() {
		_ = f.Close()
		return nil, b.fail("open", key, fs.ErrNotExist)
	}
	return f, nil
}

func (b *Bucket) Write(ctx context.Context, key string, data []byte) error {
	p, err := b.path(key)
	if err != nil {
		return b.fail("write", key, err)
	}
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return b.fail("write", key, err)
	}

	tmp, err := os.CreateTemp(dir, ".airq-write-*")
	if err != nil {
		return b.fail("write", key, err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return b.fail("write", key, err)
	}
	if err := tmp.Close(); err != nil {
		return b.fail("write", key, err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		return b.fail("write", key, err)
	}
	return nil
}
