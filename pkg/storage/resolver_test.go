package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/airq/pkg/provider"
)

func TestResolver_FileObjectRoundTrip(t *testing.T) {
	dir := t.TempDir()
	r := NewResolver(Config{RateLimit: 100}, nil)
	defer func() { _ = r.Close() }()

	loc, err := ParseLocation(filepath.Join(dir, "clean", "run_history_clean.csv"))
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(loc.Path), 0o755))

	ctx := context.Background()
	st, key, err := r.Object(ctx, loc)
	require.NoError(t, err)
	assert.Equal(t, "run_history_clean.csv", key)

	body := "a,b\n1,2\n"
	require.NoError(t, st.Write(ctx, key, []byte(body)))

	raw, err := os.ReadFile(loc.Path)
	require.NoError(t, err)
	assert.Equal(t, body, string(raw))

	rc, err := st.Open(ctx, key)
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, body, string(got))

	_, err = st.Open(ctx, "absent.csv")
	assert.True(t, provider.IsNotFound(err))
}

func TestResolver_RootListsRelativeKeys(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "in"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "in", "a.csv"), []byte("x"), 0o644))

	r := NewResolver(Config{}, nil)
	st, prefix, err := r.Root(context.Background(), Location{Scheme: provider.SchemeFile, Path: dir})
	require.NoError(t, err)
	assert.Empty(t, prefix)

	keys, err := provider.Keys(context.Background(), st, prefix)
	require.NoError(t, err)
	assert.Equal(t, []string{"in/a.csv"}, keys)
}

func TestResolver_UnsupportedScheme(t *testing.T) {
	r := NewResolver(Config{}, nil)
	_, _, err := r.Root(context.Background(), Location{Scheme: "gcs", Path: "x"})
	assert.ErrorIs(t, err, ErrUnsupportedScheme)
}

func TestResolver_S3BucketsAreCached(t *testing.T) {
	r := NewResolver(Config{S3: S3Options{Region: "us-east-1", Endpoint: "http://localhost:9000", ForcePathStyle: true}}, nil)
	ctx := context.Background()

	loc, err := ParseLocation("s3://air/clean/run_clean.csv")
	require.NoError(t, err)
	_, key, err := r.Object(ctx, loc)
	require.NoError(t, err)
	assert.Equal(t, "clean/run_clean.csv", key)

	_, prefix, err := r.Root(ctx, Location{Scheme: provider.SchemeS3, Bucket: "air", Path: "raw/"})
	require.NoError(t, err)
	assert.Equal(t, "raw/", prefix)

	assert.Len(t, r.buckets, 1)
	require.NoError(t, r.Close())
	assert.Empty(t, r.buckets)
}
