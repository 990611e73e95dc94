package provider_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/airq/pkg/provider"
	"github.com/3leaps/airq/pkg/provider/file"
)

func newDirBucket(t *testing.T) provider.Bucket {
	t.Helper()
	b, err := file.New(t.TempDir())
	require.NoError(t, err)
	return b
}

func TestLimited_PassesThrough(t *testing.T) {
	ctx := context.Background()
	b := provider.Limit(newDirBucket(t), nil)

	require.NoError(t, b.Write(ctx, "out/k.csv", []byte("x")))

	rc, err := b.Open(ctx, "out/k.csv")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, "x", string(data))

	obj, ok, err := provider.First(ctx, b, "out/")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, provider.Object{Key: "out/k.csv", Size: 1}, obj)
}

func TestLimited_RespectsContext(t *testing.T) {
	limiter := provider.NewLimiter(0.001)
	require.NotNil(t, limiter)
	require.True(t, limiter.Allow(), "consume the single burst token")

	b := provider.Limit(newDirBucket(t), limiter)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := provider.Keys(ctx, b, "")
	assert.Error(t, err)
	assert.Error(t, b.Write(ctx, "k", nil))
}

func TestNewLimiter(t *testing.T) {
	assert.Nil(t, provider.NewLimiter(0))
	assert.Nil(t, provider.NewLimiter(-1))
	assert.NotNil(t, provider.NewLimiter(5))
}

func TestOpError(t *testing.T) {
	err := &provider.OpError{Op: "open", Scheme: provider.SchemeS3, Bucket: "b", Key: "raw/a.csv", Err: provider.ErrNotFound}
	assert.Equal(t, "s3 open b/raw/a.csv: object not found", err.Error())
	assert.True(t, provider.IsNotFound(err))
	assert.False(t, provider.IsRetryable(err))

	err = &provider.OpError{Op: "walk", Scheme: provider.SchemeFile, Err: provider.ErrThrottled}
	assert.Equal(t, "file walk: request throttled", err.Error())
	assert.True(t, provider.IsRetryable(err))
}
