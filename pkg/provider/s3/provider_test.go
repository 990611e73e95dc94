package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/airq/pkg/provider"
)

type fakeAPIError struct{ code string }

func (e *fakeAPIError) Error() string                 { return "api error " + e.code }
func (e *fakeAPIError) ErrorCode() string             { return e.code }
func (e *fakeAPIError) ErrorMessage() string          { return e.code }
func (e *fakeAPIError) ErrorFault() smithy.ErrorFault { return smithy.FaultUnknown }

// fakeClient is an in-memory bucket that pages listings two keys at a time.
type fakeClient struct {
	objects map[string][]byte
	putErr  error
	puts    []*s3.PutObjectInput
}

func (f *fakeClient) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	start := 0
	if tok := aws.ToString(in.ContinuationToken); tok != "" {
		start, _ = strconv.Atoi(tok)
	}
	end := min(start+2, len(keys))

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(keys))}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k), Size: aws.Int64(int64(len(f.objects[k])))})
	}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(strconv.Itoa(end))
	}
	return out, nil
}

func (f *fakeClient) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeClient) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = data
	f.puts = append(f.puts, in)
	return &s3.PutObjectOutput{}, nil
}

func newFakeBucket(objects map[string][]byte) (*Bucket, *fakeClient) {
	c := &fakeClient{objects: objects}
	return &Bucket{client: c, name: "air"}, c
}

func TestBucket_WalkPages(t *testing.T) {
	b, _ := newFakeBucket(map[string][]byte{
		"raw/a.csv":  []byte("1"),
		"raw/b.xlsx": []byte("22"),
		"raw/c.json": []byte("333"),
		"other/x":    nil,
	})
	ctx := context.Background()

	var got []provider.Object
	require.NoError(t, b.Walk(ctx, "raw/", func(o provider.Object) error {
		got = append(got, o)
		return nil
	}))
	assert.Equal(t, []provider.Object{
		{Key: "raw/a.csv", Size: 1},
		{Key: "raw/b.xlsx", Size: 2},
		{Key: "raw/c.json", Size: 3},
	}, got, "walk crosses page boundaries")

	first, ok, err := provider.First(ctx, b, "raw/")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "raw/a.csv", first.Key)
}

func TestBucket_OpenWrite(t *testing.T) {
	b, c := newFakeBucket(map[string][]byte{})
	ctx := context.Background()

	require.NoError(t, b.Write(ctx, "clean/x_history_clean.csv", []byte("a\n1\n")))
	require.Len(t, c.puts, 1)
	assert.Equal(t, int64(4), aws.ToInt64(c.puts[0].ContentLength))
	assert.Equal(t, "text/csv; charset=utf-8", aws.ToString(c.puts[0].ContentType))

	rc, err := b.Open(ctx, "clean/x_history_clean.csv")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, "a\n1\n", string(data))

	_, err = b.Open(ctx, "missing.csv")
	assert.True(t, provider.IsNotFound(err))
	var opErr *provider.OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "air", opErr.Bucket)
	assert.Equal(t, "open", opErr.Op)
}

func TestBucket_WriteClassifiesErrors(t *testing.T) {
	b, c := newFakeBucket(map[string][]byte{})
	c.putErr = &fakeAPIError{code: "AccessDenied"}

	err := b.Write(context.Background(), "k.csv", nil)
	assert.ErrorIs(t, err, provider.ErrAccessDenied)
	var apiErr smithy.APIError
	assert.ErrorAs(t, err, &apiErr, "the SDK error stays reachable")
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"no such key type", &types.NoSuchKey{}, provider.ErrNotFound},
		{"not found type", &types.NotFound{}, provider.ErrNotFound},
		{"no such bucket type", &types.NoSuchBucket{}, provider.ErrBucketNotFound},
		{"access denied", &fakeAPIError{"AccessDenied"}, provider.ErrAccessDenied},
		{"bad key id", &fakeAPIError{"InvalidAccessKeyId"}, provider.ErrInvalidCredentials},
		{"slow down", &fakeAPIError{"SlowDown"}, provider.ErrThrottled},
		{"unavailable", &fakeAPIError{"ServiceUnavailable"}, provider.ErrUnavailable},
		{"wrapped", fmt.Errorf("op: %w", &fakeAPIError{"NoSuchBucket"}), provider.ErrBucketNotFound},
		{"unknown code", &fakeAPIError{"Teapot"}, nil},
		{"plain", errors.New("dial tcp: refused"), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.err))
		})
	}
}

func TestNew(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.ErrorContains(t, err, "bucket name is required")

	b, err := New(context.Background(), Config{Bucket: "air", Endpoint: "http://localhost:9000", ForcePathStyle: true})
	require.NoError(t, err)
	assert.Equal(t, "air", b.Name())
	assert.NoError(t, b.Close())
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "text/csv; charset=utf-8", contentType("a/B_CLEAN.CSV"))
	assert.Equal(t, "application/octet-stream", contentType("a/b.xlsx"))
}
