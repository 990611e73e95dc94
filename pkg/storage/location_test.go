package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/airq/pkg/provider"
)

func TestParseLocation(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    Location
		wantErr error
	}{
		{name: "plain path", in: "data/out/x_clean.csv", want: Location{Scheme: provider.SchemeFile, Path: filepath.Join("data", "out", "x_clean.csv")}},
		{name: "file uri", in: "file:///tmp/in.csv", want: Location{Scheme: provider.SchemeFile, Path: "/tmp/in.csv"}},
		{name: "s3 key", in: "s3://bucket/clean/x.csv", want: Location{Scheme: provider.SchemeS3, Bucket: "bucket", Path: "clean/x.csv"}},
		{name: "s3 bucket only", in: "s3://bucket", want: Location{Scheme: provider.SchemeS3, Bucket: "bucket"}},
		{name: "S3 upper scheme", in: "S3://bucket/a", want: Location{Scheme: provider.SchemeS3, Bucket: "bucket", Path: "a"}},
		{name: "empty", in: "  ", wantErr: ErrInvalidLocation},
		{name: "missing bucket", in: "s3:///key", wantErr: ErrInvalidLocation},
		{name: "gcs", in: "gs://bucket/key", wantErr: ErrUnsupportedScheme},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLocation(tt.in)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLocation_Navigation(t *testing.T) {
	loc, err := ParseLocation("s3://bucket/clean/run_clean.csv")
	require.NoError(t, err)

	assert.Equal(t, "run_clean.csv", loc.Base())
	assert.Equal(t, "s3://bucket/clean", loc.Dir().String())
	assert.Equal(t, "s3://bucket/clean/run_history_clean.csv", loc.Dir().Join("run_history_clean.csv").String())
	assert.True(t, loc.IsRemote())

	top, err := ParseLocation("s3://bucket/run.csv")
	require.NoError(t, err)
	assert.Equal(t, "", top.Dir().Path)
	assert.Equal(t, "s3://bucket/other.csv", top.Dir().Join("other.csv").String())

	local, err := ParseLocation(filepath.Join("out", "run.csv"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("out", "a.csv"), local.Dir().Join("a.csv").String())
	assert.False(t, local.IsRemote())
}
