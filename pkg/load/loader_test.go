package load

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/airq/pkg/provider"
	"github.com/3leaps/airq/pkg/storage"
	"github.com/3leaps/airq/pkg/table"
)

func TestArtifactNaming(t *testing.T) {
	tests := []struct {
		output string
		want   Artifacts
	}{
		{
			output: "out/run_clean.csv",
			want:   Artifacts{History: "out/run_history_clean.csv", Measures: "out/run_measures_clean.csv", Indicators: "out/run_json_clean.csv"},
		},
		{
			output: "out/run.csv",
			want:   Artifacts{History: "out/run_history_clean.csv", Measures: "out/run_measures_clean.csv", Indicators: "out/run_json_clean.csv"},
		},
		{
			output: "s3://bucket/clean/job",
			want:   Artifacts{History: "s3://bucket/clean/job_history_clean.csv", Measures: "s3://bucket/clean/job_measures_clean.csv", Indicators: "s3://bucket/clean/job_json_clean.csv"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.output, func(t *testing.T) {
			assert.Equal(t, tt.want, ArtifactsFor(tt.output))
			assert.Equal(t, ArtifactsFor(tt.output), ArtifactsFor(tt.output))
		})
	}
}

func cleanedTables(t *testing.T) map[table.Dataset]*table.Table {
	t.Helper()
	hist := table.New("DATETIME_LOCAL", "AQI", "CITY_NAME")
	hist.Rows = append(hist.Rows,
		table.Row{table.Timestamp(time.Date(2020, 1, 2, 3, 0, 0, 0, time.UTC)), table.Number(42), table.Text("mayagüez")},
		table.Row{table.Timestamp(time.Date(2020, 1, 3, 3, 0, 0, 0, time.UTC)), table.Number(7), table.Text("phoenix, az")},
	)
	meas := table.New("MeasureName", "Value")
	meas.Rows = append(meas.Rows, table.Row{table.Text("pm2.5"), table.Number(73)})
	ind := table.New("unique_id", "data_value")
	ind.Rows = append(ind.Rows, table.Row{table.Text("1"), table.Missing()})
	return map[table.Dataset]*table.Table{table.History: hist, table.Measures: meas, table.Indicators: ind}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	recs, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return recs
}

func TestLoader_WritesArtifacts(t *testing.T) {
	dir := t.TempDir()
	l := New(storage.NewResolver(storage.Config{}, nil), nil)
	output := filepath.Join(dir, "job_clean.csv")

	got, err := l.Load(context.Background(), cleanedTables(t), output)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "job_history_clean.csv"), got.History)

	hist := readCSV(t, got.History)
	require.Len(t, hist, 3)
	assert.Equal(t, []string{"DATETIME_LOCAL", "AQI", "CITY_NAME"}, hist[0])
	assert.Equal(t, []string{"2020-01-02 03:00:00", "42", "mayagüez"}, hist[1])
	assert.Equal(t, "phoenix, az", hist[2][2])

	ind := readCSV(t, got.Indicators)
	assert.Equal(t, []string{"1", ""}, ind[1])
}

func TestLoader_Idempotent(t *testing.T) {
	dir := t.TempDir()
	l := New(storage.NewResolver(storage.Config{}, nil), nil)
	output := filepath.Join(dir, "job_clean.csv")

	first, err := l.Load(context.Background(), cleanedTables(t), output)
	require.NoError(t, err)
	second, err := l.Load(context.Background(), cleanedTables(t), output)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, readCSV(t, second.History), 3)
	assert.Len(t, readCSV(t, second.Measures), 2)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

type failingResolver struct {
	inner *storage.Resolver
	fail  string
}

func (f *failingResolver) Object(ctx context.Context, loc storage.Location) (provider.Bucket, string, error) {
	if loc.Base() == f.fail {
		return nil, "", errors.New("disk full")
	}
	return f.inner.Object(ctx, loc)
}

func TestLoader_FailureKeepsEarlierArtifacts(t *testing.T) {
	dir := t.TempDir()
	r := &failingResolver{inner: storage.NewResolver(storage.Config{}, nil), fail: "job_measures_clean.csv"}
	l := New(r, nil)

	_, err := l.Load(context.Background(), cleanedTables(t), filepath.Join(dir, "job_clean.csv"))
	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, table.Measures, loadErr.Dataset)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, []string{filepath.Join(dir, "job_history_clean.csv")}, loadErr.Written)

	_, statErr := os.Stat(filepath.Join(dir, "job_history_clean.csv"))
	assert.NoError(t, statErr)
	_, statErr = os.Stat(filepath.Join(dir, "job_json_clean.csv"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestLoader_MissingTable(t *testing.T) {
	l := New(storage.NewResolver(storage.Config{}, nil), nil)
	tables := cleanedTables(t)
	delete(tables, table.Indicators)

	_, err := l.Load(context.Background(), tables, filepath.Join(t.TempDir(), "x_clean.csv"))
	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, table.Indicators, loadErr.Dataset)
}

// flakyBucket fails the first n writes with a throttling error.
type flakyBucket struct {
	provider.Bucket
	n      int
	writes int
}

func (f *flakyBucket) Write(ctx context.Context, key string, data []byte) error {
	f.writes++
	if f.writes <= f.n {
		return &provider.OpError{Op: "write", Scheme: provider.SchemeS3, Key: key, Err: provider.ErrThrottled}
	}
	return f.Bucket.Write(ctx, key, data)
}

type flakyResolver struct {
	inner  *storage.Resolver
	bucket *flakyBucket
}

func (f *flakyResolver) Object(ctx context.Context, loc storage.Location) (provider.Bucket, string, error) {
	b, key, err := f.inner.Object(ctx, loc)
	if err != nil {
		return nil, "", err
	}
	f.bucket.Bucket = b
	return f.bucket, key, nil
}

func TestLoader_RetriesThrottledWrites(t *testing.T) {
	dir := t.TempDir()
	r := &flakyResolver{inner: storage.NewResolver(storage.Config{}, nil), bucket: &flakyBucket{n: 2}}
	l := New(r, nil)
	l.backoff = time.Millisecond

	got, err := l.Load(context.Background(), cleanedTables(t), filepath.Join(dir, "job_clean.csv"))
	require.NoError(t, err)
	assert.Equal(t, 5, r.bucket.writes, "two retries then one write per artifact")
	assert.Len(t, readCSV(t, got.History), 3, "header plus two rows")
}

func TestLoader_GivesUpAfterAttempts(t *testing.T) {
	dir := t.TempDir()
	r := &flakyResolver{inner: storage.NewResolver(storage.Config{}, nil), bucket: &flakyBucket{n: 100}}
	l := New(r, nil)
	l.backoff = time.Millisecond

	_, err := l.Load(context.Background(), cleanedTables(t), filepath.Join(dir, "job_clean.csv"))
	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, table.History, loadErr.Dataset)
	assert.ErrorIs(t, err, provider.ErrThrottled)
	assert.Equal(t, writeAttempts, r.bucket.writes)
}
