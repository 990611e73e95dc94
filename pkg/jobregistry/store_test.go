package jobregistry

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/airq/pkg/load"
	"github.com/3leaps/airq/pkg/pipeline"
)

func stores(t *testing.T) map[string]Store {
	db, err := OpenSQLStore(context.Background(), filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"file":   NewFileStore(filepath.Join(t.TempDir(), "jobs")),
		"sqlite": db,
	}
}

func newRecord(id string, created time.Time) *JobRecord {
	return &JobRecord{
		JobID:              id,
		Status:             JobStateSubmitted,
		SubmittedFileNames: SubmittedFiles{History: "h.csv", Measures: "m.xlsx", Indicators: "j.json"},
		CreatedAt:          created,
	}
}

func TestJobState_CanTransition(t *testing.T) {
	tests := []struct {
		from, to JobState
		want     bool
	}{
		{JobStateSubmitted, JobStateProcessing, true},
		{JobStateSubmitted, JobStateFailedCritical, true},
		{JobStateSubmitted, JobStateCompleted, false},
		{JobStateProcessing, JobStateCompleted, true},
		{JobStateProcessing, JobStateFailed, true},
		{JobStateProcessing, JobStateFailedCritical, true},
		{JobStateProcessing, JobStateSubmitted, false},
		{JobStateCompleted, JobStateProcessing, false},
		{JobStateFailed, JobStateCompleted, false},
		{JobStateFailedCritical, JobStateFailed, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestStore_CreateGetList(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			t1 := time.Date(2026, 1, 19, 12, 0, 0, 0, time.UTC)
			t2 := t1.Add(time.Hour)

			require.NoError(t, s.Create(ctx, newRecord("job-1", t1)))
			require.NoError(t, s.Create(ctx, newRecord("job-2", t2)))
			assert.ErrorIs(t, s.Create(ctx, newRecord("job-1", t1)), ErrExists)

			got, err := s.Get(ctx, "job-1")
			require.NoError(t, err)
			assert.Equal(t, JobStateSubmitted, got.Status)
			assert.Equal(t, "m.xlsx", got.SubmittedFileNames.Measures)

			_, err = s.Get(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			list, err := s.List(ctx)
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, "job-2", list[0].JobID, "newest first")
		})
	}
}

func TestStore_CreateRequiresSubmitted(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			rec := newRecord("job-1", time.Now())
			rec.Status = JobStateCompleted
			assert.ErrorIs(t, s.Create(context.Background(), rec), ErrInvalidTransition)
		})
	}
}

func TestStore_TransitionLifecycle(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Create(ctx, newRecord("job-1", time.Now().UTC())))

			_, err := s.Transition(ctx, "job-1", JobStateSubmitted, JobStateProcessing, nil)
			require.NoError(t, err)

			_, err = s.Transition(ctx, "job-1", JobStateSubmitted, JobStateProcessing, nil)
			assert.ErrorIs(t, err, ErrConflict, "expected state no longer matches")

			_, err = s.Transition(ctx, "job-1", JobStateProcessing, JobStateSubmitted, nil)
			assert.ErrorIs(t, err, ErrInvalidTransition)

			rec, err := s.Transition(ctx, "job-1", JobStateProcessing, JobStateCompleted, func(r *JobRecord) {
				r.Result = &load.Artifacts{History: "a", Measures: "b", Indicators: "c"}
				r.Statistics = &pipeline.Statistics{HistoryRows: 95}
				r.Status = JobStateFailed
			})
			require.NoError(t, err)
			assert.Equal(t, JobStateCompleted, rec.Status, "mutate cannot override the target state")

			_, err = s.Transition(ctx, "job-1", JobStateCompleted, JobStateFailed, nil)
			assert.ErrorIs(t, err, ErrInvalidTransition, "terminal states are final")

			got, err := s.Get(ctx, "job-1")
			require.NoError(t, err)
			assert.Equal(t, JobStateCompleted, got.Status)
			assert.Equal(t, 95, got.Statistics.HistoryRows)
			assert.Equal(t, "c", got.Result.Indicators)

			_, err = s.Transition(ctx, "nope", JobStateSubmitted, JobStateProcessing, nil)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_TransitionCompareAndSwap(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Create(ctx, newRecord("job-1", time.Now().UTC())))

			const racers = 8
			var wg sync.WaitGroup
			var mu sync.Mutex
			wins := 0
			for i := 0; i < racers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, err := s.Transition(ctx, "job-1", JobStateSubmitted, JobStateProcessing, nil); err == nil {
						mu.Lock()
						wins++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, 1, wins)
		})
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newRecord("job-1", time.Now())))

	got, err := s.Get(ctx, "job-1")
	require.NoError(t, err)
	got.Status = JobStateCompleted
	got.Warnings = append(got.Warnings, "x")

	again, err := s.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, JobStateSubmitted, again.Status)
	assert.Empty(t, again.Warnings)
}

func TestFileStore_Layout(t *testing.T) {
	root := t.TempDir()
	s := NewFileStore(root)
	require.NoError(t, s.Create(context.Background(), newRecord("job-1", time.Now())))

	_, err := os.Stat(filepath.Join(root, "job-1", "job.json"))
	require.NoError(t, err)

	require.NoError(t, os.MkdirAll(filepath.Join(root, "broken"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "broken", "job.json"), []byte("  "), 0o644))

	list, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 1, "unreadable records are skipped")

	_, err = s.Get(context.Background(), "../job-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStaging_Put(t *testing.T) {
	root := t.TempDir()
	st := NewStaging(root)

	path, err := st.Put("job-1", "history", "../../etc/history.csv", strings.NewReader("a,b\n"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "job-1", "history", "history.csv"), path)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "a,b\n", string(b))

	_, err = st.Put("job-1", "history", "history.csv", strings.NewReader("again"))
	assert.Error(t, err, "one file per slot")

	_, err = st.Put("job-1", "history", "", strings.NewReader("x"))
	assert.Error(t, err)
	_, err = st.Put("job-1", "../escape", "x.csv", strings.NewReader("x"))
	assert.Error(t, err)

	require.NoError(t, st.Remove("job-1"))
	_, err = os.Stat(st.JobDir("job-1"))
	assert.True(t, os.IsNotExist(err))
}

func TestStaging_SameFilenameInEachSlot(t *testing.T) {
	st := NewStaging(t.TempDir())

	seen := map[string]string{}
	for _, slot := range []string{"history", "measures", "json"} {
		path, err := st.Put("job-1", slot, "data", strings.NewReader(slot))
		require.NoError(t, err, slot)
		seen[slot] = path
	}
	assert.Len(t, seen, 3)

	for slot, path := range seen {
		b, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, slot, string(b))
	}
}

func TestSQLStore_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "jobs.db")

	db, err := OpenSQLStore(ctx, path)
	require.NoError(t, err)
	require.NoError(t, db.Create(ctx, newRecord("job-1", time.Now().UTC())))
	_, err = db.Transition(ctx, "job-1", JobStateSubmitted, JobStateProcessing, func(r *JobRecord) {
		r.Warnings = []string{"skipped"}
	})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = OpenSQLStore(ctx, path)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	require.NoError(t, db.Ping(ctx))

	got, err := db.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, JobStateProcessing, got.Status)
	assert.Equal(t, []string{"skipped"}, got.Warnings)
}

func TestOpenSQLStore_Memory(t *testing.T) {
	db, err := OpenSQLStore(context.Background(), ":memory:")
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	list, err := db.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = OpenSQLStore(context.Background(), " ")
	assert.Error(t, err)
}
