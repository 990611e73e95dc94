package jobregistry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

const sqliteDriver = "sqlite"

const jobsSchema = `
CREATE TABLE IF NOT EXISTS jobs (
	job_id     TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	record     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS jobs_created_at ON jobs(created_at DESC);
`

// SQLStore persists JobRecords in a SQLite database.
//
// The full record is stored as JSON next to the columns used for lookup and
// ordering. Transitions run in a transaction so the state check and the
// update are atomic.
type SQLStore struct {
	db *sql.DB
}

var _ Store = (*SQLStore)(nil)

// OpenSQLStore opens (and creates if needed) the job database at path.
// ":memory:" opens a private in-memory database.
func OpenSQLStore(ctx context.Context, path string) (*SQLStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("job database path is required")
	}

	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(filepath.Clean(path)), 0755); err != nil {
			return nil, fmt.Errorf("create job database directory: %w", err)
		}
		dsn = "file:" + filepath.Clean(path)
	}

	db, err := sql.Open(sqliteDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open job database: %w", err)
	}
	// One connection serializes writers and keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping job database: %w", err)
	}
	if path != ":memory:" {
		var mode string
		if err := db.QueryRowContext(ctx, "PRAGMA journal_mode=WAL").Scan(&mode); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
		var timeout int
		if err := db.QueryRowContext(ctx, "PRAGMA busy_timeout=5000").Scan(&timeout); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set busy timeout: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, jobsSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create jobs schema: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Ping reports whether the database answers.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Create inserts rec. It fails with ErrExists if the job ID is taken.
func (s *SQLStore) Create(ctx context.Context, rec *JobRecord) error {
	if err := validateNew(rec); err != nil {
		return err
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal job record: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (job_id, status, created_at, record) VALUES (?, ?, ?, ?) ON CONFLICT(job_id) DO NOTHING`,
		rec.JobID, string(rec.Status), jobSortTime(*rec).UnixNano(), string(body))
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrExists, rec.JobID)
	}
	return nil
}

// Get returns the record for jobID.
func (s *SQLStore) Get(ctx context.Context, jobID string) (*JobRecord, error) {
	return getRecord(ctx, s.db, jobID)
}

// List returns every record, newest first.
func (s *SQLStore) List(ctx context.Context) ([]JobRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT record FROM jobs ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]JobRecord, 0)
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		var rec JobRecord
		if err := json.Unmarshal([]byte(body), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	sortNewestFirst(out)
	return out, nil
}

// Transition moves jobID from one state to next inside a transaction.
func (s *SQLStore) Transition(ctx context.Context, jobID string, from, next JobState, mutate func(*JobRecord)) (*JobRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transition: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	cur, err := getRecord(ctx, tx, jobID)
	if err != nil {
		return nil, err
	}
	updated, err := applyTransition(cur, from, next, mutate)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(updated)
	if err != nil {
		return nil, fmt.Errorf("marshal job record: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status = ?, record = ? WHERE job_id = ? AND status = ?`,
		string(updated.Status), string(body), jobID, string(from)); err != nil {
		return nil, fmt.Errorf("update job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transition: %w", err)
	}
	return updated.Clone(), nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getRecord(ctx context.Context, q queryRower, jobID string) (*JobRecord, error) {
	var body string
	err := q.QueryRowContext(ctx, `SELECT record FROM jobs WHERE job_id = ?`, jobID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("read job: %w", err)
	}
	var rec JobRecord
	if err := json.Unmarshal([]byte(body), &rec); err != nil {
		return nil, fmt.Errorf("parse job record: %w", err)
	}
	return &rec, nil
}
