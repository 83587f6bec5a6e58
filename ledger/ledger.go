// Package ledger keeps a SQLite report of runs and per-job outcomes.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/use-agent/sitegrab/models"
	"github.com/use-agent/sitegrab/progress"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

const schema = `
PRAGMA journal_mode = WAL;
PRAGMA synchronous = NORMAL;
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS runs (
    run_id INTEGER PRIMARY KEY AUTOINCREMENT,
    engine TEXT NOT NULL,
    started_at INTEGER NOT NULL,      -- unix millis
    finished_at INTEGER,
    elapsed_ms INTEGER,
    total INTEGER NOT NULL,
    succeeded INTEGER DEFAULT 0,
    failed INTEGER DEFAULT 0,
    status TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS jobs (
    job_id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id INTEGER NOT NULL,
    url TEXT NOT NULL,
    final_url TEXT,
    ok BOOLEAN NOT NULL,
    error_code TEXT,
    error_message TEXT,
    completed_at INTEGER NOT NULL,
    FOREIGN KEY (run_id) REFERENCES runs(run_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_jobs_run ON jobs(run_id);
CREATE INDEX IF NOT EXISTS idx_jobs_error_code ON jobs(error_code) WHERE ok = 0;
`

// Ledger is a handle to the ledger database.
type Ledger struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Run is one row of the runs table.
type Run struct {
	ID         int64
	Engine     string
	StartedAt  time.Time
	FinishedAt time.Time
	Elapsed    time.Duration
	Total      int
	Succeeded  int
	Failed     int
	Status     string
}

// Job is one row of the jobs table.
type Job struct {
	URL          string
	FinalURL     string
	OK           bool
	ErrorCode    string
	ErrorMessage string
	CompletedAt  time.Time
}

// Open opens or creates the ledger at path. ":memory:" gives a private
// in-memory ledger.
func Open(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	// SQLite has a single writer; one connection also keeps ":memory:"
	// pointing at the same database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close() // Close error less important than schema error
		return nil, fmt.Errorf("failed to initialize ledger schema: %w", err)
	}
	return &Ledger{db: db, path: path, now: time.Now}, nil
}

// Path returns the database path.
func (l *Ledger) Path() string { return l.path }

// Close closes the database.
func (l *Ledger) Close() error { return l.db.Close() }

// BeginRun inserts a running row and returns its id.
func (l *Ledger) BeginRun(ctx context.Context, engine string, total int) (int64, error) {
	res, err := l.db.ExecContext(ctx,
		`INSERT INTO runs (engine, started_at, total, status) VALUES (?, ?, ?, ?)`,
		engine, l.now().UnixMilli(), total, StatusRunning)
	if err != nil {
		return 0, fmt.Errorf("failed to insert run: %w", err)
	}
	return res.LastInsertId()
}

// RecordJob stores the outcome of one job.
func (l *Ledger) RecordJob(ctx context.Context, runID int64, r models.Result) error {
	var finalURL, code, msg sql.NullString
	if r.OK() {
		finalURL = sql.NullString{String: r.Page.URL, Valid: true}
	} else {
		code = sql.NullString{String: models.CodeOf(r.Err), Valid: true}
		if r.Err != nil {
			msg = sql.NullString{String: r.Err.Error(), Valid: true}
		}
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO jobs (run_id, url, final_url, ok, error_code, error_message, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, r.URL, finalURL, r.OK(), code, msg, l.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert job %s: %w", r.URL, err)
	}
	return nil
}

// FinishRun stores the final counters and status of a run.
func (l *Ledger) FinishRun(ctx context.Context, runID int64, s progress.Summary, status string) error {
	finished := s.Finished
	if finished.IsZero() {
		finished = l.now()
	}
	res, err := l.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, elapsed_ms = ?, succeeded = ?, failed = ?, status = ?
		 WHERE run_id = ?`,
		finished.UnixMilli(), s.Elapsed.Milliseconds(), s.Succeeded, s.Failed, status, runID)
	if err != nil {
		return fmt.Errorf("failed to update run %d: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %d not found", runID)
	}
	return nil
}

// Run loads one run.
func (l *Ledger) Run(ctx context.Context, runID int64) (*Run, error) {
	var (
		r                 Run
		started           int64
		finished, elapsed sql.NullInt64
	)
	err := l.db.QueryRowContext(ctx,
		`SELECT run_id, engine, started_at, finished_at, elapsed_ms, total, succeeded, failed, status
		 FROM runs WHERE run_id = ?`, runID).
		Scan(&r.ID, &r.Engine, &started, &finished, &elapsed, &r.Total, &r.Succeeded, &r.Failed, &r.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %d not found", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run %d: %w", runID, err)
	}
	r.StartedAt = time.UnixMilli(started).UTC()
	if finished.Valid {
		r.FinishedAt = time.UnixMilli(finished.Int64).UTC()
	}
	if elapsed.Valid {
		r.Elapsed = time.Duration(elapsed.Int64) * time.Millisecond
	}
	return &r, nil
}

// Jobs lists a run's job outcomes in completion order.
func (l *Ledger) Jobs(ctx context.Context, runID int64) ([]Job, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT url, final_url, ok, error_code, error_message, completed_at
		 FROM jobs WHERE run_id = ? ORDER BY job_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		var (
			j                   Job
			finalURL, code, msg sql.NullString
			completed           int64
		)
		if err := rows.Scan(&j.URL, &finalURL, &j.OK, &code, &msg, &completed); err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		j.FinalURL = finalURL.String
		j.ErrorCode = code.String
		j.ErrorMessage = msg.String
		j.CompletedAt = time.UnixMilli(completed).UTC()
		out = append(out, j)
	}
	return out, rows.Err()
}
