package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobRun is the persisted state of one logical run of a job. The
// (job_name, dedupe_key) pair identifies the run across process restarts, so
// a re-triggered job resumes instead of starting over.
type JobRun struct {
	ID         uuid.UUID
	JobName    string
	DedupeKey  string
	Status     string // "running", "completed", "failed"
	Attempt    int
	StartedAt  time.Time
	FinishedAt *time.Time
	LastError  string
}

const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// FindRun looks up the run for a (job, dedupe key) pair.
func (s *Store) FindRun(ctx context.Context, jobName, dedupeKey string) (*JobRun, error) {
	query := `
		SELECT id, job_name, dedupe_key, status, attempt, started_at, finished_at, last_error
		FROM job_runs
		WHERE job_name = $1 AND dedupe_key = $2
	`

	var r JobRun
	err := s.db.QueryRowContext(ctx, query, jobName, dedupeKey).Scan(
		&r.ID, &r.JobName, &r.DedupeKey, &r.Status, &r.Attempt,
		&r.StartedAt, &r.FinishedAt, &r.LastError,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find run: %w", err)
	}

	return &r, nil
}

// CreateRun inserts a fresh run row. A concurrent creator loses the race
// cleanly: the existing row is returned instead.
func (s *Store) CreateRun(ctx context.Context, jobName, dedupeKey string) (*JobRun, error) {
	query := `
		INSERT INTO job_runs (id, job_name, dedupe_key, status, attempt)
		VALUES ($1, $2, $3, $4, 1)
		ON CONFLICT (job_name, dedupe_key) DO NOTHING
	`

	id := uuid.New()
	if _, err := s.db.ExecContext(ctx, query, id, jobName, dedupeKey, RunStatusRunning); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	return s.FindRun(ctx, jobName, dedupeKey)
}

// MarkRunAttempt bumps the attempt counter and flips the run back to running.
func (s *Store) MarkRunAttempt(ctx context.Context, runID uuid.UUID, attempt int) error {
	query := `
		UPDATE job_runs SET status = $2, attempt = $3, finished_at = NULL
		WHERE id = $1
	`
	if _, err := s.db.ExecContext(ctx, query, runID, RunStatusRunning, attempt); err != nil {
		return fmt.Errorf("mark run attempt: %w", err)
	}
	return nil
}

// FinishRun records the terminal status of a run.
func (s *Store) FinishRun(ctx context.Context, runID uuid.UUID, status, lastError string) error {
	query := `
		UPDATE job_runs SET status = $2, last_error = $3, finished_at = now()
		WHERE id = $1
	`
	if _, err := s.db.ExecContext(ctx, query, runID, status, lastError); err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// StepOutput returns the persisted output of a completed step, or ErrNotFound
// when the step has not completed in this run.
func (s *Store) StepOutput(ctx context.Context, runID uuid.UUID, name string) (json.RawMessage, error) {
	query := `SELECT output FROM job_steps WHERE run_id = $1 AND name = $2`

	var out []byte
	err := s.db.QueryRowContext(ctx, query, runID, name).Scan(&out)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("step output: %w", err)
	}

	return json.RawMessage(out), nil
}

// SaveStepOutput persists a completed step's result. The (run, name) key
// makes completion recording idempotent; a replayed save keeps the first
// outcome.
func (s *Store) SaveStepOutput(ctx context.Context, runID uuid.UUID, name string, output json.RawMessage) error {
	query := `
		INSERT INTO job_steps (run_id, name, output)
		VALUES ($1, $2, $3)
		ON CONFLICT (run_id, name) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, query, runID, name, []byte(output)); err != nil {
		return fmt.Errorf("save step output: %w", err)
	}
	return nil
}

// RunStatuses summarizes the most recent run per job for the status surface.
func (s *Store) RunStatuses(ctx context.Context) ([]JobRun, error) {
	query := `
		SELECT DISTINCT ON (job_name)
			id, job_name, dedupe_key, status, attempt, started_at, finished_at, last_error
		FROM job_runs
		ORDER BY job_name, started_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("run statuses: %w", err)
	}
	defer rows.Close()

	var runs []JobRun
	for rows.Next() {
		var r JobRun
		if err := rows.Scan(
			&r.ID, &r.JobName, &r.DedupeKey, &r.Status, &r.Attempt,
			&r.StartedAt, &r.FinishedAt, &r.LastError,
		); err != nil {
			return nil, fmt.Errorf("scan run status: %w", err)
		}
		runs = append(runs, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("run status rows: %w", err)
	}

	return runs, nil
}
