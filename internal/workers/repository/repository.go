// Package repository persists worker run history.
package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusTimedOut  = "timed_out"
	StatusSkipped   = "skipped"
)

// Run is one recorded worker invocation.
type Run struct {
	ID         uuid.UUID
	WorkerName string
	Status     string
	StartedAt  time.Time
	FinishedAt *time.Time
	DurationMs *int64
	Result     map[string]any
	Error      *string
}

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateRun records the start of a worker invocation.
func (r *Repository) CreateRun(ctx context.Context, workerName, status string) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.pool.QueryRow(ctx, `
		INSERT INTO worker_runs (worker_name, status, started_at)
		VALUES ($1, $2, now())
		RETURNING id
	`, workerName, status).Scan(&id)
	return id, err
}

// FinishRun completes a run row with its outcome.
func (r *Repository) FinishRun(ctx context.Context, id uuid.UUID, status string, duration time.Duration, result map[string]any, runErr error) error {
	var payload []byte
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return err
		}
		payload = b
	}

	var errMsg *string
	if runErr != nil {
		s := runErr.Error()
		errMsg = &s
	}

	_, err := r.pool.Exec(ctx, `
		UPDATE worker_runs
		SET status = $2, finished_at = now(), duration_ms = $3, result = $4, error = $5
		WHERE id = $1
	`, id, status, duration.Milliseconds(), payload, errMsg)
	return err
}

// ListRuns returns recent runs, newest first. workerName may be empty to
// list across all workers.
func (r *Repository) ListRuns(ctx context.Context, workerName string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, worker_name, status, started_at, finished_at, duration_ms, result, error
		FROM worker_runs
		WHERE ($1 = '' OR worker_name = $1)
		ORDER BY started_at DESC
		LIMIT $2
	`, workerName, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var result []byte
		if err := rows.Scan(&run.ID, &run.WorkerName, &run.Status, &run.StartedAt, &run.FinishedAt, &run.DurationMs, &result, &run.Error); err != nil {
			return nil, err
		}
		if len(result) > 0 {
			if err := json.Unmarshal(result, &run.Result); err != nil {
				return nil, err
			}
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// PruneRuns deletes run rows started before the cutoff. Returns the number
// of rows removed.
func (r *Repository) PruneRuns(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM worker_runs WHERE started_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
