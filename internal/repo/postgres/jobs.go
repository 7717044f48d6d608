package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/animus-labs/ailab/internal/repo"
	"github.com/google/uuid"
)

const (
	insertJobQuery = `INSERT INTO training_jobs (job_id, run_id, attempts, enqueued_at, visible_at)
VALUES ($1,$2,0,$3,$3)`
	claimJobQuery = `UPDATE training_jobs
SET attempts = attempts + 1, claimed_at = $1, visible_at = $2
WHERE job_id = (
	SELECT job_id FROM training_jobs
	WHERE acked_at IS NULL AND visible_at <= $1
	ORDER BY enqueued_at
	LIMIT 1
	FOR UPDATE SKIP LOCKED
)
RETURNING job_id, run_id, attempts, enqueued_at`
	ackJobQuery = `UPDATE training_jobs SET acked_at = $2 WHERE job_id = $1 AND acked_at IS NULL`
)

// JobQueue is a durable at-least-once queue on the training_jobs table.
type JobQueue struct {
	db  DB
	now func() time.Time
}

func NewJobQueue(db DB) *JobQueue {
	if db == nil {
		return nil
	}
	return &JobQueue{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (q *JobQueue) Enqueue(ctx context.Context, runID string) (repo.Job, error) {
	if q == nil || q.db == nil {
		return repo.Job{}, fmt.Errorf("job queue not initialized")
	}
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return repo.Job{}, fmt.Errorf("run id is required")
	}
	job := repo.Job{ID: uuid.NewString(), RunID: runID, EnqueuedAt: q.now()}
	if _, err := q.db.ExecContext(ctx, insertJobQuery, job.ID, job.RunID, job.EnqueuedAt); err != nil {
		return repo.Job{}, fmt.Errorf("insert job: %w", classifyWriteError(err))
	}
	return job, nil
}

func (q *JobQueue) Claim(ctx context.Context, visibility time.Duration) (repo.Job, bool, error) {
	if q == nil || q.db == nil {
		return repo.Job{}, false, fmt.Errorf("job queue not initialized")
	}
	if visibility <= 0 {
		return repo.Job{}, false, fmt.Errorf("visibility timeout must be positive")
	}
	now := q.now()
	var job repo.Job
	err := q.db.QueryRowContext(ctx, claimJobQuery, now, now.Add(visibility)).
		Scan(&job.ID, &job.RunID, &job.Attempts, &job.EnqueuedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return repo.Job{}, false, nil
	}
	if err != nil {
		return repo.Job{}, false, fmt.Errorf("claim job: %w", err)
	}
	return job, true, nil
}

func (q *JobQueue) Ack(ctx context.Context, jobID string) error {
	if q == nil || q.db == nil {
		return fmt.Errorf("job queue not initialized")
	}
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return fmt.Errorf("job id is required")
	}
	res, err := q.db.ExecContext(ctx, ackJobQuery, jobID, q.now())
	if err != nil {
		return fmt.Errorf("ack job: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return repo.ErrNotFound
	}
	return nil
}
