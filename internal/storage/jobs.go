package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/opennotes/opennotes/internal/core/domain"
	apperrors "github.com/opennotes/opennotes/internal/core/errors"
)

const jobColumns = `id, workflow_id, job_type, status, total_tasks, completed_tasks, failed_tasks,
	metadata, error_summary, created_at, started_at, finished_at, updated_at`

// CreateJob inserts a PENDING batch job bound to a workflow id.
// It fails with ActiveJobError when a non-terminal job of the same type
// already exists.
func (db *DB) CreateJob(ctx context.Context, workflowID, jobType string, totalTasks int, metadata json.RawMessage) (*domain.BatchJob, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin create job: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	// Serialize per-type creation: row locks cannot guard against a row
	// that does not exist yet, so take a transaction-scoped advisory lock
	// on the job type before the active check.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, jobType); err != nil {
		return nil, fmt.Errorf("lock job type: %w", err)
	}

	var activeID pgtype.UUID

	err = tx.QueryRow(ctx, `
		SELECT id FROM batch_jobs
		WHERE job_type = $1 AND status NOT IN ($2, $3, $4)
		LIMIT 1
	`, jobType, domain.JobStatusCompleted, domain.JobStatusFailed, domain.JobStatusCancelled).Scan(&activeID)

	switch {
	case err == nil:
		return nil, &apperrors.ActiveJobError{JobType: jobType, ActiveJobID: fromUUID(activeID)}
	case !errors.Is(err, pgx.ErrNoRows):
		return nil, fmt.Errorf("check active job: %w", err)
	}

	if metadata == nil {
		metadata = json.RawMessage(`{}`)
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO batch_jobs (workflow_id, job_type, status, total_tasks, metadata)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+jobColumns,
		workflowID, jobType, domain.JobStatusPending, totalTasks, metadata)

	job, err := scanJob(row)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit create job: %w", err)
	}

	return job, nil
}

// GetJobByWorkflowID fetches the job bound to a workflow run.
func (db *DB) GetJobByWorkflowID(ctx context.Context, workflowID string) (*domain.BatchJob, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT `+jobColumns+` FROM batch_jobs WHERE workflow_id = $1
	`, workflowID)

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrJobNotFound
		}

		return nil, fmt.Errorf("get job by workflow id: %w", err)
	}

	return job, nil
}

// GetJob fetches a job by id.
func (db *DB) GetJob(ctx context.Context, id string) (*domain.BatchJob, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT `+jobColumns+` FROM batch_jobs WHERE id = $1
	`, toUUID(id))

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrJobNotFound
		}

		return nil, fmt.Errorf("get job: %w", err)
	}

	return job, nil
}

// ListJobs returns recent jobs, newest first, optionally filtered by type.
func (db *DB) ListJobs(ctx context.Context, jobType string, limit int) ([]domain.BatchJob, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM batch_jobs
		WHERE ($1 = '' OR job_type = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`, jobType, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []domain.BatchJob

	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}

		out = append(out, *job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}

	return out, nil
}

// StartJob transitions PENDING -> IN_PROGRESS.
func (db *DB) StartJob(ctx context.Context, id string) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE batch_jobs
		SET status = $2, started_at = now(), updated_at = now()
		WHERE id = $1 AND status = $3
	`, toUUID(id), domain.JobStatusInProgress, domain.JobStatusPending)
	if err != nil {
		return fmt.Errorf("start job: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return db.jobTransitionError(ctx, id)
	}

	return nil
}

// SetJobTotal updates total_tasks once the workflow has enumerated its
// work items.
func (db *DB) SetJobTotal(ctx context.Context, id string, total int) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE batch_jobs SET total_tasks = $2, updated_at = now() WHERE id = $1
	`, toUUID(id), total)
	if err != nil {
		return fmt.Errorf("set job total: %w", err)
	}

	return nil
}

// SetJobProgress overwrites the progress counters.
func (db *DB) SetJobProgress(ctx context.Context, id string, completed, failed int) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE batch_jobs
		SET completed_tasks = $2, failed_tasks = $3, updated_at = now()
		WHERE id = $1 AND status = $4
	`, toUUID(id), completed, failed, domain.JobStatusInProgress)
	if err != nil {
		return fmt.Errorf("set job progress: %w", err)
	}

	return nil
}

// IncrementJobProgress adds to the progress counters.
func (db *DB) IncrementJobProgress(ctx context.Context, id string, completedDelta, failedDelta int) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE batch_jobs
		SET completed_tasks = completed_tasks + $2,
		    failed_tasks = failed_tasks + $3,
		    updated_at = now()
		WHERE id = $1 AND status = $4
	`, toUUID(id), completedDelta, failedDelta, domain.JobStatusInProgress)
	if err != nil {
		return fmt.Errorf("increment job progress: %w", err)
	}

	return nil
}

// CompleteJob finalizes a non-terminal job as COMPLETED.
func (db *DB) CompleteJob(ctx context.Context, id string, completed, failed int) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE batch_jobs
		SET status = $2, completed_tasks = $3, failed_tasks = $4,
		    finished_at = now(), updated_at = now()
		WHERE id = $1 AND status NOT IN ($5, $6, $7)
	`, toUUID(id), domain.JobStatusCompleted, completed, failed,
		domain.JobStatusCompleted, domain.JobStatusFailed, domain.JobStatusCancelled)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return db.jobTransitionError(ctx, id)
	}

	return nil
}

// FailJob finalizes a non-terminal job as FAILED, recording the progress
// made before the failure alongside the error summary.
func (db *DB) FailJob(ctx context.Context, id string, completed, failed int, summary domain.ErrorSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal error summary: %w", err)
	}

	tag, err := db.Pool.Exec(ctx, `
		UPDATE batch_jobs
		SET status = $2, completed_tasks = $3, failed_tasks = $4,
		    error_summary = $5, finished_at = now(), updated_at = now()
		WHERE id = $1 AND status NOT IN ($6, $7, $8)
	`, toUUID(id), domain.JobStatusFailed, completed, failed, summaryJSON,
		domain.JobStatusCompleted, domain.JobStatusFailed, domain.JobStatusCancelled)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return db.jobTransitionError(ctx, id)
	}

	return nil
}

// CancelJob finalizes a non-terminal job as CANCELLED.
func (db *DB) CancelJob(ctx context.Context, id string) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE batch_jobs
		SET status = $2, finished_at = now(), updated_at = now()
		WHERE id = $1 AND status NOT IN ($3, $4, $5)
	`, toUUID(id), domain.JobStatusCancelled,
		domain.JobStatusCompleted, domain.JobStatusFailed, domain.JobStatusCancelled)
	if err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return db.jobTransitionError(ctx, id)
	}

	return nil
}

// jobTransitionError distinguishes a missing job from an illegal status
// transition.
func (db *DB) jobTransitionError(ctx context.Context, id string) error {
	job, err := db.GetJob(ctx, id)
	if err != nil {
		return err
	}

	return fmt.Errorf("job %s in status %s: %w", job.ID, job.Status, apperrors.ErrTerminalJob)
}

func scanJob(row pgx.Row) (*domain.BatchJob, error) {
	var (
		job         domain.BatchJob
		summaryJSON []byte
		startedAt   pgtype.Timestamptz
		finishedAt  pgtype.Timestamptz
	)

	err := row.Scan(&job.ID, &job.WorkflowID, &job.JobType, &job.Status, &job.TotalTasks,
		&job.CompletedTasks, &job.FailedTasks, &job.Metadata, &summaryJSON,
		&job.CreatedAt, &startedAt, &finishedAt, &job.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if len(summaryJSON) > 0 {
		var summary domain.ErrorSummary
		if err := json.Unmarshal(summaryJSON, &summary); err == nil {
			job.ErrorSummary = &summary
		}
	}

	job.StartedAt = fromTimestamptzPtr(startedAt)
	job.FinishedAt = fromTimestamptzPtr(finishedAt)

	return &job, nil
}
