package workflow

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/opennotes/opennotes/internal/core/domain"
)

// JobStore is the persistence surface of the batch-job ledger.
type JobStore interface {
	CreateJob(ctx context.Context, workflowID, jobType string, totalTasks int, metadata json.RawMessage) (*domain.BatchJob, error)
	GetJobByWorkflowID(ctx context.Context, workflowID string) (*domain.BatchJob, error)
	StartJob(ctx context.Context, id string) error
	SetJobTotal(ctx context.Context, id string, total int) error
	SetJobProgress(ctx context.Context, id string, completed, failed int) error
	IncrementJobProgress(ctx context.Context, id string, completedDelta, failedDelta int) error
	CompleteJob(ctx context.Context, id string, completed, failed int) error
	FailJob(ctx context.Context, id string, completed, failed int, summary domain.ErrorSummary) error
	CancelJob(ctx context.Context, id string) error
}

// Ledger wraps the job store with fire-and-forget semantics: every method
// reports success as a boolean and logs failures instead of raising, so a
// ledger hiccup can never abort the workflow it describes.
type Ledger struct {
	store  JobStore
	logger *zerolog.Logger
}

// NewLedger creates the never-raise ledger adapter.
func NewLedger(store JobStore, logger *zerolog.Logger) *Ledger {
	return &Ledger{store: store, logger: logger}
}

// CreateForWorkflow inserts the PENDING job row and returns its id, or nil
// when creation failed for any reason other than an active duplicate —
// that one the dispatcher must see, so it is returned.
func (l *Ledger) CreateForWorkflow(ctx context.Context, workflowID, jobType string, total int, metadata json.RawMessage) (*string, error) {
	job, err := l.store.CreateJob(ctx, workflowID, jobType, total, metadata)
	if err != nil {
		return nil, err
	}

	return &job.ID, nil
}

// UpdateStatus transitions the job to IN_PROGRESS.
func (l *Ledger) UpdateStatus(ctx context.Context, jobID string) bool {
	if err := l.store.StartJob(ctx, jobID); err != nil {
		l.logger.Warn().Err(err).Str("job_id", jobID).Msg("ledger start job failed")
		return false
	}

	return true
}

// SetTotal records the enumerated work item count.
func (l *Ledger) SetTotal(ctx context.Context, jobID string, total int) bool {
	if err := l.store.SetJobTotal(ctx, jobID, total); err != nil {
		l.logger.Warn().Err(err).Str("job_id", jobID).Msg("ledger set total failed")
		return false
	}

	return true
}

// UpdateProgress overwrites the progress counters.
func (l *Ledger) UpdateProgress(ctx context.Context, jobID string, completed, failed int) bool {
	if err := l.store.SetJobProgress(ctx, jobID, completed, failed); err != nil {
		l.logger.Warn().Err(err).Str("job_id", jobID).Msg("ledger progress update failed")
		return false
	}

	return true
}

// IncrementProgress adds to the progress counters.
func (l *Ledger) IncrementProgress(ctx context.Context, jobID string, completedDelta, failedDelta int) bool {
	if err := l.store.IncrementJobProgress(ctx, jobID, completedDelta, failedDelta); err != nil {
		l.logger.Warn().Err(err).Str("job_id", jobID).Msg("ledger progress increment failed")
		return false
	}

	return true
}

// FinalizeJob writes the terminal state: COMPLETED with counters, or FAILED
// with the counters plus the error summary when summary is non-nil.
func (l *Ledger) FinalizeJob(ctx context.Context, jobID string, completed, failed int, summary *domain.ErrorSummary) bool {
	var err error

	if summary != nil {
		err = l.store.FailJob(ctx, jobID, completed, failed, *summary)
	} else {
		err = l.store.CompleteJob(ctx, jobID, completed, failed)
	}

	if err != nil {
		l.logger.Error().Err(err).Str("job_id", jobID).Msg("ledger finalize failed")
		return false
	}

	return true
}

// GetJobByWorkflowID looks up the job bound to a workflow run; nil when
// missing or on error.
func (l *Ledger) GetJobByWorkflowID(ctx context.Context, workflowID string) *domain.BatchJob {
	job, err := l.store.GetJobByWorkflowID(ctx, workflowID)
	if err != nil {
		l.logger.Warn().Err(err).Str("workflow_id", workflowID).Msg("ledger job lookup failed")
		return nil
	}

	return job
}

// Cancel transitions the job to CANCELLED.
func (l *Ledger) Cancel(ctx context.Context, jobID string) bool {
	if err := l.store.CancelJob(ctx, jobID); err != nil {
		l.logger.Warn().Err(err).Str("job_id", jobID).Msg("ledger cancel failed")
		return false
	}

	return true
}
