package domain

import (
	"encoding/json"
	"time"
)

// BatchJob status constants. COMPLETED, FAILED and CANCELLED are terminal.
const (
	JobStatusPending    = "PENDING"
	JobStatusInProgress = "IN_PROGRESS"
	JobStatusCompleted  = "COMPLETED"
	JobStatusFailed     = "FAILED"
	JobStatusCancelled  = "CANCELLED"
)

// Job type constants.
const (
	JobTypeRechunkFactCheck      = "rechunk:fact_check"
	JobTypeRechunkPreviouslySeen = "rechunk:previously_seen"
	JobTypeImportFactCheck       = "import:fact_check"
	JobTypeImportFactCheckFeed   = "import:fact_check_feed"
)

// BatchJob is the durable ledger row for one workflow run.
// Invariant: CompletedTasks + FailedTasks <= TotalTasks.
type BatchJob struct {
	ID             string
	WorkflowID     string
	JobType        string
	Status         string
	TotalTasks     int
	CompletedTasks int
	FailedTasks    int
	Metadata       json.RawMessage
	ErrorSummary   *ErrorSummary
	CreatedAt      time.Time
	StartedAt      *time.Time
	FinishedAt     *time.Time
	UpdatedAt      time.Time
}

// Terminal reports whether the job status is absorbing.
func (b BatchJob) Terminal() bool {
	return TerminalJobStatus(b.Status)
}

// TerminalJobStatus reports whether a status string is terminal.
func TerminalJobStatus(status string) bool {
	switch status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}

	return false
}

// ErrorSummary describes why a workflow finalized as FAILED.
type ErrorSummary struct {
	Stage     string `json:"stage"`
	ErrorType string `json:"error_type"`
	Message   string `json:"message"`
}
