// Package workflow runs long batch jobs — rechunks, imports, scoring
// fan-outs — as durable, queued workflows. Each run is bound to exactly one
// batch-job ledger row; the ledger records progress and terminal state.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opennotes/opennotes/internal/core/domain"
	apperrors "github.com/opennotes/opennotes/internal/core/errors"
	"github.com/opennotes/opennotes/internal/platform/observability"
	"github.com/opennotes/opennotes/internal/platform/telemetry"
)

// Workflow is one batch job implementation: enumerate work items, then
// process them one at a time. Process must be idempotent; a resumed run
// may see an item twice.
type Workflow interface {
	Type() string
	Items(ctx context.Context) ([]string, error)
	Process(ctx context.Context, item string) error
}

// Config controls engine behavior.
type Config struct {
	// QueueConcurrency bounds simultaneous runs per named queue.
	QueueConcurrency int

	// GateCapacity sizes each token pool.
	GateCapacity int64

	// CircuitThreshold is the consecutive-failure limit per run.
	CircuitThreshold int

	// ProgressBatchSize is how many items pass between ledger progress
	// writes.
	ProgressBatchSize int
}

type run struct {
	workflowID string
	jobID      string
	wf         Workflow
	cancel     context.CancelFunc
}

// Engine dispatches workflows onto named queues with bounded concurrency.
type Engine struct {
	ledger *Ledger
	gate   *TokenGate
	cfg    Config
	tracer trace.Tracer
	logger *zerolog.Logger

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	mu     sync.Mutex
	active map[string]*run
	queues map[string]chan *run
}

// NewEngine creates a workflow engine over the ledger.
func NewEngine(ledger *Ledger, cfg Config, logger *zerolog.Logger) *Engine {
	if cfg.QueueConcurrency <= 0 {
		cfg.QueueConcurrency = 4
	}

	if cfg.CircuitThreshold <= 0 {
		cfg.CircuitThreshold = 5
	}

	if cfg.ProgressBatchSize <= 0 {
		cfg.ProgressBatchSize = 10
	}

	e := &Engine{
		ledger: ledger,
		gate:   NewTokenGate(cfg.GateCapacity),
		cfg:    cfg,
		tracer: telemetry.Tracer("workflow"),
		logger: logger,
		active: make(map[string]*run),
		queues: make(map[string]chan *run),
	}
	e.baseCtx, e.stop = context.WithCancel(context.Background())

	return e
}

// Start ties the engine lifetime to ctx: once ctx is cancelled the queue
// workers stop. The engine accepts Dispatch calls from the moment it is
// constructed, so Start can come later without losing queued work.
func (e *Engine) Start(ctx context.Context) {
	go func() {
		select {
		case <-ctx.Done():
			e.stop()
		case <-e.baseCtx.Done():
		}
	}()
}

// Shutdown cancels running workflows and waits for workers to drain.
func (e *Engine) Shutdown() {
	if e.stop != nil {
		e.stop()
	}

	e.wg.Wait()
}

// Dispatch creates the job row and queues the workflow. A non-terminal job
// of the same type fails the dispatch with ActiveJobError before anything
// is queued.
func (e *Engine) Dispatch(ctx context.Context, wf Workflow, metadata json.RawMessage) (string, error) {
	workflowID := uuid.NewString()

	jobID, err := e.ledger.CreateForWorkflow(ctx, workflowID, wf.Type(), 0, metadata)
	if err != nil {
		return "", fmt.Errorf("create job for %s: %w", wf.Type(), err)
	}

	r := &run{workflowID: workflowID, jobID: *jobID, wf: wf}

	e.mu.Lock()
	e.active[workflowID] = r
	e.mu.Unlock()

	select {
	case e.queue(queueForType(wf.Type())) <- r:
	case <-ctx.Done():
		e.forget(workflowID)
		return "", fmt.Errorf("queue %s: %w", wf.Type(), ctx.Err())
	}

	e.logger.Info().
		Str("workflow_id", workflowID).
		Str("job_type", wf.Type()).
		Msg("workflow dispatched")

	return workflowID, nil
}

// Cancel stops a workflow. Terminal jobs are only cancellable with force,
// which clears the tracker entry without rewriting terminal state.
func (e *Engine) Cancel(ctx context.Context, workflowID string, force bool) error {
	job := e.ledger.GetJobByWorkflowID(ctx, workflowID)
	if job == nil {
		return apperrors.ErrJobNotFound
	}

	if job.Terminal() && !force {
		return fmt.Errorf("job %s already %s: %w", job.ID, job.Status, apperrors.ErrTerminalJob)
	}

	e.mu.Lock()
	r, ok := e.active[workflowID]
	delete(e.active, workflowID)
	e.mu.Unlock()

	if ok && r.cancel != nil {
		r.cancel()
	}

	if !job.Terminal() {
		e.ledger.Cancel(ctx, job.ID)
	}

	e.logger.Info().
		Str("workflow_id", workflowID).
		Bool("force", force).
		Msg("workflow cancelled")

	return nil
}

// queue lazily creates a named queue and its workers.
func (e *Engine) queue(name string) chan *run {
	e.mu.Lock()
	defer e.mu.Unlock()

	ch, ok := e.queues[name]
	if ok {
		return ch
	}

	ch = make(chan *run, e.cfg.QueueConcurrency*4)
	e.queues[name] = ch

	for i := 0; i < e.cfg.QueueConcurrency; i++ {
		e.wg.Add(1)

		go e.worker(name, ch)
	}

	return ch
}

func (e *Engine) worker(queueName string, ch chan *run) {
	defer e.wg.Done()

	for {
		select {
		case <-e.baseCtx.Done():
			return
		case r := <-ch:
			e.execute(queueName, r)
		}
	}
}

// execute runs one workflow end to end: token admission, start transition,
// item loop with circuit breaker and periodic progress, finalization.
func (e *Engine) execute(queueName string, r *run) {
	ctx, cancel := context.WithCancel(e.baseCtx)
	r.cancel = cancel

	defer cancel()
	defer e.forget(r.workflowID)

	ctx, span := e.tracer.Start(ctx, "workflow.execute")
	defer span.End()

	span.SetAttributes(
		attribute.String("workflow_id", r.workflowID),
		attribute.String("job_type", r.wf.Type()),
	)

	start := time.Now()
	defer func() {
		observability.WorkflowDuration.WithLabelValues(r.wf.Type()).Observe(time.Since(start).Seconds())
	}()

	release, err := e.gate.Acquire(ctx, queueName, r.wf.Type())
	if err != nil {
		e.finalizeFailed(ctx, r, 0, 0, "admission", err)
		return
	}
	defer release()

	e.ledger.UpdateStatus(ctx, r.jobID)

	items, err := r.wf.Items(ctx)
	if err != nil {
		e.finalizeFailed(ctx, r, 0, 0, "enumerate", err)
		return
	}

	e.ledger.SetTotal(ctx, r.jobID, len(items))

	breaker := NewRunBreaker(e.cfg.CircuitThreshold)

	var completed, failed int

	for i, item := range items {
		if ctx.Err() != nil {
			// Cancellation observed at a step boundary; the cancel path
			// already wrote the terminal status.
			return
		}

		if err := r.wf.Process(ctx, item); err != nil {
			failed++
			observability.WorkflowSteps.WithLabelValues(r.wf.Type(), "failed").Inc()

			e.logger.Warn().Err(err).
				Str("workflow_id", r.workflowID).
				Str("item", item).
				Msg("workflow step failed")

			if breakErr := breaker.RecordFailure(); breakErr != nil {
				observability.WorkflowCircuitOpens.WithLabelValues(r.wf.Type()).Inc()
				e.finalizeFailed(ctx, r, completed, failed, "circuit_open", breakErr)

				return
			}
		} else {
			completed++
			observability.WorkflowSteps.WithLabelValues(r.wf.Type(), "ok").Inc()
			breaker.RecordSuccess()
		}

		if (i+1)%e.cfg.ProgressBatchSize == 0 {
			e.ledger.UpdateProgress(ctx, r.jobID, completed, failed)
		}
	}

	e.ledger.FinalizeJob(ctx, r.jobID, completed, failed, nil)

	e.logger.Info().
		Str("workflow_id", r.workflowID).
		Str("job_type", r.wf.Type()).
		Int("completed", completed).
		Int("failed", failed).
		Msg("workflow completed")
}

func (e *Engine) finalizeFailed(ctx context.Context, r *run, completed, failed int, stage string, err error) {
	summary := &domain.ErrorSummary{
		Stage:     stage,
		ErrorType: errorType(err),
		Message:   err.Error(),
	}

	e.ledger.FinalizeJob(ctx, r.jobID, completed, failed, summary)

	e.logger.Error().Err(err).
		Str("workflow_id", r.workflowID).
		Str("stage", stage).
		Msg("workflow failed")
}

func (e *Engine) forget(workflowID string) {
	e.mu.Lock()
	delete(e.active, workflowID)
	e.mu.Unlock()
}

// queueForType maps a job type like "rechunk:fact_check" onto its named
// queue ("rechunk").
func queueForType(jobType string) string {
	if i := strings.Index(jobType, ":"); i > 0 {
		return jobType[:i]
	}

	return "default"
}

func errorType(err error) string {
	switch {
	case apperrors.Is(err, apperrors.ErrCircuitOpen):
		return "CircuitOpenError"
	case apperrors.Is(err, context.Canceled):
		return "Cancelled"
	case apperrors.Is(err, context.DeadlineExceeded):
		return "Timeout"
	default:
		return "Error"
	}
}
