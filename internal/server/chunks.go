package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/opennotes/opennotes/internal/core/domain"
	apperrors "github.com/opennotes/opennotes/internal/core/errors"
	"github.com/opennotes/opennotes/internal/workflow"
)

type rechunkFactCheckAttrs struct {
	Dataset string `json:"dataset"`
}

type rechunkSeenAttrs struct {
	CommunityServerID string `json:"community_server_id"`
}

func jobResource(job domain.BatchJob) resource {
	attributes := map[string]any{
		"job_type":        job.JobType,
		"status":          job.Status,
		"total_tasks":     job.TotalTasks,
		"completed_tasks": job.CompletedTasks,
		"failed_tasks":    job.FailedTasks,
		"created_at":      job.CreatedAt.UTC().Format(timeFormat),
	}

	if job.ErrorSummary != nil {
		attributes["error_summary"] = job.ErrorSummary
	}

	return resource{Type: "batch-jobs", ID: job.WorkflowID, Attributes: attributes}
}

// requireOperator gates the global maintenance endpoints: only service
// accounts and platform admins qualify; community grants do not reach
// across datasets.
func (s *Server) requireOperator(w http.ResponseWriter, id *Identity) bool {
	if id.IsServiceAccount() || id.IsPlatformAdmin() {
		return true
	}

	writeError(w, s.logger, apperrors.ErrForbidden)

	return false
}

// dispatchJob queues the workflow and responds with the created job row.
// A still-running job of the same type surfaces as 429.
func (s *Server) dispatchJob(w http.ResponseWriter, r *http.Request, id *Identity, wf workflow.Workflow, metadata map[string]any) {
	raw, _ := json.Marshal(metadata)

	workflowID, err := s.engine.Dispatch(r.Context(), wf, raw)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	job, err := s.repo.GetJobByWorkflowID(r.Context(), workflowID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	s.audit(r.Context(), id, "", "rechunk.dispatch", map[string]any{
		"job_type":    wf.Type(),
		"workflow_id": workflowID,
	})

	writeResource(w, http.StatusCreated, jobResource(*job), nil)
}

// decodeOptionalBody tolerates an absent request body on dispatch
// endpoints.
func decodeOptionalBody(r *http.Request, attrs any) error {
	_, err := decodeResource(r, attrs)
	if err != nil && !apperrors.Is(err, io.EOF) {
		return err
	}

	return nil
}

// rechunkFactCheck starts a full re-chunk of the fact-check index.
func (s *Server) rechunkFactCheck(w http.ResponseWriter, r *http.Request) {
	id := s.identify(w, r)
	if id == nil {
		return
	}

	if !s.requireOperator(w, id) {
		return
	}

	var attrs rechunkFactCheckAttrs

	if err := decodeOptionalBody(r, &attrs); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	s.dispatchJob(w, r, id, s.jobs.RechunkFactCheck(attrs.Dataset), map[string]any{"dataset": attrs.Dataset})
}

// rechunkPreviouslySeen starts a re-embed of the previously-seen cache.
func (s *Server) rechunkPreviouslySeen(w http.ResponseWriter, r *http.Request) {
	id := s.identify(w, r)
	if id == nil {
		return
	}

	if !s.requireOperator(w, id) {
		return
	}

	var attrs rechunkSeenAttrs

	if err := decodeOptionalBody(r, &attrs); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	communityID := ""

	if attrs.CommunityServerID != "" {
		community, err := s.repo.GetCommunityByPlatformID(r.Context(), attrs.CommunityServerID)
		if err != nil {
			writeError(w, s.logger, err)
			return
		}

		communityID = community.ID
	}

	s.dispatchJob(w, r, id, s.jobs.RechunkPreviouslySeen(communityID), map[string]any{"community_id": communityID})
}

// listTasks returns recent batch jobs, optionally filtered by status.
func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	id := s.identify(w, r)
	if id == nil {
		return
	}

	if !s.requireOperator(w, id) {
		return
	}

	jobs, err := s.repo.ListJobs(r.Context(), r.URL.Query().Get("job_type"), 100)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	status := r.URL.Query().Get("status")

	resources := make([]resource, 0, len(jobs))

	for _, job := range jobs {
		if status != "" && job.Status != status {
			continue
		}

		resources = append(resources, jobResource(job))
	}

	writeCollection(w, http.StatusOK, resources, map[string]any{"count": len(resources)}, nil)
}

// cancelTask cancels a running job; terminal jobs need force=true.
func (s *Server) cancelTask(w http.ResponseWriter, r *http.Request) {
	id := s.identify(w, r)
	if id == nil {
		return
	}

	if !s.requireOperator(w, id) {
		return
	}

	workflowID := chi.URLParam(r, "id")
	force := r.URL.Query().Get("force") == "true"

	if err := s.engine.Cancel(r.Context(), workflowID, force); err != nil {
		writeError(w, s.logger, err)
		return
	}

	job, err := s.repo.GetJobByWorkflowID(r.Context(), workflowID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	s.audit(r.Context(), id, "", "rechunk.cancel", map[string]any{
		"workflow_id": workflowID,
		"force":       force,
	})

	writeResource(w, http.StatusOK, jobResource(*job), nil)
}
