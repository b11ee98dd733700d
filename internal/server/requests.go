package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/opennotes/opennotes/internal/core/domain"
	apperrors "github.com/opennotes/opennotes/internal/core/errors"
)

type requestPatchAttrs struct {
	Status string `json:"status" validate:"required,oneof=pending fulfilled dismissed"`
}

func requestResource(req domain.Request) resource {
	return resource{
		Type: "note-requests",
		ID:   req.ID,
		Attributes: map[string]any{
			"request_id":   req.RequestID,
			"community_id": req.CommunityID,
			"requested_by": req.RequestedBy,
			"content":      req.Content,
			"status":       req.Status,
			"score":        req.SimilarityScore,
			"created_at":   req.CreatedAt.UTC().Format(timeFormat),
		},
	}
}

// listNoteRequests returns a page of the community's note requests,
// optionally filtered by status.
func (s *Server) listNoteRequests(w http.ResponseWriter, r *http.Request) {
	id := s.identify(w, r)
	if id == nil {
		return
	}

	platformID := r.URL.Query().Get("filter[community_server_id]")
	if platformID == "" {
		writeBadRequest(w, "filter[community_server_id] is required")
		return
	}

	community, err := s.repo.GetCommunityByPlatformID(r.Context(), platformID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	if !s.requireMember(w, r, id, community.ID) {
		return
	}

	p := parsePage(r)

	requests, total, err := s.repo.ListRequests(r.Context(), community.ID, r.URL.Query().Get("filter[status]"), p.Size, p.offset())
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	resources := make([]resource, 0, len(requests))
	for _, req := range requests {
		resources = append(resources, requestResource(req))
	}

	writeCollection(w, http.StatusOK, resources, map[string]any{"count": total}, pageLinks(r.URL, p, total))
}

// updateNoteRequest transitions a request's status, e.g. dismissing one
// that will not get a note.
func (s *Server) updateNoteRequest(w http.ResponseWriter, r *http.Request) {
	id := s.identify(w, r)
	if id == nil {
		return
	}

	req, err := s.repo.GetRequestByRequestID(r.Context(), chi.URLParam(r, "requestID"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	community, err := s.repo.GetCommunity(r.Context(), req.CommunityID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	if !s.requireManage(w, r, id, community) {
		return
	}

	var attrs requestPatchAttrs

	if _, err := decodeResource(r, &attrs); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	if err := s.validate.Struct(attrs); err != nil {
		writeError(w, s.logger, err)
		return
	}

	if err := s.repo.UpdateRequestStatus(r.Context(), req.RequestID, attrs.Status); err != nil {
		writeError(w, s.logger, err)
		return
	}

	req.Status = attrs.Status

	s.audit(r.Context(), id, req.CommunityID, "request.status", map[string]any{
		"request_id": req.RequestID,
		"status":     attrs.Status,
	})

	writeResource(w, http.StatusOK, requestResource(*req), nil)
}

// fulfillRequest marks the request a new note answers. A stale or unknown
// request id never fails note creation.
func (s *Server) fulfillRequest(r *http.Request, requestID string) {
	if requestID == "" {
		return
	}

	err := s.repo.UpdateRequestStatus(r.Context(), requestID, domain.RequestStatusFulfilled)
	if err != nil && !apperrors.Is(err, apperrors.ErrNotFound) {
		s.logger.Warn().Err(err).Str("request_id", requestID).Msg("request not marked fulfilled")
	}
}
