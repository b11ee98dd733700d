package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

const auditDefaultLimit = 50

// listAudit returns the community's recent admin actions, newest first.
// Actor ids resolve to usernames for display.
func (s *Server) listAudit(w http.ResponseWriter, r *http.Request) {
	id := s.identify(w, r)
	if id == nil {
		return
	}

	community, err := s.repo.GetCommunity(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	if !s.requireManage(w, r, id, community) {
		return
	}

	limit := auditDefaultLimit
	if raw := r.URL.Query().Get("page[size]"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= maxPageSize {
			limit = n
		}
	}

	entries, err := s.repo.ListAudit(r.Context(), community.ID, limit)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	usernames := make(map[string]string, len(entries))
	resources := make([]resource, 0, len(entries))

	for _, e := range entries {
		actor, ok := usernames[e.ActorProfileID]
		if !ok {
			if profile, err := s.repo.GetProfile(r.Context(), e.ActorProfileID); err == nil {
				actor = profile.Username
			}

			usernames[e.ActorProfileID] = actor
		}

		var details map[string]any

		_ = json.Unmarshal(e.Details, &details)

		resources = append(resources, resource{
			Type: "audit-entries",
			ID:   strconv.FormatInt(e.ID, 10),
			Attributes: map[string]any{
				"actor_id":   e.ActorProfileID,
				"actor":      actor,
				"action":     e.Action,
				"details":    details,
				"created_at": e.CreatedAt.UTC().Format(timeFormat),
			},
		})
	}

	writeCollection(w, http.StatusOK, resources, map[string]any{"count": len(resources)}, nil)
}
