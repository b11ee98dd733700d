package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/opennotes/opennotes/internal/core/domain"
	"github.com/opennotes/opennotes/internal/storage"
)

type noteAttrs struct {
	CommunityServerID string `json:"community_server_id" validate:"required"`
	Summary           string `json:"summary" validate:"required,max=2000"`
	Classification    string `json:"classification" validate:"required,oneof=MISLEADING NOT_MISLEADING"`
	RequestID         string `json:"request_id"`
	AIGenerated       bool   `json:"ai_generated"`
}

type notePatchAttrs struct {
	ForcePublished *bool `json:"force_published"`
}

func noteResource(n domain.Note) resource {
	return resource{
		Type: "notes",
		ID:   n.ID,
		Attributes: map[string]any{
			"community_id":      n.CommunityID,
			"author_id":         n.AuthorID,
			"summary":           n.Summary,
			"classification":    n.Classification,
			"status":            n.Status,
			"helpfulness_score": n.HelpfulnessScore,
			"ai_generated":      n.AIGenerated,
			"force_published":   n.ForcePublished,
			"created_at":        n.CreatedAt.UTC().Format(timeFormat),
			"updated_at":        n.UpdatedAt.UTC().Format(timeFormat),
		},
	}
}

// createNote writes a new community note; it starts unrated.
func (s *Server) createNote(w http.ResponseWriter, r *http.Request) {
	id := s.identify(w, r)
	if id == nil {
		return
	}

	var attrs noteAttrs

	if _, err := decodeResource(r, &attrs); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	if err := s.validate.Struct(attrs); err != nil {
		writeError(w, s.logger, err)
		return
	}

	community, err := s.repo.GetCommunityByPlatformID(r.Context(), attrs.CommunityServerID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	if !s.requireMember(w, r, id, community.ID) {
		return
	}

	note, err := s.repo.CreateNote(r.Context(), domain.Note{
		CommunityID:    community.ID,
		AuthorID:       id.Profile.ID,
		Summary:        attrs.Summary,
		Classification: attrs.Classification,
		Status:         domain.NoteStatusNeedsMoreRatings,
		RequestID:      attrs.RequestID,
		AIGenerated:    attrs.AIGenerated,
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	s.fulfillRequest(r, attrs.RequestID)

	writeResource(w, http.StatusCreated, noteResource(*note), nil)
}

// listNotes returns a page of a community's notes with filters and
// pagination links.
func (s *Server) listNotes(w http.ResponseWriter, r *http.Request) {
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

	filter := storage.NoteFilter{
		Status:         r.URL.Query().Get("filter[status]"),
		Classification: r.URL.Query().Get("filter[classification]"),
		AuthorID:       r.URL.Query().Get("filter[author_id]"),
	}

	p := parsePage(r)

	notes, total, err := s.repo.ListNotes(r.Context(), community.ID, filter, p.Size, p.offset())
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	resources := make([]resource, 0, len(notes))
	for _, n := range notes {
		resources = append(resources, noteResource(n))
	}

	writeCollection(w, http.StatusOK, resources, map[string]any{"count": total}, pageLinks(r.URL, p, total))
}

// updateNote toggles force-publish, which shields the note from
// clear-notes.
func (s *Server) updateNote(w http.ResponseWriter, r *http.Request) {
	id := s.identify(w, r)
	if id == nil {
		return
	}

	note, err := s.repo.GetNote(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	community, err := s.repo.GetCommunity(r.Context(), note.CommunityID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	if !s.requireManage(w, r, id, community) {
		return
	}

	var attrs notePatchAttrs

	if _, err := decodeResource(r, &attrs); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	if attrs.ForcePublished != nil {
		if err := s.repo.SetForcePublished(r.Context(), note.ID, *attrs.ForcePublished); err != nil {
			writeError(w, s.logger, err)
			return
		}

		note.ForcePublished = *attrs.ForcePublished

		s.audit(r.Context(), id, note.CommunityID, "note.force_publish", map[string]any{
			"note_id": note.ID,
			"value":   *attrs.ForcePublished,
		})
	}

	writeResource(w, http.StatusOK, noteResource(*note), nil)
}

// deleteNote removes a single note.
func (s *Server) deleteNote(w http.ResponseWriter, r *http.Request) {
	id := s.identify(w, r)
	if id == nil {
		return
	}

	note, err := s.repo.GetNote(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	community, err := s.repo.GetCommunity(r.Context(), note.CommunityID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	if !s.requireManage(w, r, id, community) {
		return
	}

	if err := s.repo.DeleteNote(r.Context(), note.ID); err != nil {
		writeError(w, s.logger, err)
		return
	}

	s.audit(r.Context(), id, note.CommunityID, "note.delete", map[string]any{"note_id": note.ID})

	w.WriteHeader(http.StatusNoContent)
}
