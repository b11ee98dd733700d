package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/opennotes/opennotes/internal/core/domain"
	apperrors "github.com/opennotes/opennotes/internal/core/errors"
)

type ratingAttrs struct {
	NoteID      string `json:"note_id" validate:"required,uuid4"`
	Helpfulness string `json:"helpfulness" validate:"required,oneof=HELPFUL SOMEWHAT_HELPFUL NOT_HELPFUL"`
}

type ratingResponse struct {
	NoteID      string `json:"note_id"`
	RaterID     string `json:"rater_profile_id"`
	Helpfulness string `json:"helpfulness"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

func ratingResource(r domain.Rating) resource {
	return resource{
		Type: "ratings",
		ID:   r.ID,
		Attributes: ratingResponse{
			NoteID:      r.NoteID,
			RaterID:     r.RaterProfileID,
			Helpfulness: r.Helpfulness,
			CreatedAt:   r.CreatedAt.UTC().Format(timeFormat),
			UpdatedAt:   r.UpdatedAt.UTC().Format(timeFormat),
		},
	}
}

// createRating upserts the caller's rating of a note. The database write
// commits first; the score recompute is enqueued afterwards and a publish
// failure never rolls the rating back.
func (s *Server) createRating(w http.ResponseWriter, r *http.Request) {
	id := s.identify(w, r)
	if id == nil {
		return
	}

	var attrs ratingAttrs

	if _, err := decodeResource(r, &attrs); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	if err := s.validate.Struct(attrs); err != nil {
		writeError(w, s.logger, err)
		return
	}

	note, err := s.repo.GetNote(r.Context(), attrs.NoteID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	if !s.requireMember(w, r, id, note.CommunityID) {
		return
	}

	rating, err := s.repo.UpsertRating(r.Context(), domain.Rating{
		NoteID:         note.ID,
		RaterProfileID: id.Profile.ID,
		Helpfulness:    attrs.Helpfulness,
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	if err := s.repo.EnqueueScoreRecompute(r.Context(), note.ID, note.CommunityID); err != nil {
		s.logger.Error().Err(err).
			Str("note_id", note.ID).
			Msg("score recompute enqueue failed, database already updated")
	}

	writeResource(w, http.StatusCreated, ratingResource(*rating), nil)
}

// deleteRating removes a rating. Raters may delete their own; community
// managers may delete any. The note's score recompute is enqueued so the
// tally reflects the removal.
func (s *Server) deleteRating(w http.ResponseWriter, r *http.Request) {
	id := s.identify(w, r)
	if id == nil {
		return
	}

	rating, err := s.repo.GetRating(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	note, err := s.repo.GetNote(r.Context(), rating.NoteID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	if rating.RaterProfileID != id.Profile.ID {
		community, err := s.repo.GetCommunity(r.Context(), note.CommunityID)
		if err != nil {
			writeError(w, s.logger, err)
			return
		}

		if !s.requireManage(w, r, id, community) {
			return
		}
	}

	noteID, err := s.repo.DeleteRating(r.Context(), rating.ID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	if err := s.repo.EnqueueScoreRecompute(r.Context(), noteID, note.CommunityID); err != nil {
		s.logger.Error().Err(err).
			Str("note_id", noteID).
			Msg("score recompute enqueue failed, database already updated")
	}

	s.audit(r.Context(), id, note.CommunityID, "rating.delete", map[string]any{
		"rating_id": rating.ID,
		"note_id":   noteID,
	})

	w.WriteHeader(http.StatusNoContent)
}

// listNoteRatings returns every rating of a note.
func (s *Server) listNoteRatings(w http.ResponseWriter, r *http.Request) {
	id := s.identify(w, r)
	if id == nil {
		return
	}

	note, err := s.repo.GetNote(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	if !s.requireMember(w, r, id, note.CommunityID) {
		return
	}

	ratings, err := s.repo.ListRatingsForNote(r.Context(), note.ID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	resources := make([]resource, 0, len(ratings))
	for _, rating := range ratings {
		resources = append(resources, ratingResource(rating))
	}

	writeCollection(w, http.StatusOK, resources, map[string]any{"count": len(ratings)}, nil)
}

// noteRatingStats aggregates rating counts and the average helpfulness.
func (s *Server) noteRatingStats(w http.ResponseWriter, r *http.Request) {
	id := s.identify(w, r)
	if id == nil {
		return
	}

	note, err := s.repo.GetNote(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	if !s.requireMember(w, r, id, note.CommunityID) {
		return
	}

	stats, err := s.repo.GetRatingStats(r.Context(), note.ID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	var average float64
	if stats.Total > 0 {
		average = (float64(stats.Helpful) + 0.5*float64(stats.SomewhatCount)) / float64(stats.Total)
	}

	writeResource(w, http.StatusOK, resource{
		Type: "rating-stats",
		ID:   note.ID,
		Attributes: map[string]any{
			"total":               stats.Total,
			"helpful":             stats.Helpful,
			"somewhat_helpful":    stats.SomewhatCount,
			"not_helpful":         stats.NotHelpful,
			"average_helpfulness": average,
		},
	}, nil)
}

// requireMember writes 403 unless the caller has member access.
func (s *Server) requireMember(w http.ResponseWriter, r *http.Request, id *Identity, communityID string) bool {
	ok, err := s.auth.IsMember(r.Context(), id, communityID)
	if err != nil {
		writeError(w, s.logger, err)
		return false
	}

	if !ok {
		writeError(w, s.logger, apperrors.ErrForbidden)
		return false
	}

	return true
}

// requireManage writes 403 unless the caller may mutate the community.
func (s *Server) requireManage(w http.ResponseWriter, r *http.Request, id *Identity, community *domain.CommunityServer) bool {
	ok, err := s.auth.CanManage(r.Context(), id, community)
	if err != nil {
		writeError(w, s.logger, err)
		return false
	}

	if !ok {
		writeError(w, s.logger, apperrors.ErrForbidden)
		return false
	}

	return true
}
