package server

import (
	"encoding/json"
	"net/http"
)

type seenRecordAttrs struct {
	CommunityServerID string          `json:"community_server_id" validate:"required"`
	OriginalMessageID string          `json:"original_message_id" validate:"required"`
	NoteID            string          `json:"note_id" validate:"omitempty,uuid4"`
	Content           string          `json:"content" validate:"required"`
	Metadata          json.RawMessage `json:"metadata"`
}

type seenCheckAttrs struct {
	CommunityServerID string `json:"community_server_id" validate:"required"`
	ChannelID         string `json:"channel_id"`
	Content           string `json:"content" validate:"required"`
}

// recordPreviouslySeen stores a message in the previously-seen cache.
// Identical (community, original_message_id) submissions collapse to one
// row, so the endpoint is safe to retry.
func (s *Server) recordPreviouslySeen(w http.ResponseWriter, r *http.Request) {
	id := s.identify(w, r)
	if id == nil {
		return
	}

	var attrs seenRecordAttrs

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

	if !s.requireManage(w, r, id, community) {
		return
	}

	recordID, err := s.seen.Record(r.Context(), community.ID, attrs.OriginalMessageID, attrs.NoteID, attrs.Content, attrs.Metadata)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	writeResource(w, http.StatusCreated, resource{
		Type: "previously-seen-messages",
		ID:   recordID,
		Attributes: map[string]any{
			"community_id":        community.ID,
			"original_message_id": attrs.OriginalMessageID,
			"note_id":             attrs.NoteID,
		},
	}, nil)
}

// checkPreviouslySeen scores a message against the community's cache and
// reports the auto-publish / auto-request decision.
func (s *Server) checkPreviouslySeen(w http.ResponseWriter, r *http.Request) {
	id := s.identify(w, r)
	if id == nil {
		return
	}

	var attrs seenCheckAttrs

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

	result, err := s.seen.Check(r.Context(), community.ID, attrs.ChannelID, attrs.Content)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	matches := make([]map[string]any, 0, len(result.Matches))
	for _, m := range result.Matches {
		matches = append(matches, map[string]any{
			"id":                  m.ID,
			"original_message_id": m.OriginalMessageID,
			"note_id":             m.NoteID,
			"score":               m.Score,
		})
	}

	attributes := map[string]any{
		"matches":               matches,
		"should_auto_publish":   result.ShouldAutoPublish,
		"should_auto_request":   result.ShouldAutoRequest,
		"autopublish_threshold": result.AutoPublishThreshold,
		"autorequest_threshold": result.AutoRequestThreshold,
	}

	if result.TopMatch != nil {
		attributes["top_match_id"] = result.TopMatch.ID
		attributes["top_score"] = result.TopMatch.Score
	}

	writeResource(w, http.StatusOK, resource{
		Type:       "previously-seen-checks",
		Attributes: attributes,
	}, nil)
}
