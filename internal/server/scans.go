package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opennotes/opennotes/internal/core/domain"
	apperrors "github.com/opennotes/opennotes/internal/core/errors"
	"github.com/opennotes/opennotes/internal/scan"
	"github.com/opennotes/opennotes/internal/storage"
)

type scanMessageAttrs struct {
	ID      string `json:"id" validate:"required"`
	Author  string `json:"author"`
	Content string `json:"content"`
}

type bulkScanAttrs struct {
	CommunityServerID string             `json:"community_server_id" validate:"required"`
	ChannelID         string             `json:"channel_id"`
	Debug             bool               `json:"debug"`
	Messages          []scanMessageAttrs `json:"messages" validate:"required,min=1,dive"`
}

func scanResource(b storage.BulkScan, flagged []storage.FlaggedMessage) resource {
	attributes := map[string]any{
		"community_id":    b.CommunityID,
		"channel_id":      b.ChannelID,
		"status":          b.Status,
		"debug":           b.Debug,
		"message_count":   b.MessageCount,
		"candidate_count": b.CandidateCount,
		"flagged_count":   b.FlaggedCount,
		"created_at":      b.CreatedAt.UTC().Format(timeFormat),
	}

	if b.CompletedAt != nil {
		attributes["completed_at"] = b.CompletedAt.UTC().Format(timeFormat)
	}

	if flagged != nil {
		list := make([]map[string]any, 0, len(flagged))

		for _, f := range flagged {
			list = append(list, map[string]any{
				"message_id":          f.MessageID,
				"content":             f.Content,
				"scan_type":           f.ScanType,
				"score":               f.Score,
				"matched_content":     f.MatchedContent,
				"matched_source":      f.MatchedSource,
				"relevance_reasoning": f.RelevanceReasoning,
			})
		}

		attributes["flagged_messages"] = list
	}

	return resource{Type: "bulk-scans", ID: b.ID, Attributes: attributes}
}

// createBulkScan accepts a message batch and starts the scan pipeline in
// the background; the response carries the pending scan row.
func (s *Server) createBulkScan(w http.ResponseWriter, r *http.Request) {
	id := s.identify(w, r)
	if id == nil {
		return
	}

	var attrs bulkScanAttrs

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

	var channel *domain.MonitoredChannel

	if attrs.ChannelID != "" {
		channel, err = s.repo.GetChannel(r.Context(), community.ID, attrs.ChannelID)
		if err != nil && !apperrors.Is(err, apperrors.ErrChannelNotFound) {
			writeError(w, s.logger, err)
			return
		}
	}

	bulkScan, err := s.repo.CreateScan(r.Context(), community.ID, attrs.ChannelID, id.Profile.ID, attrs.Debug)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	messages := make([]scan.Message, 0, len(attrs.Messages))
	for _, m := range attrs.Messages {
		messages = append(messages, scan.Message{ID: m.ID, Author: m.Author, Content: m.Content})
	}

	go s.runScan(bulkScan, channel, messages)

	writeResource(w, http.StatusCreated, scanResource(*bulkScan, nil), nil)
}

// runScan drives the pipeline off the request lifecycle.
func (s *Server) runScan(bulkScan *storage.BulkScan, channel *domain.MonitoredChannel, messages []scan.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if _, err := s.scanner.Run(ctx, bulkScan, channel, messages); err != nil {
		s.logger.Error().Err(err).Str("scan_id", bulkScan.ID).Msg("bulk scan failed")

		if ferr := s.repo.FinishScan(ctx, bulkScan.ID, storage.ScanStatusFailed, len(messages), 0, 0); ferr != nil {
			s.logger.Error().Err(ferr).Str("scan_id", bulkScan.ID).Msg("scan failure not recorded")
		}
	}
}

// getBulkScan returns a scan with its surviving flagged messages.
func (s *Server) getBulkScan(w http.ResponseWriter, r *http.Request) {
	id := s.identify(w, r)
	if id == nil {
		return
	}

	bulkScan, err := s.repo.GetScan(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	if !s.requireMember(w, r, id, bulkScan.CommunityID) {
		return
	}

	flagged, err := s.repo.ListFlaggedMessages(r.Context(), bulkScan.ID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	if flagged == nil {
		flagged = []storage.FlaggedMessage{}
	}

	writeResource(w, http.StatusOK, scanResource(*bulkScan, flagged), nil)
}

// createNoteRequests materializes note requests from a scan's flagged
// messages. Request ids derive from the scan and message ids, so retries
// reuse the existing rows.
func (s *Server) createNoteRequests(w http.ResponseWriter, r *http.Request) {
	id := s.identify(w, r)
	if id == nil {
		return
	}

	bulkScan, err := s.repo.GetScan(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	community, err := s.repo.GetCommunity(r.Context(), bulkScan.CommunityID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	if !s.requireManage(w, r, id, community) {
		return
	}

	flagged, err := s.repo.ListFlaggedMessages(r.Context(), bulkScan.ID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	if len(flagged) == 0 {
		writeBadRequest(w, fmt.Sprintf("scan %s has no flagged messages", bulkScan.ID))
		return
	}

	resources := make([]resource, 0, len(flagged))

	for _, f := range flagged {
		req, err := s.repo.CreateRequest(r.Context(), domain.Request{
			RequestID:       bulkScan.ID + ":" + f.MessageID,
			CommunityID:     bulkScan.CommunityID,
			RequestedBy:     id.Profile.ID,
			Content:         f.Content,
			SimilarityScore: f.Score,
		})
		if err != nil {
			writeError(w, s.logger, err)
			return
		}

		resources = append(resources, requestResource(*req))
	}

	s.audit(r.Context(), id, bulkScan.CommunityID, "scan.note_requests", map[string]any{
		"scan_id": bulkScan.ID,
		"count":   len(resources),
	})

	writeCollection(w, http.StatusCreated, resources, map[string]any{"count": len(resources)}, nil)
}

// clearRequests deletes a community's note requests, either all of them or
// only those older than N days.
func (s *Server) clearRequests(w http.ResponseWriter, r *http.Request) {
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

	mode := r.URL.Query().Get("mode")

	var deleted int

	switch {
	case mode == "all":
		deleted, err = s.repo.ClearRequests(r.Context(), community.ID)
	default:
		days, convErr := strconv.Atoi(mode)
		if convErr != nil || days <= 0 {
			writeError(w, s.logger, fmt.Errorf("mode must be 'all' or a positive day count: %w", apperrors.ErrInvalidInput))
			return
		}

		cutoff := time.Now().AddDate(0, 0, -days)
		deleted, err = s.repo.ClearRequestsBefore(r.Context(), community.ID, cutoff)
	}

	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	s.audit(r.Context(), id, community.ID, "requests.clear", map[string]any{"mode": mode, "deleted": deleted})

	writeMeta(w, http.StatusOK, map[string]any{"deleted": deleted})
}

// clearNotes deletes the community's unpublished notes. Notes that are
// currently rated helpful or force-published always survive.
func (s *Server) clearNotes(w http.ResponseWriter, r *http.Request) {
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

	if mode := r.URL.Query().Get("mode"); mode != "" && mode != "all" {
		writeError(w, s.logger, fmt.Errorf("unsupported mode %q: %w", mode, apperrors.ErrInvalidInput))
		return
	}

	deleted, err := s.repo.ClearNotes(r.Context(), community.ID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	s.audit(r.Context(), id, community.ID, "notes.clear", map[string]any{"deleted": deleted})

	writeMeta(w, http.StatusOK, map[string]any{"deleted": deleted})
}
