package server

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/opennotes/opennotes/internal/core/domain"
	apperrors "github.com/opennotes/opennotes/internal/core/errors"
)

type channelAttrs struct {
	CommunityServerID    string   `json:"community_server_id" validate:"required"`
	ChannelID            string   `json:"channel_id" validate:"required"`
	Enabled              *bool    `json:"enabled"`
	SimilarityThreshold  *float32 `json:"similarity_threshold" validate:"omitempty,gt=0,lte=1"`
	DatasetTags          []string `json:"dataset_tags"`
	AutoPublishThreshold *float32 `json:"previously_seen_autopublish_threshold" validate:"omitempty,gt=0,lte=1"`
	AutoRequestThreshold *float32 `json:"previously_seen_autorequest_threshold" validate:"omitempty,gt=0,lte=1"`
}

type channelPatchAttrs struct {
	Enabled              *bool    `json:"enabled"`
	SimilarityThreshold  *float32 `json:"similarity_threshold" validate:"omitempty,gt=0,lte=1"`
	DatasetTags          []string `json:"dataset_tags"`
	AutoPublishThreshold *float32 `json:"previously_seen_autopublish_threshold" validate:"omitempty,gt=0,lte=1"`
	AutoRequestThreshold *float32 `json:"previously_seen_autorequest_threshold" validate:"omitempty,gt=0,lte=1"`
}

func channelResource(ch domain.MonitoredChannel) resource {
	return resource{
		Type: "monitored-channels",
		ID:   ch.ID,
		Attributes: map[string]any{
			"community_id":                          ch.CommunityID,
			"channel_id":                            ch.ChannelID,
			"enabled":                               ch.Enabled,
			"similarity_threshold":                  ch.SimilarityThreshold,
			"dataset_tags":                          ch.DatasetTags,
			"previously_seen_autopublish_threshold": ch.AutoPublishThreshold,
			"previously_seen_autorequest_threshold": ch.AutoRequestThreshold,
			"created_at":                            ch.CreatedAt.UTC().Format(timeFormat),
			"updated_at":                            ch.UpdatedAt.UTC().Format(timeFormat),
		},
	}
}

// createChannel registers a channel for scanning. Registering an already
// monitored channel is a conflict; updates go through PATCH.
func (s *Server) createChannel(w http.ResponseWriter, r *http.Request) {
	id := s.identify(w, r)
	if id == nil {
		return
	}

	var attrs channelAttrs

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

	if _, err := s.repo.GetChannel(r.Context(), community.ID, attrs.ChannelID); err == nil {
		writeError(w, s.logger, fmt.Errorf("channel %s already monitored: %w", attrs.ChannelID, apperrors.ErrConflict))
		return
	} else if !apperrors.Is(err, apperrors.ErrChannelNotFound) {
		writeError(w, s.logger, err)
		return
	}

	ch := domain.MonitoredChannel{
		CommunityID:          community.ID,
		ChannelID:            attrs.ChannelID,
		Enabled:              true,
		SimilarityThreshold:  s.cfg.DefaultSimilarityThreshold,
		DatasetTags:          attrs.DatasetTags,
		AutoPublishThreshold: attrs.AutoPublishThreshold,
		AutoRequestThreshold: attrs.AutoRequestThreshold,
	}

	if attrs.Enabled != nil {
		ch.Enabled = *attrs.Enabled
	}

	if attrs.SimilarityThreshold != nil {
		ch.SimilarityThreshold = *attrs.SimilarityThreshold
	}

	created, err := s.repo.UpsertChannel(r.Context(), ch)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	s.audit(r.Context(), id, community.ID, "channel.create", map[string]any{"channel_id": created.ChannelID})

	writeResource(w, http.StatusCreated, channelResource(*created), nil)
}

// updateChannel patches one channel's configuration. A body id that
// disagrees with the path id is a conflict.
func (s *Server) updateChannel(w http.ResponseWriter, r *http.Request) {
	id := s.identify(w, r)
	if id == nil {
		return
	}

	pathID := chi.URLParam(r, "id")

	var attrs channelPatchAttrs

	bodyID, err := decodeResource(r, &attrs)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	if bodyID != "" && bodyID != pathID {
		writeError(w, s.logger, fmt.Errorf("resource id %s does not match path id %s: %w", bodyID, pathID, apperrors.ErrConflict))
		return
	}

	if err := s.validate.Struct(attrs); err != nil {
		writeError(w, s.logger, err)
		return
	}

	ch, err := s.repo.GetChannelByID(r.Context(), pathID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	community, err := s.repo.GetCommunity(r.Context(), ch.CommunityID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	if !s.requireManage(w, r, id, community) {
		return
	}

	if attrs.Enabled != nil {
		ch.Enabled = *attrs.Enabled
	}

	if attrs.SimilarityThreshold != nil {
		ch.SimilarityThreshold = *attrs.SimilarityThreshold
	}

	if attrs.DatasetTags != nil {
		ch.DatasetTags = attrs.DatasetTags
	}

	if attrs.AutoPublishThreshold != nil {
		ch.AutoPublishThreshold = attrs.AutoPublishThreshold
	}

	if attrs.AutoRequestThreshold != nil {
		ch.AutoRequestThreshold = attrs.AutoRequestThreshold
	}

	updated, err := s.repo.UpsertChannel(r.Context(), *ch)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	s.audit(r.Context(), id, community.ID, "channel.update", map[string]any{"channel_id": updated.ChannelID})

	writeResource(w, http.StatusOK, channelResource(*updated), nil)
}

// deleteChannel removes a monitored channel.
func (s *Server) deleteChannel(w http.ResponseWriter, r *http.Request) {
	id := s.identify(w, r)
	if id == nil {
		return
	}

	ch, err := s.repo.GetChannelByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	community, err := s.repo.GetCommunity(r.Context(), ch.CommunityID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	if !s.requireManage(w, r, id, community) {
		return
	}

	if err := s.repo.DeleteChannelByID(r.Context(), ch.ID); err != nil {
		writeError(w, s.logger, err)
		return
	}

	s.audit(r.Context(), id, community.ID, "channel.delete", map[string]any{"channel_id": ch.ChannelID})

	w.WriteHeader(http.StatusNoContent)
}

// listChannels returns a community's monitored channels. The community
// filter is mandatory.
func (s *Server) listChannels(w http.ResponseWriter, r *http.Request) {
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

	channels, err := s.repo.ListChannels(r.Context(), community.ID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	resources := make([]resource, 0, len(channels))
	for _, ch := range channels {
		resources = append(resources, channelResource(ch))
	}

	writeCollection(w, http.StatusOK, resources, map[string]any{"count": len(channels)}, nil)
}
