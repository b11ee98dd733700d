// Package domain holds the shared entity types for the note-evaluation
// pipeline. Types here map one-to-one to persisted rows; derived values
// (helpfulness score, note status) are recomputed by the scoring layer.
package domain

import (
	"encoding/json"
	"time"
)

// Note classification constants.
const (
	ClassificationMisleading    = "MISLEADING"
	ClassificationNotMisleading = "NOT_MISLEADING"
)

// Note status constants.
const (
	NoteStatusNeedsMoreRatings = "NEEDS_MORE_RATINGS"
	NoteStatusRatedHelpful     = "CURRENTLY_RATED_HELPFUL"
	NoteStatusRatedNotHelpful  = "CURRENTLY_RATED_NOT_HELPFUL"
)

// Rating helpfulness levels.
const (
	HelpfulnessHelpful         = "HELPFUL"
	HelpfulnessSomewhatHelpful = "SOMEWHAT_HELPFUL"
	HelpfulnessNotHelpful      = "NOT_HELPFUL"
)

// Request status constants.
const (
	RequestStatusPending   = "pending"
	RequestStatusFulfilled = "fulfilled"
	RequestStatusDismissed = "dismissed"
)

// Community member roles.
const (
	RoleAdmin     = "admin"
	RoleModerator = "moderator"
	RoleMember    = "member"
)

// UserProfile is the stable identity ratings and notes reference.
type UserProfile struct {
	ID               string
	Username         string
	Email            string
	IsServiceAccount bool
	IsPlatformAdmin  bool
	CreatedAt        time.Time
}

// CommunityServer is a chat server/guild whose messages are scanned.
type CommunityServer struct {
	ID               string
	PlatformServerID string
	Name             string
	CreatedAt        time.Time
}

// CommunityMember ties a profile to a community with a role.
// A non-nil BannedAt fails member checks regardless of IsActive.
type CommunityMember struct {
	ID          string
	CommunityID string
	ProfileID   string
	Role        string
	IsActive    bool
	BannedAt    *time.Time
	CreatedAt   time.Time
}

// FactCheckItem is an immutable fact-check record. Content is chunked at
// import time; chunks carry the embeddings and lexical tokens.
type FactCheckItem struct {
	ID        string
	Dataset   string
	Title     string
	Content   string
	Rating    string
	SourceURL string
	Tags      []string
	CreatedAt time.Time
}

// FactCheckChunk is one indexed chunk of a fact-check item.
type FactCheckChunk struct {
	ID         string
	ItemID     string
	ChunkIndex int
	Content    string
	Embedding  []float32
	Provider   string
	Model      string
	StartPos   int
	EndPos     int
	TokenCount int
	CreatedAt  time.Time
}

// Note is a short contextual clarification attached to a message.
// Score and status are derived; every rating mutation recomputes them.
type Note struct {
	ID               string
	CommunityID      string
	AuthorID         string
	Summary          string
	Classification   string
	Status           string
	HelpfulnessScore int
	RequestID        string
	AIGenerated      bool
	ForcePublished   bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Published reports whether the note counts as published for the purposes
// of clear-notes preservation.
func (n Note) Published() bool {
	return n.Status == NoteStatusRatedHelpful || n.ForcePublished
}

// Rating is one member's helpfulness judgment of a note. At most one
// rating exists per (note, rater); re-rating updates in place.
type Rating struct {
	ID             string
	NoteID         string
	RaterProfileID string
	Helpfulness    string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Request records that a note is desired for a given message.
type Request struct {
	ID              string
	RequestID       string
	CommunityID     string
	RequestedBy     string
	Content         string
	DatasetItemID   string
	SimilarityScore float32
	Status          string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ArchivedMessage is a message captured from a monitored channel.
type ArchivedMessage struct {
	ID          string
	CommunityID string
	ChannelID   string
	MessageID   string
	Author      string
	Content     string
	CreatedAt   time.Time
}

// PreviouslySeenMessage is a message already associated with a published
// note in its community. Lookups are scoped strictly by community.
type PreviouslySeenMessage struct {
	ID                string
	CommunityID       string
	OriginalMessageID string
	NoteID            string
	Embedding         []float32
	Provider          string
	Model             string
	Metadata          json.RawMessage
	CreatedAt         time.Time
}

// MonitoredChannel configures scanning for one channel of a community.
//
// The previously-seen threshold overrides are pointers: nil inherits the
// community default rather than disabling the auto action.
type MonitoredChannel struct {
	ID                    string
	CommunityID           string
	ChannelID             string
	Enabled               bool
	SimilarityThreshold   float32
	DatasetTags           []string
	AutoPublishThreshold  *float32
	AutoRequestThreshold  *float32
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// AuditEntry records a mutating admin action.
type AuditEntry struct {
	ID             int64
	ActorProfileID string
	CommunityID    string
	Action         string
	Details        json.RawMessage
	CreatedAt      time.Time
}
