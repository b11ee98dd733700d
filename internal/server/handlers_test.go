package server

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opennotes/opennotes/internal/core/domain"
	"github.com/opennotes/opennotes/internal/storage"
)

func memberToken(t *testing.T, username string) string {
	return signToken(t, gatewayClaims{Username: username})
}

func TestCreateRating_UpsertsAndEnqueuesRecompute(t *testing.T) {
	env := newTestEnv(t)
	community := env.seedCommunity(t, "guild-1")
	author := env.seedMember(t, community.ID, "alice", domain.RoleMember, false)
	env.seedMember(t, community.ID, "bob", domain.RoleMember, false)

	note, err := env.repo.CreateNote(context.Background(), domain.Note{
		CommunityID:    community.ID,
		AuthorID:       author.ID,
		Summary:        "missing context",
		Classification: domain.ClassificationMisleading,
		Status:         domain.NoteStatusNeedsMoreRatings,
	})
	require.NoError(t, err)

	token := memberToken(t, "bob")
	body := jsonapiBody(t, "ratings", "", map[string]any{
		"note_id":     "11111111-2222-4333-8444-555555555555",
		"helpfulness": domain.HelpfulnessHelpful,
	})

	// Unknown note id is a 404.
	rec := env.do(t, http.MethodPost, "/ratings", token, body)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Real note id; the fake ids are not uuids, so patch the note id into a
	// uuid the validator accepts.
	env.repo.mu.Lock()
	uuidNoteID := "11111111-2222-4333-8444-555555555555"
	stored := env.repo.notes[note.ID]
	delete(env.repo.notes, note.ID)
	stored.ID = uuidNoteID
	env.repo.notes[uuidNoteID] = stored
	env.repo.mu.Unlock()

	body = jsonapiBody(t, "ratings", "", map[string]any{
		"note_id":     uuidNoteID,
		"helpfulness": domain.HelpfulnessHelpful,
	})

	rec = env.do(t, http.MethodPost, "/ratings", token, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, ContentType, rec.Header().Get("Content-Type"))

	doc := decodeDocument(t, rec)
	assert.Equal(t, "1.1", doc["jsonapi"].(map[string]any)["version"])

	require.Len(t, env.repo.recomputes, 1)
	assert.Equal(t, uuidNoteID, env.repo.recomputes[0])

	// Re-rating the same note stays one row.
	body = jsonapiBody(t, "ratings", "", map[string]any{
		"note_id":     uuidNoteID,
		"helpfulness": domain.HelpfulnessNotHelpful,
	})

	rec = env.do(t, http.MethodPost, "/ratings", token, body)
	require.Equal(t, http.StatusCreated, rec.Code)

	ratings, err := env.repo.ListRatingsForNote(context.Background(), uuidNoteID)
	require.NoError(t, err)
	require.Len(t, ratings, 1)
	assert.Equal(t, domain.HelpfulnessNotHelpful, ratings[0].Helpfulness)
}

func TestCreateRating_RequiresMembership(t *testing.T) {
	env := newTestEnv(t)
	community := env.seedCommunity(t, "guild-1")
	author := env.seedMember(t, community.ID, "alice", domain.RoleMember, false)

	note, err := env.repo.CreateNote(context.Background(), domain.Note{
		CommunityID: community.ID,
		AuthorID:    author.ID,
		Summary:     "context",
		Status:      domain.NoteStatusNeedsMoreRatings,
	})
	require.NoError(t, err)

	env.repo.mu.Lock()
	uuidNoteID := "11111111-2222-4333-8444-555555555555"
	stored := env.repo.notes[note.ID]
	delete(env.repo.notes, note.ID)
	stored.ID = uuidNoteID
	env.repo.notes[uuidNoteID] = stored
	env.repo.mu.Unlock()

	body := func() map[string]any {
		return map[string]any{"note_id": uuidNoteID, "helpfulness": domain.HelpfulnessHelpful}
	}

	// No token at all.
	rec := env.do(t, http.MethodPost, "/ratings", "", jsonapiBody(t, "ratings", "", body()))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Stranger with a valid token but no membership.
	rec = env.do(t, http.MethodPost, "/ratings", memberToken(t, "mallory"), jsonapiBody(t, "ratings", "", body()))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Banned members fail member checks regardless of is_active.
	env.seedMember(t, community.ID, "banned-bart", domain.RoleMember, true)

	rec = env.do(t, http.MethodPost, "/ratings", memberToken(t, "banned-bart"), jsonapiBody(t, "ratings", "", body()))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// A manage-server grant alone does not give member access.
	managerToken := signToken(t, gatewayClaims{Username: "manager", ManageServers: []string{"guild-1"}})

	rec = env.do(t, http.MethodPost, "/ratings", managerToken, jsonapiBody(t, "ratings", "", body()))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Service accounts recognized by username pattern bypass membership.
	rec = env.do(t, http.MethodPost, "/ratings", memberToken(t, "svc-gateway"), jsonapiBody(t, "ratings", "", body()))
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestNoteRatingStats(t *testing.T) {
	env := newTestEnv(t)
	community := env.seedCommunity(t, "guild-1")
	author := env.seedMember(t, community.ID, "alice", domain.RoleMember, false)

	note, err := env.repo.CreateNote(context.Background(), domain.Note{
		CommunityID: community.ID,
		AuthorID:    author.ID,
		Summary:     "context",
	})
	require.NoError(t, err)

	for i, level := range []string{
		domain.HelpfulnessHelpful,
		domain.HelpfulnessHelpful,
		domain.HelpfulnessSomewhatHelpful,
		domain.HelpfulnessNotHelpful,
	} {
		_, err := env.repo.UpsertRating(context.Background(), domain.Rating{
			NoteID:         note.ID,
			RaterProfileID: env.repo.id("rater") + string(rune('a'+i)),
			Helpfulness:    level,
		})
		require.NoError(t, err)
	}

	rec := env.do(t, http.MethodGet, "/notes/"+note.ID+"/ratings/stats", memberToken(t, "alice"), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	doc := decodeDocument(t, rec)
	attrs := doc["data"].(map[string]any)["attributes"].(map[string]any)

	assert.EqualValues(t, 4, attrs["total"])
	assert.EqualValues(t, 2, attrs["helpful"])
	assert.EqualValues(t, 1, attrs["somewhat_helpful"])
	assert.EqualValues(t, 1, attrs["not_helpful"])
	assert.InDelta(t, 0.625, attrs["average_helpfulness"].(float64), 1e-9)
}

func TestChannels_CreateDuplicateConflict(t *testing.T) {
	env := newTestEnv(t)
	community := env.seedCommunity(t, "guild-1")
	env.seedMember(t, community.ID, "mod", domain.RoleModerator, false)

	attrs := map[string]any{
		"community_server_id": "guild-1",
		"channel_id":          "general",
	}

	rec := env.do(t, http.MethodPost, "/monitored-channels", memberToken(t, "mod"), jsonapiBody(t, "monitored-channels", "", attrs))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/monitored-channels", memberToken(t, "mod"), jsonapiBody(t, "monitored-channels", "", attrs))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestChannels_PlainMemberCannotManage(t *testing.T) {
	env := newTestEnv(t)
	community := env.seedCommunity(t, "guild-1")
	env.seedMember(t, community.ID, "pleb", domain.RoleMember, false)

	attrs := map[string]any{"community_server_id": "guild-1", "channel_id": "general"}

	rec := env.do(t, http.MethodPost, "/monitored-channels", memberToken(t, "pleb"), jsonapiBody(t, "monitored-channels", "", attrs))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// A gateway manage-server grant is enough (tier 3).
	managerToken := signToken(t, gatewayClaims{Username: "manager", ManageServers: []string{"guild-1"}})

	rec = env.do(t, http.MethodPost, "/monitored-channels", managerToken, jsonapiBody(t, "monitored-channels", "", attrs))
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestChannels_ListRequiresFilter(t *testing.T) {
	env := newTestEnv(t)
	community := env.seedCommunity(t, "guild-1")
	env.seedMember(t, community.ID, "alice", domain.RoleMember, false)

	rec := env.do(t, http.MethodGet, "/monitored-channels", memberToken(t, "alice"), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/monitored-channels?filter[community_server_id]=guild-1", memberToken(t, "alice"), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestChannels_PatchIDMismatch(t *testing.T) {
	env := newTestEnv(t)
	community := env.seedCommunity(t, "guild-1")
	env.seedMember(t, community.ID, "mod", domain.RoleModerator, false)

	created, err := env.repo.UpsertChannel(context.Background(), domain.MonitoredChannel{
		CommunityID: community.ID,
		ChannelID:   "general",
		Enabled:     true,
	})
	require.NoError(t, err)

	body := jsonapiBody(t, "monitored-channels", "other-id", map[string]any{"enabled": false})

	rec := env.do(t, http.MethodPatch, "/monitored-channels/"+created.ID, memberToken(t, "mod"), body)
	assert.Equal(t, http.StatusConflict, rec.Code)

	body = jsonapiBody(t, "monitored-channels", created.ID, map[string]any{"enabled": false})

	rec = env.do(t, http.MethodPatch, "/monitored-channels/"+created.ID, memberToken(t, "mod"), body)
	require.Equal(t, http.StatusOK, rec.Code)

	updated, err := env.repo.GetChannelByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.False(t, updated.Enabled)
}

func TestPreviouslySeen_CheckUnknownCommunity(t *testing.T) {
	env := newTestEnv(t)

	body := jsonapiBody(t, "previously-seen-checks", "", map[string]any{
		"community_server_id": "nope",
		"content":             "some claim about something",
	})

	rec := env.do(t, http.MethodPost, "/previously-seen-messages/check", memberToken(t, "svc-bot"), body)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPreviouslySeen_RecordValidation(t *testing.T) {
	env := newTestEnv(t)
	env.seedCommunity(t, "guild-1")

	// Missing content fails attribute validation.
	body := jsonapiBody(t, "previously-seen-messages", "", map[string]any{
		"community_server_id": "guild-1",
		"original_message_id": "m-1",
	})

	rec := env.do(t, http.MethodPost, "/previously-seen-messages", memberToken(t, "svc-bot"), body)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	body = jsonapiBody(t, "previously-seen-messages", "", map[string]any{
		"community_server_id": "guild-1",
		"original_message_id": "m-1",
		"content":             "the mayor said this",
	})

	rec = env.do(t, http.MethodPost, "/previously-seen-messages", memberToken(t, "svc-bot"), body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestBulkScan_ForbiddenForPlainMember(t *testing.T) {
	env := newTestEnv(t)
	community := env.seedCommunity(t, "guild-1")
	env.seedMember(t, community.ID, "pleb", domain.RoleMember, false)

	body := jsonapiBody(t, "bulk-scans", "", map[string]any{
		"community_server_id": "guild-1",
		"messages":            []map[string]any{{"id": "m1", "content": "hello there everyone"}},
	})

	rec := env.do(t, http.MethodPost, "/bulk-scans", memberToken(t, "pleb"), body)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestBulkScan_CreateAndFetch(t *testing.T) {
	env := newTestEnv(t)
	community := env.seedCommunity(t, "guild-1")
	env.seedMember(t, community.ID, "mod", domain.RoleModerator, false)

	body := jsonapiBody(t, "bulk-scans", "", map[string]any{
		"community_server_id": "guild-1",
		"messages":            []map[string]any{{"id": "m1", "content": "Biden was a Confederate soldier"}},
	})

	rec := env.do(t, http.MethodPost, "/bulk-scans", memberToken(t, "mod"), body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	doc := decodeDocument(t, rec)
	scanID := doc["data"].(map[string]any)["id"].(string)

	rec = env.do(t, http.MethodGet, "/bulk-scans/"+scanID, memberToken(t, "mod"), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/bulk-scans/missing", memberToken(t, "mod"), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNoteRequests_RequireFlagged(t *testing.T) {
	env := newTestEnv(t)
	community := env.seedCommunity(t, "guild-1")
	mod := env.seedMember(t, community.ID, "mod", domain.RoleModerator, false)

	bulkScan, err := env.repo.CreateScan(context.Background(), community.ID, "general", mod.ID, false)
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/bulk-scans/"+bulkScan.ID+"/note-requests", memberToken(t, "mod"), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	env.repo.mu.Lock()
	env.repo.flagged[bulkScan.ID] = []storage.FlaggedMessage{
		{ScanID: bulkScan.ID, MessageID: "m1", Content: "claim one", Score: 0.8},
		{ScanID: bulkScan.ID, MessageID: "m2", Content: "claim two", Score: 0.7},
	}
	env.repo.mu.Unlock()

	rec = env.do(t, http.MethodPost, "/bulk-scans/"+bulkScan.ID+"/note-requests", memberToken(t, "mod"), nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	doc := decodeDocument(t, rec)
	assert.EqualValues(t, 2, doc["meta"].(map[string]any)["count"])

	// Retrying materializes the same request rows.
	rec = env.do(t, http.MethodPost, "/bulk-scans/"+bulkScan.ID+"/note-requests", memberToken(t, "mod"), nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Len(t, env.repo.requests, 2)
}

func TestClearRequests_Modes(t *testing.T) {
	env := newTestEnv(t)
	community := env.seedCommunity(t, "guild-1")
	env.seedMember(t, community.ID, "mod", domain.RoleModerator, false)

	env.repo.mu.Lock()
	env.repo.requests["r-old"] = &domain.Request{RequestID: "r-old", CommunityID: community.ID, CreatedAt: time.Now().AddDate(0, 0, -30)}
	env.repo.requests["r-new"] = &domain.Request{RequestID: "r-new", CommunityID: community.ID, CreatedAt: time.Now()}
	env.repo.mu.Unlock()

	rec := env.do(t, http.MethodDelete, "/community-servers/"+community.ID+"/clear-requests?mode=bogus", memberToken(t, "mod"), nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = env.do(t, http.MethodDelete, "/community-servers/"+community.ID+"/clear-requests?mode=7", memberToken(t, "mod"), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	doc := decodeDocument(t, rec)
	assert.EqualValues(t, 1, doc["meta"].(map[string]any)["deleted"])

	rec = env.do(t, http.MethodDelete, "/community-servers/"+community.ID+"/clear-requests?mode=all", memberToken(t, "mod"), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	doc = decodeDocument(t, rec)
	assert.EqualValues(t, 1, doc["meta"].(map[string]any)["deleted"])
}

func TestClearNotes_PreservesPublished(t *testing.T) {
	env := newTestEnv(t)
	community := env.seedCommunity(t, "guild-1")
	author := env.seedMember(t, community.ID, "mod", domain.RoleModerator, false)

	mkNote := func(status string, forced bool) string {
		n, err := env.repo.CreateNote(context.Background(), domain.Note{
			CommunityID:    community.ID,
			AuthorID:       author.ID,
			Summary:        "n",
			Status:         status,
			ForcePublished: forced,
		})
		require.NoError(t, err)

		return n.ID
	}

	published := mkNote(domain.NoteStatusRatedHelpful, false)
	forced := mkNote(domain.NoteStatusNeedsMoreRatings, true)
	unpublished := mkNote(domain.NoteStatusNeedsMoreRatings, false)

	rec := env.do(t, http.MethodDelete, "/community-servers/"+community.ID+"/clear-notes?mode=all", memberToken(t, "mod"), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	doc := decodeDocument(t, rec)
	assert.EqualValues(t, 1, doc["meta"].(map[string]any)["deleted"])

	_, err := env.repo.GetNote(context.Background(), published)
	assert.NoError(t, err)
	_, err = env.repo.GetNote(context.Background(), forced)
	assert.NoError(t, err)
	_, err = env.repo.GetNote(context.Background(), unpublished)
	assert.Error(t, err)
}

func TestRechunk_ActiveJobConflict(t *testing.T) {
	env := newTestEnv(t)

	token := memberToken(t, "svc-operator")

	// No credentials at all.
	rec := env.do(t, http.MethodPost, "/chunks/fact-check/rechunk", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Community grants are not enough for global maintenance.
	community := env.seedCommunity(t, "guild-1")
	env.seedMember(t, community.ID, "mod", domain.RoleModerator, false)

	rec = env.do(t, http.MethodPost, "/chunks/fact-check/rechunk", memberToken(t, "mod"), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, "/chunks/fact-check/rechunk", token, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// Dispatching the same type again while the first is pending: 429 with
	// the job type and the active job id in the detail.
	rec = env.do(t, http.MethodPost, "/chunks/fact-check/rechunk", token, nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	doc := decodeDocument(t, rec)
	detail := doc["errors"].([]any)[0].(map[string]any)["detail"].(string)
	assert.Contains(t, detail, domain.JobTypeRechunkFactCheck)
	assert.Contains(t, detail, "job-")

	// A different type is unaffected.
	rec = env.do(t, http.MethodPost, "/chunks/previously-seen/rechunk", token, nil)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestCancelTask(t *testing.T) {
	env := newTestEnv(t)
	token := memberToken(t, "svc-operator")

	rec := env.do(t, http.MethodPost, "/chunks/fact-check/rechunk", token, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	doc := decodeDocument(t, rec)
	workflowID := doc["data"].(map[string]any)["id"].(string)

	rec = env.do(t, http.MethodDelete, "/chunks/tasks/"+workflowID, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Terminal now: a plain cancel is a 400, force succeeds.
	rec = env.do(t, http.MethodDelete, "/chunks/tasks/"+workflowID, token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodDelete, "/chunks/tasks/"+workflowID+"?force=true", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodDelete, "/chunks/tasks/missing", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListTasks_FiltersByStatus(t *testing.T) {
	env := newTestEnv(t)
	token := memberToken(t, "svc-operator")

	rec := env.do(t, http.MethodPost, "/chunks/fact-check/rechunk", token, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodGet, "/chunks/tasks?status=PENDING", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	doc := decodeDocument(t, rec)
	assert.EqualValues(t, 1, doc["meta"].(map[string]any)["count"])

	rec = env.do(t, http.MethodGet, "/chunks/tasks?status=COMPLETED", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	doc = decodeDocument(t, rec)
	assert.EqualValues(t, 0, doc["meta"].(map[string]any)["count"])
}

func TestListNotes_Pagination(t *testing.T) {
	env := newTestEnv(t)
	community := env.seedCommunity(t, "guild-1")
	author := env.seedMember(t, community.ID, "alice", domain.RoleMember, false)

	for i := 0; i < 5; i++ {
		_, err := env.repo.CreateNote(context.Background(), domain.Note{
			CommunityID: community.ID,
			AuthorID:    author.ID,
			Summary:     "note",
			Status:      domain.NoteStatusNeedsMoreRatings,
		})
		require.NoError(t, err)
	}

	rec := env.do(t, http.MethodGet, "/notes?filter[community_server_id]=guild-1&page[number]=1&page[size]=2", memberToken(t, "alice"), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	doc := decodeDocument(t, rec)
	assert.EqualValues(t, 5, doc["meta"].(map[string]any)["count"])
	assert.Len(t, doc["data"].([]any), 2)

	links := doc["links"].(map[string]any)
	assert.Contains(t, links, "next")
	assert.NotContains(t, links, "prev")

	// Missing mandatory filter.
	rec = env.do(t, http.MethodGet, "/notes", memberToken(t, "alice"), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteRating_OwnRatingAndModerator(t *testing.T) {
	env := newTestEnv(t)
	community := env.seedCommunity(t, "guild-1")
	author := env.seedMember(t, community.ID, "alice", domain.RoleMember, false)
	rater := env.seedMember(t, community.ID, "bob", domain.RoleMember, false)
	env.seedMember(t, community.ID, "carol", domain.RoleMember, false)
	env.seedMember(t, community.ID, "mod", domain.RoleModerator, false)

	note, err := env.repo.CreateNote(context.Background(), domain.Note{
		CommunityID: community.ID,
		AuthorID:    author.ID,
		Summary:     "context",
		Status:      domain.NoteStatusNeedsMoreRatings,
	})
	require.NoError(t, err)

	rating, err := env.repo.UpsertRating(context.Background(), domain.Rating{
		NoteID:         note.ID,
		RaterProfileID: rater.ID,
		Helpfulness:    domain.HelpfulnessHelpful,
	})
	require.NoError(t, err)

	// Another plain member may not delete someone else's rating.
	rec := env.do(t, http.MethodDelete, "/ratings/"+rating.ID, memberToken(t, "carol"), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// The rater deletes their own and the note's score is requeued.
	rec = env.do(t, http.MethodDelete, "/ratings/"+rating.ID, memberToken(t, "bob"), nil)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	require.Len(t, env.repo.recomputes, 1)
	assert.Equal(t, note.ID, env.repo.recomputes[0])

	rec = env.do(t, http.MethodDelete, "/ratings/"+rating.ID, memberToken(t, "bob"), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Moderators may delete any rating in their community.
	rating, err = env.repo.UpsertRating(context.Background(), domain.Rating{
		NoteID:         note.ID,
		RaterProfileID: rater.ID,
		Helpfulness:    domain.HelpfulnessNotHelpful,
	})
	require.NoError(t, err)

	rec = env.do(t, http.MethodDelete, "/ratings/"+rating.ID, memberToken(t, "mod"), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestNoteRequests_ListAndDismiss(t *testing.T) {
	env := newTestEnv(t)
	community := env.seedCommunity(t, "guild-1")
	env.seedMember(t, community.ID, "alice", domain.RoleMember, false)
	env.seedMember(t, community.ID, "mod", domain.RoleModerator, false)

	for _, reqID := range []string{"req-a", "req-b"} {
		_, err := env.repo.CreateRequest(context.Background(), domain.Request{
			RequestID:   reqID,
			CommunityID: community.ID,
			Content:     "claim text",
		})
		require.NoError(t, err)
	}

	// Listing needs the community filter.
	rec := env.do(t, http.MethodGet, "/note-requests", memberToken(t, "alice"), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/note-requests?filter[community_server_id]=guild-1", memberToken(t, "alice"), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	doc := decodeDocument(t, rec)
	assert.EqualValues(t, 2, doc["meta"].(map[string]any)["count"])

	// Plain members may not change request status.
	body := jsonapiBody(t, "note-requests", "", map[string]any{"status": domain.RequestStatusDismissed})
	rec = env.do(t, http.MethodPatch, "/note-requests/req-a", memberToken(t, "alice"), body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Unknown status fails validation.
	body = jsonapiBody(t, "note-requests", "", map[string]any{"status": "archived"})
	rec = env.do(t, http.MethodPatch, "/note-requests/req-a", memberToken(t, "mod"), body)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	body = jsonapiBody(t, "note-requests", "", map[string]any{"status": domain.RequestStatusDismissed})
	rec = env.do(t, http.MethodPatch, "/note-requests/req-a", memberToken(t, "mod"), body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	doc = decodeDocument(t, rec)
	attrs := doc["data"].(map[string]any)["attributes"].(map[string]any)
	assert.Equal(t, domain.RequestStatusDismissed, attrs["status"])

	// Dismissed requests drop out of the pending view.
	rec = env.do(t, http.MethodGet, "/note-requests?filter[community_server_id]=guild-1&filter[status]=pending", memberToken(t, "alice"), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	doc = decodeDocument(t, rec)
	assert.EqualValues(t, 1, doc["meta"].(map[string]any)["count"])

	rec = env.do(t, http.MethodPatch, "/note-requests/missing", memberToken(t, "mod"), jsonapiBody(t, "note-requests", "", map[string]any{"status": domain.RequestStatusDismissed}))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateNote_FulfillsRequest(t *testing.T) {
	env := newTestEnv(t)
	community := env.seedCommunity(t, "guild-1")
	env.seedMember(t, community.ID, "alice", domain.RoleMember, false)

	_, err := env.repo.CreateRequest(context.Background(), domain.Request{
		RequestID:   "req-a",
		CommunityID: community.ID,
		Content:     "claim text",
	})
	require.NoError(t, err)

	body := jsonapiBody(t, "notes", "", map[string]any{
		"community_server_id": "guild-1",
		"summary":             "missing context",
		"classification":      domain.ClassificationMisleading,
		"request_id":          "req-a",
	})

	rec := env.do(t, http.MethodPost, "/notes", memberToken(t, "alice"), body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	req, err := env.repo.GetRequestByRequestID(context.Background(), "req-a")
	require.NoError(t, err)
	assert.Equal(t, domain.RequestStatusFulfilled, req.Status)
}

func TestAuditTrail_ManageOnly(t *testing.T) {
	env := newTestEnv(t)
	community := env.seedCommunity(t, "guild-1")
	author := env.seedMember(t, community.ID, "alice", domain.RoleMember, false)
	env.seedMember(t, community.ID, "mod", domain.RoleModerator, false)

	note, err := env.repo.CreateNote(context.Background(), domain.Note{
		CommunityID: community.ID,
		AuthorID:    author.ID,
		Summary:     "context",
		Status:      domain.NoteStatusNeedsMoreRatings,
	})
	require.NoError(t, err)

	// A moderator action lands in the trail.
	body := jsonapiBody(t, "notes", note.ID, map[string]any{"force_published": true})
	rec := env.do(t, http.MethodPatch, "/notes/"+note.ID, memberToken(t, "mod"), body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/community-servers/"+community.ID+"/audit", memberToken(t, "alice"), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodGet, "/community-servers/"+community.ID+"/audit", memberToken(t, "mod"), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	doc := decodeDocument(t, rec)
	data := doc["data"].([]any)
	require.Len(t, data, 1)

	attrs := data[0].(map[string]any)["attributes"].(map[string]any)
	assert.Equal(t, "note.force_publish", attrs["action"])
	assert.Equal(t, "mod", attrs["actor"])
}
