package seen

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opennotes/opennotes/internal/core/domain"
	apperrors "github.com/opennotes/opennotes/internal/core/errors"
	"github.com/opennotes/opennotes/internal/core/embeddings"
	"github.com/opennotes/opennotes/internal/storage"
)

type fakeStore struct {
	matchesByCommunity map[string][]storage.SeenMatch
	channels           map[string]*domain.MonitoredChannel
	recorded           map[string]string
	searchedCommunity  string
}

func (f *fakeStore) SearchPreviouslySeen(_ context.Context, communityID string, _ []float32, _ int) ([]storage.SeenMatch, error) {
	f.searchedCommunity = communityID
	return f.matchesByCommunity[communityID], nil
}

func (f *fakeStore) RecordPreviouslySeen(_ context.Context, msg domain.PreviouslySeenMessage) (string, error) {
	if f.recorded == nil {
		f.recorded = map[string]string{}
	}

	key := msg.CommunityID + "/" + msg.OriginalMessageID
	if id, ok := f.recorded[key]; ok {
		return id, nil
	}

	id := "row-" + msg.OriginalMessageID
	f.recorded[key] = id

	return id, nil
}

func (f *fakeStore) GetChannel(_ context.Context, communityID, channelID string) (*domain.MonitoredChannel, error) {
	ch, ok := f.channels[communityID+"/"+channelID]
	if !ok {
		return nil, apperrors.ErrChannelNotFound
	}

	return ch, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Generate(_ context.Context, _ string, _ string) (embeddings.Result, error) {
	return embeddings.Result{Vector: []float32{1, 0}, Provider: "mock", Model: "mock"}, nil
}

func newTestCache(store *fakeStore) *Cache {
	logger := zerolog.Nop()
	return New(store, fakeEmbedder{}, Config{}, &logger)
}

func TestCheck_DefaultThresholds(t *testing.T) {
	store := &fakeStore{
		matchesByCommunity: map[string][]storage.SeenMatch{
			"c1": {{ID: "s1", OriginalMessageID: "m1", Score: 0.95}},
		},
	}

	result, err := newTestCache(store).Check(context.Background(), "c1", "", "repeat message")
	require.NoError(t, err)

	assert.InDelta(t, 0.9, result.AutoPublishThreshold, 0.0001)
	assert.InDelta(t, 0.75, result.AutoRequestThreshold, 0.0001)
	assert.True(t, result.ShouldAutoPublish)
	assert.True(t, result.ShouldAutoRequest)
	require.NotNil(t, result.TopMatch)
	assert.Equal(t, "s1", result.TopMatch.ID)
}

func TestCheck_BetweenThresholds(t *testing.T) {
	store := &fakeStore{
		matchesByCommunity: map[string][]storage.SeenMatch{
			"c1": {{ID: "s1", OriginalMessageID: "m1", Score: 0.8}},
		},
	}

	result, err := newTestCache(store).Check(context.Background(), "c1", "", "repeat message")
	require.NoError(t, err)

	assert.False(t, result.ShouldAutoPublish)
	assert.True(t, result.ShouldAutoRequest)
}

func TestCheck_ChannelOverride(t *testing.T) {
	lower := float32(0.5)
	store := &fakeStore{
		matchesByCommunity: map[string][]storage.SeenMatch{
			"c1": {{ID: "s1", OriginalMessageID: "m1", Score: 0.6}},
		},
		channels: map[string]*domain.MonitoredChannel{
			"c1/ch1": {CommunityID: "c1", ChannelID: "ch1", AutoPublishThreshold: &lower},
		},
	}

	result, err := newTestCache(store).Check(context.Background(), "c1", "ch1", "repeat message")
	require.NoError(t, err)

	// Override applies to publish; nil request override inherits 0.75.
	assert.InDelta(t, 0.5, result.AutoPublishThreshold, 0.0001)
	assert.InDelta(t, 0.75, result.AutoRequestThreshold, 0.0001)
	assert.True(t, result.ShouldAutoPublish)
	assert.False(t, result.ShouldAutoRequest)
}

func TestCheck_UnknownChannelInheritsDefaults(t *testing.T) {
	store := &fakeStore{
		matchesByCommunity: map[string][]storage.SeenMatch{"c1": {}},
	}

	result, err := newTestCache(store).Check(context.Background(), "c1", "ghost", "some message")
	require.NoError(t, err)

	assert.InDelta(t, 0.9, result.AutoPublishThreshold, 0.0001)
	assert.InDelta(t, 0.75, result.AutoRequestThreshold, 0.0001)
	assert.Nil(t, result.TopMatch)
}

func TestCheck_CommunityScoped(t *testing.T) {
	store := &fakeStore{
		matchesByCommunity: map[string][]storage.SeenMatch{
			"other": {{ID: "leak", Score: 0.99}},
		},
	}

	result, err := newTestCache(store).Check(context.Background(), "c1", "", "some message")
	require.NoError(t, err)

	assert.Equal(t, "c1", store.searchedCommunity)
	assert.Empty(t, result.Matches)
	assert.False(t, result.ShouldAutoPublish)
}

func TestRecord_Idempotent(t *testing.T) {
	store := &fakeStore{}
	cache := newTestCache(store)

	first, err := cache.Record(context.Background(), "c1", "m1", "n1", "text", nil)
	require.NoError(t, err)

	second, err := cache.Record(context.Background(), "c1", "m1", "n1", "text", nil)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}
