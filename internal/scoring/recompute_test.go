package scoring

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opennotes/opennotes/internal/core/domain"
)

type fakeNoteStore struct {
	fakeRatingsStore

	note        domain.Note
	noteRatings []domain.Rating
	noteCount   int

	savedScore  int
	savedStatus string
}

func (f *fakeNoteStore) GetNote(_ context.Context, _ string) (*domain.Note, error) {
	n := f.note
	return &n, nil
}

func (f *fakeNoteStore) ListRatingsForNote(_ context.Context, _ string) ([]domain.Rating, error) {
	return f.noteRatings, nil
}

func (f *fakeNoteStore) CountNotes(_ context.Context, _ string) (int, error) {
	return f.noteCount, nil
}

func (f *fakeNoteStore) UpdateNoteScore(_ context.Context, _ string, score int, status string) error {
	f.savedScore = score
	f.savedStatus = status

	return nil
}

func newTestRecomputer(store *fakeNoteStore) *Recomputer {
	logger := zerolog.Nop()
	factory := NewFactory(&store.fakeRatingsStore, FactoryConfig{TierBoundary: 200, MinRatings: 5})

	return NewRecomputer(store, factory, &logger)
}

func TestRecompute_FewRatingsNeedsMore(t *testing.T) {
	store := &fakeNoteStore{
		note:        domain.Note{ID: "n1", CommunityID: "c1"},
		noteRatings: ratingsFor("n1", domain.HelpfulnessHelpful, domain.HelpfulnessHelpful),
		noteCount:   10,
	}

	result, err := newTestRecomputer(store).Recompute(context.Background(), "n1")
	require.NoError(t, err)

	assert.Equal(t, domain.NoteStatusNeedsMoreRatings, store.savedStatus)
	assert.Equal(t, PersistedScore(result.Score), store.savedScore)
}

func TestRecompute_HelpfulAboveThreshold(t *testing.T) {
	helpful := make([]string, 8)
	for i := range helpful {
		helpful[i] = domain.HelpfulnessHelpful
	}

	store := &fakeNoteStore{
		note:        domain.Note{ID: "n1", CommunityID: "c1"},
		noteRatings: ratingsFor("n1", helpful...),
		noteCount:   10,
	}

	_, err := newTestRecomputer(store).Recompute(context.Background(), "n1")
	require.NoError(t, err)

	assert.Equal(t, domain.NoteStatusRatedHelpful, store.savedStatus)
	assert.GreaterOrEqual(t, store.savedScore, 50)
	assert.LessOrEqual(t, store.savedScore, 100)
}

func TestRecompute_NotHelpfulBelowThreshold(t *testing.T) {
	notHelpful := make([]string, 20)
	for i := range notHelpful {
		notHelpful[i] = domain.HelpfulnessNotHelpful
	}

	store := &fakeNoteStore{
		note:        domain.Note{ID: "n1", CommunityID: "c1"},
		noteRatings: ratingsFor("n1", notHelpful...),
		noteCount:   10,
	}

	_, err := newTestRecomputer(store).Recompute(context.Background(), "n1")
	require.NoError(t, err)

	assert.Equal(t, domain.NoteStatusRatedNotHelpful, store.savedStatus)
	assert.Less(t, store.savedScore, 50)
}

func TestRecompute_ReRatingFlipsStatus(t *testing.T) {
	// One rater flips from NOT_HELPFUL to HELPFUL across recomputes; with
	// five raters total the status follows the majority value.
	base := []string{
		domain.HelpfulnessHelpful, domain.HelpfulnessHelpful,
		domain.HelpfulnessNotHelpful, domain.HelpfulnessNotHelpful,
	}

	store := &fakeNoteStore{
		note:      domain.Note{ID: "n1", CommunityID: "c1"},
		noteCount: 10,
	}
	r := newTestRecomputer(store)

	store.noteRatings = ratingsFor("n1", append(base, domain.HelpfulnessNotHelpful)...)

	_, err := r.Recompute(context.Background(), "n1")
	require.NoError(t, err)
	assert.Equal(t, domain.NoteStatusRatedNotHelpful, store.savedStatus)

	store.noteRatings = ratingsFor("n1", append(base, domain.HelpfulnessHelpful)...)

	_, err = r.Recompute(context.Background(), "n1")
	require.NoError(t, err)
	assert.Equal(t, domain.NoteStatusRatedHelpful, store.savedStatus)
}

func TestRecompute_LargeCommunityUsesMF(t *testing.T) {
	var all []domain.Rating
	for i := 0; i < 10; i++ {
		all = append(all, domain.Rating{
			NoteID:         "n1",
			RaterProfileID: fmt.Sprintf("u%d", i),
			Helpfulness:    domain.HelpfulnessHelpful,
		})
	}

	store := &fakeNoteStore{
		note:        domain.Note{ID: "n1", CommunityID: "c1"},
		noteRatings: all,
		noteCount:   500,
	}
	store.ratings = all
	store.version = 1

	_, err := newTestRecomputer(store).Recompute(context.Background(), "n1")
	require.NoError(t, err)

	assert.Equal(t, 1, store.listCalls)
}
