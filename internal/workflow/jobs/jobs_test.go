package jobs

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opennotes/opennotes/internal/core/chunker"
	"github.com/opennotes/opennotes/internal/core/domain"
	"github.com/opennotes/opennotes/internal/core/embeddings"
)

type fakeItemStore struct {
	mu       sync.Mutex
	items    map[string]domain.FactCheckItem
	chunks   map[string][]domain.FactCheckChunk
	existing map[string]bool
	nextID   int
}

func newFakeItemStore() *fakeItemStore {
	return &fakeItemStore{
		items:    make(map[string]domain.FactCheckItem),
		chunks:   make(map[string][]domain.FactCheckChunk),
		existing: make(map[string]bool),
	}
}

func (f *fakeItemStore) ListItemIDs(_ context.Context, _ string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ids := make([]string, 0, len(f.items))
	for id := range f.items {
		ids = append(ids, id)
	}

	return ids, nil
}

func (f *fakeItemStore) GetItem(_ context.Context, id string) (*domain.FactCheckItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	item := f.items[id]

	return &item, nil
}

func (f *fakeItemStore) ReplaceChunks(_ context.Context, itemID string, chunks []domain.FactCheckChunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.chunks[itemID] = chunks

	return nil
}

func (f *fakeItemStore) InsertItem(_ context.Context, item domain.FactCheckItem) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	id := fmt.Sprintf("item-%d", f.nextID)
	item.ID = id
	f.items[id] = item

	if item.SourceURL != "" {
		f.existing[item.SourceURL] = true
	}

	return id, nil
}

func (f *fakeItemStore) ItemExistsBySourceURL(_ context.Context, sourceURL string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.existing[sourceURL], nil
}

type fakeChunker struct{}

func (fakeChunker) ChunkTextWithPositions(_ context.Context, text string) ([]chunker.Chunk, error) {
	return []chunker.Chunk{{Text: text, Start: 0, End: len(text), ChunkIndex: 0, TokenCount: len(strings.Fields(text))}}, nil
}

type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeEmbedder) Generate(_ context.Context, _, _ string) (embeddings.Result, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	return embeddings.Result{
		Vector:     []float32{0.1, 0.2, 0.3},
		Dimensions: 3,
		Provider:   embeddings.ProviderMock,
		Model:      "mock-embedder",
	}, nil
}

func TestImportCSV_ItemsAndProcess(t *testing.T) {
	logger := zerolog.Nop()
	store := newFakeItemStore()

	csv := strings.Join([]string{
		"title,content,rating,source_url,tags",
		`"Moon landing","The landing happened in 1969.",true,https://example.org/moon,"history;space"`,
		`"Flat earth","The earth is not flat.",false,https://example.org/earth,`,
	}, "\n")

	job := &ImportCSV{
		Store:    store,
		Chunker:  fakeChunker{},
		Embedder: &fakeEmbedder{},
		Reader:   strings.NewReader(csv),
		Dataset:  "claims",
		Logger:   &logger,
	}

	items, err := job.Items(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"0", "1"}, items)

	for _, item := range items {
		require.NoError(t, job.Process(context.Background(), item))
	}

	assert.Len(t, store.items, 2)

	var moon domain.FactCheckItem
	for _, it := range store.items {
		if it.Title == "Moon landing" {
			moon = it
		}
	}

	assert.Equal(t, "claims", moon.Dataset)
	assert.Equal(t, "true", moon.Rating)
	assert.Equal(t, []string{"history", "space"}, moon.Tags)

	// Every imported row got chunked and embedded.
	assert.Len(t, store.chunks, 2)
}

func TestImportCSV_SkipsExistingSourceURL(t *testing.T) {
	logger := zerolog.Nop()
	store := newFakeItemStore()
	store.existing["https://example.org/moon"] = true

	csv := strings.Join([]string{
		"title,content,source_url",
		`"Moon landing","Already imported.",https://example.org/moon`,
	}, "\n")

	job := &ImportCSV{
		Store:    store,
		Chunker:  fakeChunker{},
		Embedder: &fakeEmbedder{},
		Reader:   strings.NewReader(csv),
		Dataset:  "claims",
		Logger:   &logger,
	}

	items, err := job.Items(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)

	require.NoError(t, job.Process(context.Background(), items[0]))
	assert.Empty(t, store.items)
}

func TestImportCSV_MissingColumn(t *testing.T) {
	logger := zerolog.Nop()

	job := &ImportCSV{
		Store:    newFakeItemStore(),
		Chunker:  fakeChunker{},
		Embedder: &fakeEmbedder{},
		Reader:   strings.NewReader("title,rating\nfoo,true\n"),
		Dataset:  "claims",
		Logger:   &logger,
	}

	_, err := job.Items(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"content"`)
}

func TestImportCSV_EmptyContentFailsRow(t *testing.T) {
	logger := zerolog.Nop()

	job := &ImportCSV{
		Store:    newFakeItemStore(),
		Chunker:  fakeChunker{},
		Embedder: &fakeEmbedder{},
		Reader:   strings.NewReader("title,content\nfoo,\n"),
		Dataset:  "claims",
		Logger:   &logger,
	}

	items, err := job.Items(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)

	err = job.Process(context.Background(), items[0])
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty content")
}

func TestRechunkFactCheck_RebuildsChunks(t *testing.T) {
	logger := zerolog.Nop()
	store := newFakeItemStore()
	store.items["item-1"] = domain.FactCheckItem{ID: "item-1", Content: "The claim was rated false."}
	store.chunks["item-1"] = []domain.FactCheckChunk{{ItemID: "item-1", Content: "stale"}}

	embedder := &fakeEmbedder{}

	job := &RechunkFactCheck{
		Store:    store,
		Chunker:  fakeChunker{},
		Embedder: embedder,
		Logger:   &logger,
	}

	items, err := job.Items(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"item-1"}, items)

	require.NoError(t, job.Process(context.Background(), "item-1"))

	chunks := store.chunks["item-1"]
	require.Len(t, chunks, 1)
	assert.Equal(t, "The claim was rated false.", chunks[0].Content)
	assert.Equal(t, string(embeddings.ProviderMock), chunks[0].Provider)
	assert.Equal(t, 1, embedder.calls)
}

type fakeSeenStore struct {
	content map[string]string
	updated map[string][]float32
}

func (f *fakeSeenStore) ListPreviouslySeenIDs(_ context.Context, _ string) ([]string, error) {
	ids := make([]string, 0, len(f.content))
	for id := range f.content {
		ids = append(ids, id)
	}

	return ids, nil
}

func (f *fakeSeenStore) GetPreviouslySeenContent(_ context.Context, id string) (string, string, error) {
	return "community-1", f.content[id], nil
}

func (f *fakeSeenStore) UpdatePreviouslySeenEmbedding(_ context.Context, id string, embedding []float32, _, _ string) error {
	f.updated[id] = embedding

	return nil
}

func TestRechunkPreviouslySeen_SkipsEmptyContent(t *testing.T) {
	logger := zerolog.Nop()
	store := &fakeSeenStore{
		content: map[string]string{"seen-1": "the mayor said this in 2020", "seen-2": ""},
		updated: make(map[string][]float32),
	}

	job := &RechunkPreviouslySeen{
		Store:       store,
		Embedder:    &fakeEmbedder{},
		CommunityID: "community-1",
		Logger:      &logger,
	}

	require.NoError(t, job.Process(context.Background(), "seen-1"))
	require.NoError(t, job.Process(context.Background(), "seen-2"))

	assert.Contains(t, store.updated, "seen-1")
	assert.NotContains(t, store.updated, "seen-2")
}
