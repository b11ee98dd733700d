package chunker

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/opennotes/opennotes/internal/core/errors"
)

func TestChunkText_Empty(t *testing.T) {
	c := New(Config{})

	chunks, err := c.ChunkText(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, chunks)

	chunks, err = c.ChunkText(context.Background(), "   \n\t ")
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestChunkTextWithPositions_IndicesAndPositions(t *testing.T) {
	c := New(Config{MaxTokens: 8, OverlapSentences: 0})

	text := "The first claim is here. The second claim follows it. A third sentence closes the document."

	chunks, err := c.ChunkTextWithPositions(context.Background(), text)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	for i, ch := range chunks {
		assert.Equal(t, i, ch.ChunkIndex)
		assert.LessOrEqual(t, ch.Start, ch.End)
		assert.LessOrEqual(t, ch.End, len(text))
		assert.Positive(t, ch.TokenCount)
	}

	// Positions must point back into the source text.
	first := chunks[0]
	assert.True(t, strings.HasPrefix(text[first.Start:first.End], "The first claim"))
}

func TestChunkTextWithPositions_AbbreviationsDoNotSplit(t *testing.T) {
	c := New(Config{MaxTokens: 100})

	chunks, err := c.ChunkTextWithPositions(context.Background(), "Dr. Smith said the vaccine works. It was approved in 2021.")
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	assert.Contains(t, chunks[0].Text, "Dr. Smith said the vaccine works.")
}

func TestChunkTextWithPositions_DecimalsDoNotSplit(t *testing.T) {
	c := New(Config{MaxTokens: 100})

	chunks, err := c.ChunkText(context.Background(), "Inflation reached 3.5 percent in June. The rate fell later.")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
}

func TestChunkDocuments_IndicesRestartPerDocument(t *testing.T) {
	c := New(Config{MaxTokens: 4, OverlapSentences: 0})

	docs := []string{
		"One claim here. Another claim there. A third claim too.",
		"Separate document first sentence. Separate document second sentence.",
	}

	out, err := c.ChunkDocuments(context.Background(), docs)
	require.NoError(t, err)
	require.Len(t, out, 2)

	for _, chunks := range out {
		for i, ch := range chunks {
			assert.Equal(t, i, ch.ChunkIndex)
		}
	}
}

func TestLoadModel_TransientRetriesThenSucceeds(t *testing.T) {
	attempts := 0

	c := New(Config{Loader: func(_ context.Context) (*Model, error) {
		attempts++
		if attempts < 3 {
			return nil, context.DeadlineExceeded
		}

		return builtinLoader(context.Background())
	}})

	_, err := c.ChunkText(context.Background(), "A short sentence.")
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestLoadModel_FileErrorsRetry(t *testing.T) {
	attempts := 0

	c := New(Config{Loader: func(_ context.Context) (*Model, error) {
		attempts++
		if attempts < 2 {
			return nil, fmt.Errorf("read segmentation model: %w",
				&fs.PathError{Op: "open", Path: "abbrev.txt", Err: syscall.EAGAIN})
		}

		return builtinLoader(context.Background())
	}})

	_, err := c.ChunkText(context.Background(), "A short sentence.")
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestLoadModel_PermanentErrorFailsFast(t *testing.T) {
	attempts := 0
	permanent := errors.New("corrupt model file")

	c := New(Config{Loader: func(_ context.Context) (*Model, error) {
		attempts++
		return nil, permanent
	}})

	_, err := c.ChunkText(context.Background(), "A short sentence.")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrModelLoad)
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, attempts)
}

func TestLoadModel_LoadedOnce(t *testing.T) {
	attempts := 0

	c := New(Config{Loader: func(_ context.Context) (*Model, error) {
		attempts++
		return builtinLoader(context.Background())
	}})

	for i := 0; i < 3; i++ {
		_, err := c.ChunkText(context.Background(), "A short sentence.")
		require.NoError(t, err)
	}

	assert.Equal(t, 1, attempts)
}
