// Package chunker splits fact-check bodies into semantic chunks sized for
// embedding and lexical indexing.
package chunker

import (
	"context"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"

	apperrors "github.com/opennotes/opennotes/internal/core/errors"
)

const (
	defaultMaxTokens    = 256
	defaultOverlapSents = 1

	maxModelLoadAttempts = 3
	modelLoadRetryDelay  = 250 * time.Millisecond
)

// Chunk is one segment of a document with its byte positions in the
// original text.
type Chunk struct {
	Text       string
	Start      int
	End        int
	ChunkIndex int
	TokenCount int
}

// Model holds the sentence segmentation data the chunker runs on.
type Model struct {
	// Abbreviations that must not terminate a sentence ("dr.", "e.g.").
	Abbreviations map[string]struct{}
}

// ModelLoader produces a Model. Custom loaders may fetch segmentation data
// from disk or network; failures that look transient are retried.
type ModelLoader func(ctx context.Context) (*Model, error)

// Config controls chunk sizing.
type Config struct {
	// MaxTokens caps the approximate token count per chunk.
	MaxTokens int

	// OverlapSentences carries trailing sentences of one chunk into the
	// next for context continuity.
	OverlapSentences int

	// Loader overrides the built-in segmentation model.
	Loader ModelLoader
}

// Chunker splits text into chunks. The model is loaded lazily on first use
// and shared across goroutines.
type Chunker struct {
	cfg Config

	mu    sync.Mutex
	model *Model
}

// New creates a chunker. The model is not loaded until the first chunking
// call.
func New(cfg Config) *Chunker {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}

	if cfg.OverlapSentences < 0 {
		cfg.OverlapSentences = defaultOverlapSents
	}

	if cfg.Loader == nil {
		cfg.Loader = builtinLoader
	}

	return &Chunker{cfg: cfg}
}

// ChunkText splits text and returns only the chunk bodies.
func (c *Chunker) ChunkText(ctx context.Context, text string) ([]string, error) {
	chunks, err := c.ChunkTextWithPositions(ctx, text)
	if err != nil {
		return nil, err
	}

	out := make([]string, len(chunks))
	for i, ch := range chunks {
		out[i] = ch.Text
	}

	return out, nil
}

// ChunkTextWithPositions splits text into chunks carrying byte positions,
// per-document indices starting at 0, and token counts. Empty input yields
// an empty slice.
func (c *Chunker) ChunkTextWithPositions(ctx context.Context, text string) ([]Chunk, error) {
	if strings.TrimSpace(text) == "" {
		return []Chunk{}, nil
	}

	model, err := c.loadModel(ctx)
	if err != nil {
		return nil, err
	}

	normalized := norm.NFC.String(text)
	sentences := segmentSentences(normalized, model)

	return assemble(sentences, c.cfg.MaxTokens, c.cfg.OverlapSentences), nil
}

// ChunkDocuments splits each document independently; chunk indices restart
// at 0 per document.
func (c *Chunker) ChunkDocuments(ctx context.Context, docs []string) ([][]Chunk, error) {
	out := make([][]Chunk, len(docs))

	for i, doc := range docs {
		chunks, err := c.ChunkTextWithPositions(ctx, doc)
		if err != nil {
			return nil, fmt.Errorf("chunk document %d: %w", i, err)
		}

		out[i] = chunks
	}

	return out, nil
}

// loadModel performs the lazy double-checked load, retrying transient
// failures up to three times.
func (c *Chunker) loadModel(ctx context.Context) (*Model, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.model != nil {
		return c.model, nil
	}

	var lastErr error

	for attempt := 0; attempt < maxModelLoadAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %w", apperrors.ErrModelLoad, ctx.Err())
			case <-time.After(modelLoadRetryDelay << (attempt - 1)):
			}
		}

		model, err := c.cfg.Loader(ctx)
		if err == nil {
			c.model = model
			return model, nil
		}

		lastErr = err

		if !isTransientLoadError(err) {
			break
		}
	}

	return nil, fmt.Errorf("%w: %w", apperrors.ErrModelLoad, lastErr)
}

func isTransientLoadError(err error) bool {
	if apperrors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if apperrors.As(err, &netErr) {
		return true
	}

	// Filesystem loaders surface *fs.PathError (or a bare errno) when the
	// model file is briefly unavailable, e.g. mid-rotation on shared
	// storage. Those deserve the same retry as a network hiccup.
	var pathErr *fs.PathError
	if apperrors.As(err, &pathErr) {
		return true
	}

	var errno syscall.Errno
	if apperrors.As(err, &errno) {
		return true
	}

	return false
}

func builtinLoader(_ context.Context) (*Model, error) {
	abbrevs := map[string]struct{}{}
	for _, a := range []string{"dr", "mr", "mrs", "ms", "prof", "sr", "jr", "st", "vs", "etc", "e.g", "i.e", "no", "vol", "fig", "approx"} {
		abbrevs[a] = struct{}{}
	}

	return &Model{Abbreviations: abbrevs}, nil
}

// FileLoader reads a newline-separated abbreviation list from disk and
// merges it over the builtin model. Lines starting with # are ignored.
func FileLoader(path string) ModelLoader {
	return func(ctx context.Context) (*Model, error) {
		model, err := builtinLoader(ctx)
		if err != nil {
			return nil, err
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read segmentation model %s: %w", path, err)
		}

		for _, line := range strings.Split(string(data), "\n") {
			line = strings.ToLower(strings.TrimSpace(line))
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}

			model.Abbreviations[strings.TrimSuffix(line, ".")] = struct{}{}
		}

		return model, nil
	}
}

type sentence struct {
	text  string
	start int
	end   int
}

// segmentSentences splits on sentence terminators, treating known
// abbreviations and decimal points as non-terminal.
func segmentSentences(text string, model *Model) []sentence {
	var (
		out   []sentence
		start = -1
	)

	runes := []rune(text)
	byteAt := byteOffsets(text, runes)

	flush := func(endRune int) {
		if start < 0 {
			return
		}

		s := strings.TrimSpace(string(runes[start:endRune]))
		if s == "" {
			start = -1
			return
		}

		out = append(out, sentence{text: s, start: byteAt[start], end: byteAt[endRune]})
		start = -1
	}

	for i := 0; i < len(runes); i++ {
		r := runes[i]

		if start < 0 && !unicode.IsSpace(r) {
			start = i
		}

		switch r {
		case '\n':
			// A blank line always terminates, even without punctuation.
			if i+1 < len(runes) && runes[i+1] == '\n' {
				flush(i)
			}
		case '.', '!', '?':
			if r == '.' && !terminalPeriod(runes, i, model) {
				continue
			}

			flush(i + 1)
		}
	}

	flush(len(runes))

	return out
}

// terminalPeriod reports whether the period at index i ends a sentence.
func terminalPeriod(runes []rune, i int, model *Model) bool {
	// Decimal point.
	if i > 0 && i+1 < len(runes) && unicode.IsDigit(runes[i-1]) && unicode.IsDigit(runes[i+1]) {
		return false
	}

	// Trailing word, lowercased, without the period.
	j := i - 1
	for j >= 0 && (unicode.IsLetter(runes[j]) || runes[j] == '.') {
		j--
	}

	word := strings.ToLower(strings.TrimSuffix(string(runes[j+1:i]), "."))
	if _, ok := model.Abbreviations[word]; ok {
		return false
	}

	// Initials like "J." in names.
	if len(word) == 1 {
		return false
	}

	return true
}

// assemble packs sentences into chunks of at most maxTokens, carrying
// overlap sentences between consecutive chunks.
func assemble(sentences []sentence, maxTokens, overlap int) []Chunk {
	if len(sentences) == 0 {
		return []Chunk{}
	}

	var (
		out     []Chunk
		current []sentence
		tokens  int
	)

	flush := func() {
		if len(current) == 0 {
			return
		}

		parts := make([]string, len(current))
		for i, s := range current {
			parts[i] = s.text
		}

		out = append(out, Chunk{
			Text:       strings.Join(parts, " "),
			Start:      current[0].start,
			End:        current[len(current)-1].end,
			ChunkIndex: len(out),
			TokenCount: tokens,
		})

		// Seed the next chunk with the trailing overlap sentences.
		if overlap > 0 && overlap < len(current) {
			tail := current[len(current)-overlap:]
			current = append([]sentence{}, tail...)
			tokens = 0
			for _, s := range current {
				tokens += countTokens(s.text)
			}
		} else {
			current = nil
			tokens = 0
		}
	}

	for _, s := range sentences {
		n := countTokens(s.text)

		if tokens > 0 && tokens+n > maxTokens {
			flush()
		}

		current = append(current, s)
		tokens += n
	}

	// Suppress a final chunk that is pure overlap of the previous one.
	if len(out) > 0 && len(current) <= overlap {
		allOverlap := true
		last := out[len(out)-1]
		for _, s := range current {
			if s.end > last.End {
				allOverlap = false
				break
			}
		}

		if allOverlap {
			return out
		}
	}

	if len(current) > 0 {
		parts := make([]string, len(current))
		sum := 0
		for i, s := range current {
			parts[i] = s.text
			sum += countTokens(s.text)
		}

		out = append(out, Chunk{
			Text:       strings.Join(parts, " "),
			Start:      current[0].start,
			End:        current[len(current)-1].end,
			ChunkIndex: len(out),
			TokenCount: sum,
		})
	}

	return out
}

// countTokens approximates token count as whitespace-delimited fields.
func countTokens(s string) int {
	return len(strings.Fields(s))
}

// byteOffsets maps rune index to byte offset, with one extra entry for the
// end of string.
func byteOffsets(text string, runes []rune) []int {
	offsets := make([]int, len(runes)+1)

	b := 0
	for i, r := range runes {
		offsets[i] = b
		b += len(string(r))
	}

	offsets[len(runes)] = len(text)

	return offsets
}
