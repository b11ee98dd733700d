package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"

	"github.com/opennotes/opennotes/internal/core/domain"
)

// ImportFeed imports fact-check articles from an RSS/Atom feed. Each entry
// is scraped for full article text, then chunked and embedded like any
// other item.
type ImportFeed struct {
	Store    ItemStore
	Chunker  Chunker
	Embedder Embedder
	Scraper  *Scraper
	FeedURL  string
	Dataset  string
	Tags     []string
	Logger   *zerolog.Logger

	mu      sync.Mutex
	entries map[string]*gofeed.Item
}

// Type implements workflow.Workflow.
func (j *ImportFeed) Type() string { return domain.JobTypeImportFactCheckFeed }

// Items fetches the feed and enumerates entry links as work items.
func (j *ImportFeed) Items(ctx context.Context) ([]string, error) {
	parser := gofeed.NewParser()

	feed, err := parser.ParseURLWithContext(j.FeedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", j.FeedURL, err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	j.entries = make(map[string]*gofeed.Item, len(feed.Items))

	var links []string

	for _, item := range feed.Items {
		link := strings.TrimSpace(item.Link)
		if link == "" {
			continue
		}

		if _, seen := j.entries[link]; seen {
			continue
		}

		j.entries[link] = item
		links = append(links, link)
	}

	j.Logger.Info().
		Str("feed", j.FeedURL).
		Int("entries", len(links)).
		Msg("feed parsed")

	return links, nil
}

// Process imports one feed entry: skip known URLs, scrape the article,
// insert and index it.
func (j *ImportFeed) Process(ctx context.Context, link string) error {
	j.mu.Lock()
	entry := j.entries[link]
	j.mu.Unlock()

	if entry == nil {
		return fmt.Errorf("unknown feed entry %s", link)
	}

	exists, err := j.Store.ItemExistsBySourceURL(ctx, link)
	if err != nil {
		return fmt.Errorf("duplicate check: %w", err)
	}

	if exists {
		j.Logger.Debug().Str("source_url", link).Msg("feed entry already imported, skipping")
		return nil
	}

	page, err := j.Scraper.Fetch(ctx, link)
	if err != nil {
		return fmt.Errorf("scrape %s: %w", link, err)
	}

	title := entry.Title
	if title == "" {
		title = page.Title
	}

	content := page.Content
	if strings.TrimSpace(content) == "" {
		content = strings.TrimSpace(entry.Description)
	}

	if content == "" {
		return fmt.Errorf("entry %s has no extractable content", link)
	}

	item := domain.FactCheckItem{
		Dataset:   j.Dataset,
		Title:     title,
		Content:   content,
		SourceURL: link,
		Tags:      j.Tags,
	}

	if !page.PublishedAt.IsZero() {
		// Keep the article date visible to reviewers via tags metadata.
		item.Tags = append(append([]string{}, j.Tags...), "published:"+page.PublishedAt.Format("2006-01-02"))
	}

	id, err := j.Store.InsertItem(ctx, item)
	if err != nil {
		return fmt.Errorf("insert feed entry: %w", err)
	}

	return indexItem(ctx, j.Store, j.Chunker, j.Embedder, id, content)
}

// Metadata describes the dispatch parameters recorded on the job row.
func (j *ImportFeed) Metadata() json.RawMessage {
	raw, _ := json.Marshal(map[string]any{
		"feed_url": j.FeedURL,
		"dataset":  j.Dataset,
	})

	return raw
}
