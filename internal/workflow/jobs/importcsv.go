package jobs

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/opennotes/opennotes/internal/core/domain"
)

// csvColumns is the expected header of a fact-check dataset export.
var csvColumns = []string{"dataset", "title", "content", "rating", "source_url", "tags"}

// ImportCSV imports a fact-check dataset from CSV: each row becomes an
// item, chunked and embedded into the index.
type ImportCSV struct {
	Store    ItemStore
	Chunker  Chunker
	Embedder Embedder
	Reader   io.Reader
	Dataset  string
	Logger   *zerolog.Logger

	mu   sync.Mutex
	rows []domain.FactCheckItem
}

// Type implements workflow.Workflow.
func (j *ImportCSV) Type() string { return domain.JobTypeImportFactCheck }

// Items parses the CSV once and enumerates row indices as work items.
func (j *ImportCSV) Items(_ context.Context) ([]string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	reader := csv.NewReader(j.Reader)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	index, err := mapColumns(header)
	if err != nil {
		return nil, err
	}

	var items []string

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("read csv row %d: %w", len(j.rows)+1, err)
		}

		item := domain.FactCheckItem{
			Dataset:   j.Dataset,
			Title:     field(record, index, "title"),
			Content:   field(record, index, "content"),
			Rating:    field(record, index, "rating"),
			SourceURL: field(record, index, "source_url"),
			Tags:      splitTags(field(record, index, "tags")),
		}

		if item.Dataset == "" {
			item.Dataset = field(record, index, "dataset")
		}

		items = append(items, strconv.Itoa(len(j.rows)))
		j.rows = append(j.rows, item)
	}

	return items, nil
}

// Process imports one parsed row: insert, chunk, embed.
func (j *ImportCSV) Process(ctx context.Context, item string) error {
	idx, err := strconv.Atoi(item)
	if err != nil {
		return fmt.Errorf("bad work item %q: %w", item, err)
	}

	j.mu.Lock()

	if idx < 0 || idx >= len(j.rows) {
		j.mu.Unlock()
		return fmt.Errorf("work item %d out of range", idx)
	}

	row := j.rows[idx]
	j.mu.Unlock()

	if strings.TrimSpace(row.Content) == "" {
		return fmt.Errorf("row %d has empty content", idx)
	}

	if row.SourceURL != "" {
		exists, err := j.Store.ItemExistsBySourceURL(ctx, row.SourceURL)
		if err != nil {
			return fmt.Errorf("duplicate check: %w", err)
		}

		if exists {
			j.Logger.Debug().Str("source_url", row.SourceURL).Msg("item already imported, skipping")
			return nil
		}
	}

	id, err := j.Store.InsertItem(ctx, row)
	if err != nil {
		return fmt.Errorf("insert row %d: %w", idx, err)
	}

	return indexItem(ctx, j.Store, j.Chunker, j.Embedder, id, row.Content)
}

func mapColumns(header []string) (map[string]int, error) {
	index := make(map[string]int, len(header))

	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}

	for _, required := range []string{"title", "content"} {
		if _, ok := index[required]; !ok {
			return nil, fmt.Errorf("csv missing required column %q (expected %s)", required, strings.Join(csvColumns, ", "))
		}
	}

	return index, nil
}

func field(record []string, index map[string]int, name string) string {
	i, ok := index[name]
	if !ok || i >= len(record) {
		return ""
	}

	return strings.TrimSpace(record[i])
}

func splitTags(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ";")
	tags := make([]string, 0, len(parts))

	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			tags = append(tags, t)
		}
	}

	return tags
}
