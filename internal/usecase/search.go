package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"BdLens/internal/domain"
	"BdLens/internal/ports"
)

const (
	DefaultSearchLimit = 10
	MaxSearchLimit     = 50
	snippetRunes       = 300
)

// SearchEngine answers semantic queries over section embeddings.
type SearchEngine struct {
	index  ports.SectionIndex
	enrich ports.EnrichmentClient
	logger *slog.Logger
}

func NewSearchEngine(index ports.SectionIndex, enrich ports.EnrichmentClient, logger *slog.Logger) *SearchEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &SearchEngine{index: index, enrich: enrich, logger: logger}
}

// Search embeds the query, takes the Limit best sections and keeps the
// highest-scoring one per document. The tag filter matches tag slugs.
// A failed query embedding fails the search.
func (e *SearchEngine) Search(ctx context.Context, q domain.SearchQuery) ([]domain.SearchResult, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, fmt.Errorf("search query is empty: %w", domain.ErrInvalidInput)
	}
	limit := q.Limit
	if limit == 0 {
		limit = DefaultSearchLimit
	}
	if limit < 1 || limit > MaxSearchLimit {
		return nil, fmt.Errorf("search limit %d outside 1..%d: %w", q.Limit, MaxSearchLimit, domain.ErrInvalidInput)
	}

	vec, err := e.enrich.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	filter := domain.SectionFilter{SourceID: q.SourceID}
	if tag := strings.TrimSpace(q.Tag); tag != "" {
		filter.TagSlug = Slugify(tag)
	}

	hits, err := e.index.Nearest(ctx, vec, filter, limit)
	if err != nil {
		return nil, err
	}

	var best []domain.SectionHit
	seen := make(map[int64]bool, len(hits))
	for _, hit := range hits {
		if seen[hit.DocumentID] {
			continue
		}
		seen[hit.DocumentID] = true
		best = append(best, hit)
	}
	if len(best) == 0 {
		return []domain.SearchResult{}, nil
	}

	ids := make([]int64, len(best))
	for i, hit := range best {
		ids[i] = hit.DocumentID
	}
	cards, err := e.index.DocumentCards(ctx, ids)
	if err != nil {
		return nil, err
	}

	results := make([]domain.SearchResult, 0, len(best))
	for _, hit := range best {
		card := cards[hit.DocumentID]
		results = append(results, domain.SearchResult{
			DocumentID: hit.DocumentID,
			Title:      card.Title,
			Snippet:    Snippet(hit.Text),
			Score:      hit.Score,
			SourceID:   card.SourceID,
			Source:     card.Source,
			Tags:       card.Tags,
			URL:        card.URL,
		})
	}
	e.logger.Debug("search served", "query", text, "hits", len(hits), "results", len(results))
	return results, nil
}

// Snippet cuts text to 300 characters, marking a cut with "...".
func Snippet(text string) string {
	runes := []rune(text)
	if len(runes) <= snippetRunes {
		return text
	}
	return string(runes[:snippetRunes]) + "..."
}
