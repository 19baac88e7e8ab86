package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	sq "github.com/Masterminds/squirrel"

	"BdLens/internal/domain"
)

// Nearest returns up to limit sections with an embedding, best cosine
// score first. Postgres ranks through the HNSW index, or exactly when a
// filter is set; SQLite scores every candidate in process.
func (s *SQLStore) Nearest(ctx context.Context, embedding []float32, filter domain.SectionFilter, limit int) ([]domain.SectionHit, error) {
	if limit <= 0 || len(embedding) == 0 {
		return nil, nil
	}
	if s.d.serverANN {
		return s.nearestServer(ctx, embedding, filter, limit)
	}
	return s.nearestScan(ctx, embedding, filter, limit)
}

func (s *SQLStore) candidateSections(filter domain.SectionFilter, columns ...string) sq.SelectBuilder {
	q := s.sb.Select(columns...).
		From("sections s").
		Join("documents d ON d.id = s.document_id").
		Where(sq.NotEq{"s.embedding": nil})
	if filter.TagSlug != "" {
		q = q.Join("document_tags dt ON dt.document_id = s.document_id").
			Join("tags t ON t.id = dt.tag_id").
			Where(sq.Eq{"t.slug": filter.TagSlug})
	}
	if filter.SourceID != nil {
		q = q.Where(sq.Eq{"d.source_id": *filter.SourceID})
	}
	return q
}

// hnswEfSearchFloor is pgvector's default hnsw.ef_search; the index scan
// never yields more candidates than this setting.
const (
	hnswEfSearchFloor = 40
	hnswEfSearchCap   = 1000
)

// annSettings returns the SET LOCAL statements that make an HNSW scan
// return the true top limit rows. Filtered queries skip the index, since
// the scan applies WHERE only after picking its candidates.
func annSettings(filter domain.SectionFilter, limit int) []string {
	ef := max(hnswEfSearchFloor, limit*4)
	ef = min(ef, hnswEfSearchCap)
	stmts := []string{fmt.Sprintf("SET LOCAL hnsw.ef_search = %d", ef)}
	if filter.TagSlug != "" || filter.SourceID != nil {
		stmts = append(stmts, "SET LOCAL enable_indexscan = off")
	}
	return stmts
}

func (s *SQLStore) nearestServer(ctx context.Context, embedding []float32, filter domain.SectionFilter, limit int) ([]domain.SectionHit, error) {
	vec := s.d.vector(embedding)
	q := s.candidateSections(filter, "s.id", "s.document_id", "s.text").
		Column(sq.Expr("1 - (s.embedding <=> ?) AS score", vec)).
		OrderByClause("s.embedding <=> ?", vec).
		Limit(uint64(limit))

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin search: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range annSettings(filter, limit) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("tune search: %w", err)
		}
	}

	rows, err := queryRows(ctx, tx, q)
	if err != nil {
		return nil, fmt.Errorf("nearest sections: %w", err)
	}

	var hits []domain.SectionHit
	for rows.Next() {
		var h domain.SectionHit
		if err := rows.Scan(&h.SectionID, &h.DocumentID, &h.Text, &h.Score); err != nil {
			return nil, closeRows(rows, fmt.Errorf("scan hit: %w", err))
		}
		hits = append(hits, h)
	}
	return hits, closeRows(rows, nil)
}

func (s *SQLStore) nearestScan(ctx context.Context, embedding []float32, filter domain.SectionFilter, limit int) ([]domain.SectionHit, error) {
	rows, err := queryRows(ctx, s.db, s.candidateSections(filter, "s.id", "s.document_id", "s.text", "s.embedding"))
	if err != nil {
		return nil, fmt.Errorf("scan sections: %w", err)
	}

	var hits []domain.SectionHit
	for rows.Next() {
		var h domain.SectionHit
		var blob []byte
		if err := rows.Scan(&h.SectionID, &h.DocumentID, &h.Text, &blob); err != nil {
			return nil, closeRows(rows, fmt.Errorf("scan section: %w", err))
		}
		vec, err := decodeVector(blob)
		if err != nil {
			s.logger.Warn("skip corrupt embedding", "section_id", h.SectionID, "error", err)
			continue
		}
		score, ok := cosineSimilarity(embedding, vec)
		if !ok {
			continue
		}
		h.Score = score
		hits = append(hits, h)
	}
	if err := closeRows(rows, nil); err != nil {
		return nil, err
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].SectionID < hits[j].SectionID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// DocumentCards loads titles, sources and tags for the given documents.
func (s *SQLStore) DocumentCards(ctx context.Context, ids []int64) (map[int64]domain.DocumentCard, error) {
	cards := make(map[int64]domain.DocumentCard, len(ids))
	if len(ids) == 0 {
		return cards, nil
	}

	rows, err := queryRows(ctx, s.db, s.sb.Select("d.id", "d.title", "d.url", "d.source_id", "src.name").
		From("documents d").
		LeftJoin("sources src ON src.id = d.source_id").
		Where(sq.Eq{"d.id": ids}))
	if err != nil {
		return nil, fmt.Errorf("query cards: %w", err)
	}
	for rows.Next() {
		var c domain.DocumentCard
		var url, source sql.NullString
		var sourceID sql.NullInt64
		if err := rows.Scan(&c.ID, &c.Title, &url, &sourceID, &source); err != nil {
			return nil, closeRows(rows, fmt.Errorf("scan card: %w", err))
		}
		c.URL = url.String
		c.SourceID = int64Ptr(sourceID)
		c.Source = source.String
		cards[c.ID] = c
	}
	if err := closeRows(rows, nil); err != nil {
		return nil, err
	}

	tags, err := s.tagsFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for id, list := range tags {
		if c, ok := cards[id]; ok {
			c.Tags = list
			cards[id] = c
		}
	}
	return cards, nil
}
