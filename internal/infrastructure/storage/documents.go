package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"BdLens/internal/domain"
	"BdLens/internal/ports"
)

const sectionBatchSize = 100

var documentColumns = []string{
	"id", "source_id", "title", "url", "original_file_path", "content_text", "content_type",
	"summary", "explanation", "language", "published_at", "crawled_at", "created_at", "updated_at",
}

// BeginIngest opens the transaction that one document is written through.
func (s *SQLStore) BeginIngest(ctx context.Context) (ports.IngestTx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin ingest: %w", err)
	}
	return &ingestTx{store: s, tx: tx}, nil
}

// GetDocument loads a document with its tags and entities.
func (s *SQLStore) GetDocument(ctx context.Context, id int64) (domain.Document, error) {
	row, err := queryRow(ctx, s.db, s.sb.Select(documentColumns...).From("documents").Where(sq.Eq{"id": id}))
	if err != nil {
		return domain.Document{}, err
	}

	doc, err := scanDocument(row)
	if isNoRows(err) {
		return domain.Document{}, fmt.Errorf("document %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Document{}, fmt.Errorf("scan document: %w", err)
	}

	tags, err := s.tagsFor(ctx, []int64{id})
	if err != nil {
		return domain.Document{}, err
	}
	doc.Tags = tags[id]

	doc.Entities, err = s.entitiesFor(ctx, id)
	if err != nil {
		return domain.Document{}, err
	}
	return doc, nil
}

// DocumentExists reports whether url is already stored.
func (s *SQLStore) DocumentExists(ctx context.Context, url string) (bool, error) {
	row, err := queryRow(ctx, s.db, s.sb.Select("1").From("documents").Where(sq.Eq{"url": url}).Limit(1))
	if err != nil {
		return false, err
	}
	var one int
	switch err := row.Scan(&one); {
	case isNoRows(err):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("check url: %w", err)
	}
	return true, nil
}

// UpdateEnrichment overwrites summary and explanation.
func (s *SQLStore) UpdateEnrichment(ctx context.Context, id int64, summary, explanation string, at time.Time) error {
	res, err := execSQL(ctx, s.db, s.sb.Update("documents").
		Set("summary", nullString(summary)).
		Set("explanation", nullString(explanation)).
		Set("updated_at", at.UTC()).
		Where(sq.Eq{"id": id}))
	if err != nil {
		return fmt.Errorf("update enrichment: %w", err)
	}
	return expectAffected(res, fmt.Errorf("document %d: %w", id, domain.ErrNotFound))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (domain.Document, error) {
	var doc domain.Document
	var sourceID sql.NullInt64
	var url, filePath, summary, explanation, language sql.NullString
	var contentType string
	var publishedAt, crawledAt sql.NullTime
	err := row.Scan(&doc.ID, &sourceID, &doc.Title, &url, &filePath, &doc.ContentText, &contentType,
		&summary, &explanation, &language, &publishedAt, &crawledAt, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return domain.Document{}, err
	}
	doc.SourceID = int64Ptr(sourceID)
	doc.URL = url.String
	doc.OriginalFilePath = filePath.String
	doc.ContentType = domain.ContentType(contentType)
	doc.Summary = summary.String
	doc.Explanation = explanation.String
	doc.Language = language.String
	doc.PublishedAt = timePtr(publishedAt)
	if crawled := timePtr(crawledAt); crawled != nil {
		doc.CrawledAt = *crawled
	}
	doc.CreatedAt = doc.CreatedAt.UTC()
	doc.UpdatedAt = doc.UpdatedAt.UTC()
	return doc, nil
}

func (s *SQLStore) tagsFor(ctx context.Context, ids []int64) (map[int64][]domain.Tag, error) {
	rows, err := queryRows(ctx, s.db, s.sb.Select("dt.document_id", "t.id", "t.name", "t.slug").
		From("document_tags dt").
		Join("tags t ON t.id = dt.tag_id").
		Where(sq.Eq{"dt.document_id": ids}).
		OrderBy("t.slug"))
	if err != nil {
		return nil, fmt.Errorf("query tags: %w", err)
	}

	out := make(map[int64][]domain.Tag)
	for rows.Next() {
		var docID int64
		var t domain.Tag
		if err := rows.Scan(&docID, &t.ID, &t.Name, &t.Slug); err != nil {
			return nil, closeRows(rows, fmt.Errorf("scan tag: %w", err))
		}
		out[docID] = append(out[docID], t)
	}
	return out, closeRows(rows, nil)
}

func (s *SQLStore) entitiesFor(ctx context.Context, id int64) ([]domain.Entity, error) {
	rows, err := queryRows(ctx, s.db, s.sb.Select("e.id", "e.name", "e.type").
		From("document_entities de").
		Join("entities e ON e.id = de.entity_id").
		Where(sq.Eq{"de.document_id": id}).
		OrderBy("e.type", "e.name"))
	if err != nil {
		return nil, fmt.Errorf("query entities: %w", err)
	}

	var out []domain.Entity
	for rows.Next() {
		var e domain.Entity
		if err := rows.Scan(&e.ID, &e.Name, &e.Type); err != nil {
			return nil, closeRows(rows, fmt.Errorf("scan entity: %w", err))
		}
		out = append(out, e)
	}
	return out, closeRows(rows, nil)
}

// ingestTx writes one document, its vocabulary links and its sections.
type ingestTx struct {
	store *SQLStore
	tx    *sql.Tx
}

func (t *ingestTx) CreateDocument(ctx context.Context, doc *domain.Document) error {
	s := t.store
	now := s.now()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = doc.CreatedAt
	}

	var crawledAt any
	if !doc.CrawledAt.IsZero() {
		crawledAt = doc.CrawledAt.UTC()
	}

	row, err := queryRow(ctx, t.tx, s.sb.Insert("documents").
		Columns(documentColumns[1:]...).
		Values(
			nullInt64(doc.SourceID), doc.Title, nullString(doc.URL), nullString(doc.OriginalFilePath),
			doc.ContentText, string(doc.ContentType), nullString(doc.Summary), nullString(doc.Explanation),
			nullString(doc.Language), nullTime(doc.PublishedAt), crawledAt, doc.CreatedAt.UTC(), doc.UpdatedAt.UTC(),
		).
		Suffix("RETURNING id"))
	if err != nil {
		return err
	}
	if err := row.Scan(&doc.ID); err != nil {
		if s.d.uniqueViolation(err) {
			return fmt.Errorf("document %s: %w", doc.URL, domain.ErrDuplicateURL)
		}
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (t *ingestTx) SetEnrichment(ctx context.Context, documentID int64, summary, explanation string) error {
	_, err := execSQL(ctx, t.tx, t.store.sb.Update("documents").
		Set("summary", nullString(summary)).
		Set("explanation", nullString(explanation)).
		Where(sq.Eq{"id": documentID}))
	if err != nil {
		return fmt.Errorf("set enrichment: %w", err)
	}
	return nil
}

func (t *ingestTx) GetOrCreateTag(ctx context.Context, name, slug string) (domain.Tag, error) {
	s := t.store
	if _, err := execSQL(ctx, t.tx, s.sb.Insert("tags").Columns("name", "slug").Values(name, slug).
		Suffix("ON CONFLICT (slug) DO NOTHING")); err != nil {
		return domain.Tag{}, fmt.Errorf("insert tag: %w", err)
	}

	row, err := queryRow(ctx, t.tx, s.sb.Select("id", "name", "slug").From("tags").Where(sq.Eq{"slug": slug}))
	if err != nil {
		return domain.Tag{}, err
	}
	var tag domain.Tag
	if err := row.Scan(&tag.ID, &tag.Name, &tag.Slug); err != nil {
		return domain.Tag{}, fmt.Errorf("load tag %s: %w", slug, err)
	}
	return tag, nil
}

func (t *ingestTx) AttachTag(ctx context.Context, documentID, tagID int64) error {
	_, err := execSQL(ctx, t.tx, t.store.sb.Insert("document_tags").
		Columns("document_id", "tag_id").Values(documentID, tagID).
		Suffix("ON CONFLICT DO NOTHING"))
	if err != nil {
		return fmt.Errorf("attach tag: %w", err)
	}
	return nil
}

func (t *ingestTx) GetOrCreateEntity(ctx context.Context, name, entityType string) (domain.Entity, error) {
	s := t.store
	if _, err := execSQL(ctx, t.tx, s.sb.Insert("entities").Columns("name", "type").Values(name, entityType).
		Suffix("ON CONFLICT (name, type) DO NOTHING")); err != nil {
		return domain.Entity{}, fmt.Errorf("insert entity: %w", err)
	}

	row, err := queryRow(ctx, t.tx, s.sb.Select("id", "name", "type").From("entities").
		Where(sq.Eq{"name": name, "type": entityType}))
	if err != nil {
		return domain.Entity{}, err
	}
	var e domain.Entity
	if err := row.Scan(&e.ID, &e.Name, &e.Type); err != nil {
		return domain.Entity{}, fmt.Errorf("load entity %s: %w", name, err)
	}
	return e, nil
}

func (t *ingestTx) AttachEntity(ctx context.Context, documentID, entityID int64) error {
	_, err := execSQL(ctx, t.tx, t.store.sb.Insert("document_entities").
		Columns("document_id", "entity_id").Values(documentID, entityID).
		Suffix("ON CONFLICT DO NOTHING"))
	if err != nil {
		return fmt.Errorf("attach entity: %w", err)
	}
	return nil
}

func (t *ingestTx) InsertSections(ctx context.Context, sections []domain.Section) error {
	for start := 0; start < len(sections); start += sectionBatchSize {
		end := min(start+sectionBatchSize, len(sections))

		insert := t.store.sb.Insert("sections").Columns("document_id", "order_index", "heading", "text", "embedding")
		for _, sec := range sections[start:end] {
			insert = insert.Values(sec.DocumentID, sec.OrderIndex, nullString(sec.Heading), sec.Text, t.store.d.vector(sec.Embedding))
		}
		if _, err := execSQL(ctx, t.tx, insert); err != nil {
			return fmt.Errorf("insert sections: %w", err)
		}
	}
	return nil
}

func (t *ingestTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("commit ingest: %w", err)
	}
	return nil
}

func (t *ingestTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback ingest: %w", err)
	}
	return nil
}
