// Package memory keeps the whole repository in process. It backs use-case
// tests and the "memory" database driver used for throwaway local runs.
package memory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"
	"sync"
	"time"

	"BdLens/internal/domain"
	"BdLens/internal/ports"
)

const defaultJobListLimit = 20

var _ ports.Repository = (*Store)(nil)

type entityKey struct {
	name, kind string
}

// Store is an in-memory implementation of ports.Repository.
type Store struct {
	mu sync.RWMutex

	seq int64

	documents map[int64]domain.Document
	urls      map[string]int64
	sections  map[int64][]domain.Section

	tags       map[int64]domain.Tag
	tagSlugs   map[string]int64
	entities   map[int64]domain.Entity
	entityKeys map[entityKey]int64
	docTags    map[int64][]int64
	docEnts    map[int64][]int64

	sources map[int64]domain.Source
	jobs    map[int64]domain.CrawlJob

	now func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		documents:  make(map[int64]domain.Document),
		urls:       make(map[string]int64),
		sections:   make(map[int64][]domain.Section),
		tags:       make(map[int64]domain.Tag),
		tagSlugs:   make(map[string]int64),
		entities:   make(map[int64]domain.Entity),
		entityKeys: make(map[entityKey]int64),
		docTags:    make(map[int64][]int64),
		docEnts:    make(map[int64][]int64),
		sources:    make(map[int64]domain.Source),
		jobs:       make(map[int64]domain.CrawlJob),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) nextID() int64 {
	s.seq++
	return s.seq
}

func (s *Store) EnsureSchema(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

// Documents returns every committed document ordered by id.
func (s *Store) Documents() []domain.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Document, 0, len(s.documents))
	for _, doc := range s.documents {
		out = append(out, doc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Sections returns the committed sections of a document in order.
func (s *Store) Sections(documentID int64) []domain.Section {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.sections[documentID])
}

func (s *Store) BeginIngest(context.Context) (ports.IngestTx, error) {
	return &ingestTx{store: s}, nil
}

func (s *Store) GetDocument(_ context.Context, id int64) (domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[id]
	if !ok {
		return domain.Document{}, fmt.Errorf("document %d: %w", id, domain.ErrNotFound)
	}
	doc.Tags = s.tagList(id)
	for _, eid := range s.docEnts[id] {
		doc.Entities = append(doc.Entities, s.entities[eid])
	}
	return doc, nil
}

func (s *Store) DocumentExists(_ context.Context, url string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.urls[url]
	if !ok {
		return false, nil
	}
	_, committed := s.documents[id]
	return committed, nil
}

func (s *Store) UpdateEnrichment(_ context.Context, id int64, summary, explanation string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[id]
	if !ok {
		return fmt.Errorf("document %d: %w", id, domain.ErrNotFound)
	}
	doc.Summary = summary
	doc.Explanation = explanation
	doc.UpdatedAt = at.UTC()
	s.documents[id] = doc
	return nil
}

func (s *Store) tagList(documentID int64) []domain.Tag {
	var out []domain.Tag
	for _, tid := range s.docTags[documentID] {
		out = append(out, s.tags[tid])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out
}

// Nearest scores every committed section with an embedding by cosine
// similarity.
func (s *Store) Nearest(_ context.Context, embedding []float32, filter domain.SectionFilter, limit int) ([]domain.SectionHit, error) {
	if limit <= 0 || len(embedding) == 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var hits []domain.SectionHit
	for docID, secs := range s.sections {
		if !s.matches(docID, filter) {
			continue
		}
		for _, sec := range secs {
			score, ok := cosine(embedding, sec.Embedding)
			if !ok {
				continue
			}
			hits = append(hits, domain.SectionHit{SectionID: sec.ID, DocumentID: docID, Text: sec.Text, Score: score})
		}
	}

	sort.Slice(hits, func(i, j int) bool {
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

func (s *Store) matches(documentID int64, filter domain.SectionFilter) bool {
	doc := s.documents[documentID]
	if filter.SourceID != nil && (doc.SourceID == nil || *doc.SourceID != *filter.SourceID) {
		return false
	}
	if filter.TagSlug == "" {
		return true
	}
	for _, tid := range s.docTags[documentID] {
		if s.tags[tid].Slug == filter.TagSlug {
			return true
		}
	}
	return false
}

func (s *Store) DocumentCards(_ context.Context, ids []int64) (map[int64]domain.DocumentCard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cards := make(map[int64]domain.DocumentCard, len(ids))
	for _, id := range ids {
		doc, ok := s.documents[id]
		if !ok {
			continue
		}
		card := domain.DocumentCard{ID: id, Title: doc.Title, URL: doc.URL, SourceID: doc.SourceID, Tags: s.tagList(id)}
		if doc.SourceID != nil {
			card.Source = s.sources[*doc.SourceID].Name
		}
		cards[id] = card
	}
	return cards, nil
}

func (s *Store) CreateSource(_ context.Context, src *domain.Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if src.CreatedAt.IsZero() {
		src.CreatedAt = s.now()
	}
	if src.ScraperType == "" {
		src.ScraperType = domain.ScraperSimple
	}
	src.ID = s.nextID()
	s.sources[src.ID] = *src
	return nil
}

func (s *Store) GetSource(_ context.Context, id int64) (domain.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src, ok := s.sources[id]
	if !ok {
		return domain.Source{}, fmt.Errorf("source %d: %w", id, domain.ErrNotFound)
	}
	return src, nil
}

func (s *Store) ListSources(_ context.Context, enabledOnly bool) ([]domain.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Source
	for _, src := range s.sources {
		if enabledOnly && !src.Enabled {
			continue
		}
		out = append(out, src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) SetSourceEnabled(_ context.Context, id int64, enabled bool) error {
	return s.updateSource(id, func(src *domain.Source) { src.Enabled = enabled })
}

func (s *Store) MarkSourceCrawled(_ context.Context, id int64, at time.Time) error {
	at = at.UTC()
	return s.updateSource(id, func(src *domain.Source) { src.LastCrawledAt = &at })
}

func (s *Store) updateSource(id int64, fn func(*domain.Source)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[id]
	if !ok {
		return fmt.Errorf("source %d: %w", id, domain.ErrNotFound)
	}
	fn(&src)
	s.sources[id] = src
	return nil
}

func (s *Store) CreateCrawlJob(_ context.Context, job *domain.CrawlJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.now()
	}
	job.ID = s.nextID()
	s.jobs[job.ID] = *job
	return nil
}

// UpdateCrawlJob replaces a job that has not reached a terminal status.
func (s *Store) UpdateCrawlJob(_ context.Context, job domain.CrawlJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.jobs[job.ID]
	if !ok || cur.Status.Terminal() {
		return fmt.Errorf("crawl job %d: %w", job.ID, domain.ErrNotFound)
	}
	job.SourceID = cur.SourceID
	job.CreatedAt = cur.CreatedAt
	s.jobs[job.ID] = job
	return nil
}

func (s *Store) GetCrawlJob(_ context.Context, id int64) (domain.CrawlJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.CrawlJob{}, fmt.Errorf("crawl job %d: %w", id, domain.ErrNotFound)
	}
	return job, nil
}

func (s *Store) ListCrawlJobs(_ context.Context, sourceID *int64, limit int) ([]domain.CrawlJob, error) {
	if limit <= 0 {
		limit = defaultJobListLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.CrawlJob
	for _, job := range s.jobs {
		if sourceID != nil && job.SourceID != *sourceID {
			continue
		}
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ingestTx stages one document until Commit. The url is reserved when the
// document is created so concurrent ingests of the same url conflict early.
// Tags and entities are shared vocabulary and are kept even on rollback.
type ingestTx struct {
	store *Store

	doc      *domain.Document
	tags     []int64
	entities []int64
	sections []domain.Section
	done     bool
}

var errTxDone = errors.New("ingest transaction already finished")

func (t *ingestTx) CreateDocument(_ context.Context, doc *domain.Document) error {
	if t.done {
		return errTxDone
	}
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc.URL != "" {
		if _, taken := s.urls[doc.URL]; taken {
			return fmt.Errorf("document %s: %w", doc.URL, domain.ErrDuplicateURL)
		}
	}
	now := s.now()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = doc.CreatedAt
	}
	doc.ID = s.nextID()
	if doc.URL != "" {
		s.urls[doc.URL] = doc.ID
	}
	staged := *doc
	staged.Tags, staged.Entities = nil, nil
	t.doc = &staged
	return nil
}

func (t *ingestTx) SetEnrichment(_ context.Context, documentID int64, summary, explanation string) error {
	if err := t.owns(documentID); err != nil {
		return err
	}
	t.doc.Summary = summary
	t.doc.Explanation = explanation
	return nil
}

func (t *ingestTx) GetOrCreateTag(_ context.Context, name, slug string) (domain.Tag, error) {
	if t.done {
		return domain.Tag{}, errTxDone
	}
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.tagSlugs[slug]; ok {
		return s.tags[id], nil
	}
	tag := domain.Tag{ID: s.nextID(), Name: name, Slug: slug}
	s.tags[tag.ID] = tag
	s.tagSlugs[slug] = tag.ID
	return tag, nil
}

func (t *ingestTx) AttachTag(_ context.Context, documentID, tagID int64) error {
	if err := t.owns(documentID); err != nil {
		return err
	}
	if !slices.Contains(t.tags, tagID) {
		t.tags = append(t.tags, tagID)
	}
	return nil
}

func (t *ingestTx) GetOrCreateEntity(_ context.Context, name, entityType string) (domain.Entity, error) {
	if t.done {
		return domain.Entity{}, errTxDone
	}
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	key := entityKey{name: name, kind: entityType}
	if id, ok := s.entityKeys[key]; ok {
		return s.entities[id], nil
	}
	e := domain.Entity{ID: s.nextID(), Name: name, Type: entityType}
	s.entities[e.ID] = e
	s.entityKeys[key] = e.ID
	return e, nil
}

func (t *ingestTx) AttachEntity(_ context.Context, documentID, entityID int64) error {
	if err := t.owns(documentID); err != nil {
		return err
	}
	if !slices.Contains(t.entities, entityID) {
		t.entities = append(t.entities, entityID)
	}
	return nil
}

func (t *ingestTx) InsertSections(_ context.Context, sections []domain.Section) error {
	for _, sec := range sections {
		if err := t.owns(sec.DocumentID); err != nil {
			return err
		}
		for _, prev := range t.sections {
			if prev.OrderIndex == sec.OrderIndex {
				return fmt.Errorf("section %d of document %d already inserted", sec.OrderIndex, sec.DocumentID)
			}
		}
		t.sections = append(t.sections, sec)
	}
	return nil
}

func (t *ingestTx) owns(documentID int64) error {
	if t.done {
		return errTxDone
	}
	if t.doc == nil || t.doc.ID != documentID {
		return fmt.Errorf("document %d is not part of this ingest", documentID)
	}
	return nil
}

func (t *ingestTx) Commit() error {
	if t.done {
		return errTxDone
	}
	t.done = true
	if t.doc == nil {
		return nil
	}

	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documents[t.doc.ID] = *t.doc
	s.docTags[t.doc.ID] = t.tags
	s.docEnts[t.doc.ID] = t.entities

	secs := make([]domain.Section, len(t.sections))
	for i, sec := range t.sections {
		sec.ID = s.nextID()
		sec.Embedding = slices.Clone(sec.Embedding)
		secs[i] = sec
	}
	sort.Slice(secs, func(i, j int) bool { return secs[i].OrderIndex < secs[j].OrderIndex })
	s.sections[t.doc.ID] = secs
	return nil
}

// Rollback releases the url reservation. Calling it after Commit is a no-op.
func (t *ingestTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	if t.doc == nil || t.doc.URL == "" {
		return nil
	}
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.urls[t.doc.URL] == t.doc.ID {
		delete(s.urls, t.doc.URL)
	}
	return nil
}

func cosine(a, b []float32) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), true
}
