package storage

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BdLens/internal/domain"
)

func openTestStore(t *testing.T) *SQLStore {
	t.Helper()
	ctx := context.Background()
	store, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "bdlens.db"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.EnsureSchema(ctx))
	require.NoError(t, store.EnsureSchema(ctx), "schema must be idempotent")
	return store
}

func axis(i int) []float32 {
	v := make([]float32, domain.EmbeddingDimension)
	v[i] = 1
	return v
}

func blend(i, j int, wi, wj float32) []float32 {
	v := make([]float32, domain.EmbeddingDimension)
	v[i], v[j] = wi, wj
	return v
}

type seedDoc struct {
	url      string
	sourceID *int64
	tags     []string
	sections [][]float32
}

func ingest(t *testing.T, store *SQLStore, seed seedDoc) int64 {
	t.Helper()
	ctx := context.Background()

	tx, err := store.BeginIngest(ctx)
	require.NoError(t, err)

	doc := &domain.Document{
		SourceID:    seed.sourceID,
		Title:       "Doc " + seed.url,
		URL:         seed.url,
		ContentText: "body",
		ContentType: domain.ContentHTML,
		CrawledAt:   time.Now(),
	}
	require.NoError(t, tx.CreateDocument(ctx, doc))

	for _, slug := range seed.tags {
		tag, err := tx.GetOrCreateTag(ctx, slug, slug)
		require.NoError(t, err)
		require.NoError(t, tx.AttachTag(ctx, doc.ID, tag.ID))
	}

	sections := make([]domain.Section, 0, len(seed.sections))
	for i, emb := range seed.sections {
		sections = append(sections, domain.Section{DocumentID: doc.ID, OrderIndex: i, Text: "chunk", Embedding: emb})
	}
	require.NoError(t, tx.InsertSections(ctx, sections))
	require.NoError(t, tx.Commit())
	return doc.ID
}

func TestDocumentLifecycle(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	src := &domain.Source{Name: "DNCC", BaseURL: "https://dncc.gov.bd/notices", ScraperType: domain.ScraperDNCC, Enabled: true}
	require.NoError(t, store.CreateSource(ctx, src))

	tx, err := store.BeginIngest(ctx)
	require.NoError(t, err)

	published := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	doc := &domain.Document{
		SourceID:    &src.ID,
		Title:       "Notice A",
		URL:         "https://dncc.gov.bd/notice/1",
		ContentText: "Road repairs in Mirpur.",
		ContentType: domain.ContentHTML,
		Summary:     "Roads.",
		Language:    "en",
		PublishedAt: &published,
		CrawledAt:   time.Now(),
	}
	require.NoError(t, tx.CreateDocument(ctx, doc))
	require.NotZero(t, doc.ID)

	first, err := tx.GetOrCreateTag(ctx, "Housing", "housing")
	require.NoError(t, err)
	again, err := tx.GetOrCreateTag(ctx, "housing", "housing")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, "Housing", again.Name)

	require.NoError(t, tx.AttachTag(ctx, doc.ID, first.ID))
	require.NoError(t, tx.AttachTag(ctx, doc.ID, first.ID))

	ent, err := tx.GetOrCreateEntity(ctx, "DNCC", "organization")
	require.NoError(t, err)
	require.NoError(t, tx.AttachEntity(ctx, doc.ID, ent.ID))

	require.NoError(t, tx.InsertSections(ctx, []domain.Section{
		{DocumentID: doc.ID, OrderIndex: 0, Text: "Road repairs", Embedding: axis(0)},
		{DocumentID: doc.ID, OrderIndex: 1, Text: "in Mirpur.", Embedding: nil},
	}))
	require.NoError(t, tx.Commit())

	got, err := store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "Notice A", got.Title)
	assert.Equal(t, doc.URL, got.URL)
	assert.Equal(t, "Roads.", got.Summary)
	assert.Empty(t, got.Explanation)
	assert.Equal(t, "en", got.Language)
	require.NotNil(t, got.SourceID)
	assert.Equal(t, src.ID, *got.SourceID)
	require.NotNil(t, got.PublishedAt)
	assert.True(t, got.PublishedAt.Equal(published))
	require.Len(t, got.Tags, 1)
	assert.Equal(t, "housing", got.Tags[0].Slug)
	require.Len(t, got.Entities, 1)
	assert.Equal(t, "DNCC", got.Entities[0].Name)

	exists, err := store.DocumentExists(ctx, doc.URL)
	require.NoError(t, err)
	assert.True(t, exists)

	at := time.Now().Add(time.Minute)
	require.NoError(t, store.UpdateEnrichment(ctx, doc.ID, "New summary", "New explanation", at))
	got, err = store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "New summary", got.Summary)
	assert.Equal(t, "New explanation", got.Explanation)
	assert.WithinDuration(t, at, got.UpdatedAt, time.Second)

	assert.ErrorIs(t, store.UpdateEnrichment(ctx, 9999, "x", "y", at), domain.ErrNotFound)
	_, err = store.GetDocument(ctx, 9999)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDuplicateURLAndRollback(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	ingest(t, store, seedDoc{url: "https://mopa.gov.bd/a.pdf"})

	tx, err := store.BeginIngest(ctx)
	require.NoError(t, err)
	err = tx.CreateDocument(ctx, &domain.Document{Title: "again", URL: "https://mopa.gov.bd/a.pdf", ContentText: "x", ContentType: domain.ContentPDF})
	assert.ErrorIs(t, err, domain.ErrDuplicateURL)
	require.NoError(t, tx.Rollback())

	tx, err = store.BeginIngest(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.CreateDocument(ctx, &domain.Document{Title: "rolled back", URL: "https://mopa.gov.bd/b.pdf", ContentText: "x", ContentType: domain.ContentPDF}))
	require.NoError(t, tx.Rollback())
	require.NoError(t, tx.Rollback(), "second rollback is a no-op")

	exists, err := store.DocumentExists(ctx, "https://mopa.gov.bd/b.pdf")
	require.NoError(t, err)
	assert.False(t, exists)

	// Manual uploads have no url and never collide.
	ingest(t, store, seedDoc{})
	ingest(t, store, seedDoc{})
}

func TestNearest(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	src := &domain.Source{Name: "MOPA", BaseURL: "https://mopa.gov.bd", ScraperType: domain.ScraperMOPA, Enabled: true}
	require.NoError(t, store.CreateSource(ctx, src))

	near := ingest(t, store, seedDoc{url: "u1", tags: []string{"housing"}, sections: [][]float32{axis(0), blend(0, 1, 1, 1), nil}})
	far := ingest(t, store, seedDoc{url: "u2", sourceID: &src.ID, sections: [][]float32{blend(0, 1, 1, 3), axis(2)}})

	hits, err := store.Nearest(ctx, axis(0), domain.SectionFilter{}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 4)
	assert.Equal(t, near, hits[0].DocumentID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
	for i := 1; i < len(hits); i++ {
		assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score)
	}

	hits, err = store.Nearest(ctx, axis(0), domain.SectionFilter{}, 2)
	require.NoError(t, err)
	assert.Len(t, hits, 2)

	hits, err = store.Nearest(ctx, axis(0), domain.SectionFilter{TagSlug: "housing"}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	for _, h := range hits {
		assert.Equal(t, near, h.DocumentID)
	}

	hits, err = store.Nearest(ctx, axis(0), domain.SectionFilter{SourceID: &src.ID}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, far, hits[0].DocumentID)

	hits, err = store.Nearest(ctx, axis(0), domain.SectionFilter{TagSlug: "transportation"}, 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	cards, err := store.DocumentCards(ctx, []int64{near, far})
	require.NoError(t, err)
	require.Len(t, cards, 2)
	assert.Equal(t, "Doc u1", cards[near].Title)
	require.Len(t, cards[near].Tags, 1)
	assert.Nil(t, cards[near].SourceID)
	assert.Equal(t, "MOPA", cards[far].Source)
	assert.Empty(t, cards[far].Tags)
}

func TestSourcesAndCrawlJobs(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	on := &domain.Source{Name: "on", BaseURL: "https://a.gov.bd", Enabled: true}
	off := &domain.Source{Name: "off", BaseURL: "https://b.gov.bd", URLPattern: "/notice/", ScraperType: domain.ScraperDNCC}
	require.NoError(t, store.CreateSource(ctx, on))
	require.NoError(t, store.CreateSource(ctx, off))
	assert.Equal(t, domain.ScraperSimple, on.ScraperType)

	all, err := store.ListSources(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	enabled, err := store.ListSources(ctx, true)
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	assert.Equal(t, on.ID, enabled[0].ID)

	require.NoError(t, store.SetSourceEnabled(ctx, off.ID, true))
	got, err := store.GetSource(ctx, off.ID)
	require.NoError(t, err)
	assert.True(t, got.Enabled)
	assert.Equal(t, "/notice/", got.URLPattern)
	assert.Nil(t, got.LastCrawledAt)

	crawled := time.Now()
	require.NoError(t, store.MarkSourceCrawled(ctx, off.ID, crawled))
	got, err = store.GetSource(ctx, off.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastCrawledAt)
	assert.WithinDuration(t, crawled, *got.LastCrawledAt, time.Second)

	assert.ErrorIs(t, store.SetSourceEnabled(ctx, 404, true), domain.ErrNotFound)
	_, err = store.GetSource(ctx, 404)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	job := &domain.CrawlJob{SourceID: on.ID, Status: domain.CrawlPending}
	require.NoError(t, store.CreateCrawlJob(ctx, job))
	started := time.Now()
	job.Status, job.StartedAt = domain.CrawlRunning, &started
	require.NoError(t, store.UpdateCrawlJob(ctx, *job))

	finished := started.Add(time.Second)
	job.Status, job.FinishedAt, job.DocumentsCreated = domain.CrawlSuccess, &finished, 3
	require.NoError(t, store.UpdateCrawlJob(ctx, *job))

	job.Status, job.ErrorMessage = domain.CrawlFailed, "late"
	assert.ErrorIs(t, store.UpdateCrawlJob(ctx, *job), domain.ErrNotFound, "terminal jobs are immutable")

	stored, err := store.GetCrawlJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CrawlSuccess, stored.Status)
	assert.Equal(t, 3, stored.DocumentsCreated)
	assert.Empty(t, stored.ErrorMessage)
	require.NotNil(t, stored.FinishedAt)

	second := &domain.CrawlJob{SourceID: off.ID, Status: domain.CrawlPending}
	require.NoError(t, store.CreateCrawlJob(ctx, second))

	jobs, err := store.ListCrawlJobs(ctx, nil, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, second.ID, jobs[0].ID)

	jobs, err = store.ListCrawlJobs(ctx, &on.ID, 5)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, job.ID, jobs[0].ID)
}

func TestVectorCodec(t *testing.T) {
	in := []float32{0, -1.5, 3.25, 1e-7}
	out, err := decodeVector(encodeVector(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = decodeVector([]byte{1, 2, 3})
	assert.Error(t, err)

	_, ok := cosineSimilarity(make([]float32, 3), []float32{1, 0, 0})
	assert.False(t, ok)
}
