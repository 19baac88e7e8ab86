package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"BdLens/internal/domain"
	"BdLens/internal/ports"
)

const unknownEntityType = "unknown"

// ProcessorConfig tunes chunking and embedding parallelism.
type ProcessorConfig struct {
	ChunkSize    int
	ChunkOverlap int
	EmbedWorkers int
}

// TextInput is a document whose text is already known.
type TextInput struct {
	Title       string
	Content     string
	Type        domain.ContentType
	URL         string
	SourceID    *int64
	FilePath    string
	PublishedAt *time.Time
}

// PDFInput is a PDF on local disk. Title falls back to the PDF metadata
// and then to the file name.
type PDFInput struct {
	Path        string
	Title       string
	URL         string
	SourceID    *int64
	PublishedAt *time.Time
}

// Processor enriches, chunks and persists documents.
type Processor struct {
	store     ports.DocumentStore
	enrich    ports.EnrichmentClient
	extractor ports.ContentExtractor
	language  ports.LanguageDetector
	chunker   Chunker
	workers   int
	logger    *slog.Logger
	now       func() time.Time
}

// NewProcessor wires the ingestion pipeline. language may be nil.
func NewProcessor(store ports.DocumentStore, enrich ports.EnrichmentClient, extractor ports.ContentExtractor,
	language ports.LanguageDetector, cfg ProcessorConfig, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	workers := cfg.EmbedWorkers
	if workers <= 0 {
		workers = 1
	}
	return &Processor{
		store:     store,
		enrich:    enrich,
		extractor: extractor,
		language:  language,
		chunker:   NewChunker(cfg.ChunkSize, cfg.ChunkOverlap),
		workers:   workers,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// IngestText stores a document, enriches it and indexes its sections in one
// transaction. Enrichment failures only leave fields empty; storage
// failures roll everything back. A url that is already stored yields
// ErrDuplicateURL.
func (p *Processor) IngestText(ctx context.Context, in TextInput) (domain.Document, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return domain.Document{}, fmt.Errorf("document title is empty: %w", domain.ErrInvalidInput)
	}
	kind := in.Type
	if kind == "" {
		kind = domain.ContentHTML
	}
	if kind != domain.ContentHTML && kind != domain.ContentPDF {
		return domain.Document{}, fmt.Errorf("content type %q: %w", kind, domain.ErrInvalidInput)
	}

	now := p.now()
	doc := domain.Document{
		SourceID:         in.SourceID,
		Title:            title,
		OriginalFilePath: in.FilePath,
		ContentText:      in.Content,
		ContentType:      kind,
		PublishedAt:      in.PublishedAt,
		CrawledAt:        now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if in.URL != "" {
		normalized, err := NormalizeURL(in.URL)
		if err != nil {
			return domain.Document{}, err
		}
		doc.URL = normalized
	}
	if p.language != nil {
		doc.Language = p.language.Detect(in.Content)
	}

	tx, err := p.store.BeginIngest(ctx)
	if err != nil {
		return domain.Document{}, err
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil {
			p.logger.Error("rollback ingest", "url", doc.URL, "error", rbErr)
		}
	}()

	if err := tx.CreateDocument(ctx, &doc); err != nil {
		return domain.Document{}, err
	}
	log := p.logger.With("document_id", doc.ID)
	if doc.URL != "" {
		log = log.With("url", doc.URL)
	}

	if err := p.annotate(ctx, tx, &doc, log); err != nil {
		return domain.Document{}, err
	}

	sections := p.sections(ctx, doc.ID, doc.ContentText, log)
	if err := tx.InsertSections(ctx, sections); err != nil {
		return domain.Document{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Document{}, err
	}
	committed = true

	log.Info("document ingested", "title", doc.Title, "type", doc.ContentType,
		"sections", len(sections), "tags", len(doc.Tags), "entities", len(doc.Entities))
	return doc, nil
}

// annotate runs the four document-level enrichment steps. Each one may fail
// on its own; only storage errors are returned.
func (p *Processor) annotate(ctx context.Context, tx ports.IngestTx, doc *domain.Document, log *slog.Logger) error {
	text := doc.ContentText

	summary, err := p.enrich.Summarize(ctx, text)
	if err != nil {
		log.Warn("summary failed", "error", err)
	}
	explanation, err := p.enrich.Explain(ctx, text)
	if err != nil {
		log.Warn("explanation failed", "error", err)
	}
	if summary != "" || explanation != "" {
		if err := tx.SetEnrichment(ctx, doc.ID, summary, explanation); err != nil {
			return err
		}
		doc.Summary, doc.Explanation = summary, explanation
	}

	names, err := p.enrich.ClassifyTags(ctx, text)
	if err != nil {
		log.Warn("tag classification failed", "error", err)
	}
	seenSlugs := make(map[string]bool, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		slug := Slugify(name)
		if slug == "" || seenSlugs[slug] {
			continue
		}
		seenSlugs[slug] = true
		tag, err := tx.GetOrCreateTag(ctx, name, slug)
		if err != nil {
			return err
		}
		if err := tx.AttachTag(ctx, doc.ID, tag.ID); err != nil {
			return err
		}
		doc.Tags = append(doc.Tags, tag)
	}

	mentions, err := p.enrich.ExtractEntities(ctx, text)
	if err != nil {
		log.Warn("entity extraction failed", "error", err)
	}
	seenEntities := make(map[domain.EntityMention]bool, len(mentions))
	for _, m := range mentions {
		m.Name = strings.TrimSpace(m.Name)
		m.Type = strings.TrimSpace(m.Type)
		if m.Name == "" {
			continue
		}
		if m.Type == "" {
			m.Type = unknownEntityType
		}
		if seenEntities[m] {
			continue
		}
		seenEntities[m] = true
		entity, err := tx.GetOrCreateEntity(ctx, m.Name, m.Type)
		if err != nil {
			return err
		}
		if err := tx.AttachEntity(ctx, doc.ID, entity.ID); err != nil {
			return err
		}
		doc.Entities = append(doc.Entities, entity)
	}
	return nil
}

// sections chunks text and embeds every chunk with a bounded worker pool.
// A chunk whose embedding fails is kept without one.
func (p *Processor) sections(ctx context.Context, documentID int64, text string, log *slog.Logger) []domain.Section {
	chunks := p.chunker.Split(text)
	sections := make([]domain.Section, len(chunks))

	var g errgroup.Group
	g.SetLimit(p.workers)
	for i, chunk := range chunks {
		sections[i] = domain.Section{DocumentID: documentID, OrderIndex: chunk.Index, Text: chunk.Text}
		g.Go(func() error {
			vec, err := p.enrich.EmbedDocument(ctx, chunk.Text)
			if err != nil {
				log.Warn("section embedding failed", "order_index", chunk.Index, "error", err)
				return nil
			}
			sections[i].Embedding = vec
			return nil
		})
	}
	_ = g.Wait()
	return sections
}

// IngestPDF extracts a PDF's text and ingests it. A PDF without text fails
// with ErrExtractionFailed and nothing is stored.
func (p *Processor) IngestPDF(ctx context.Context, in PDFInput) (domain.Document, error) {
	path := strings.TrimSpace(in.Path)
	if path == "" {
		return domain.Document{}, fmt.Errorf("pdf path is empty: %w", domain.ErrInvalidInput)
	}

	text := p.extractor.ExtractText(ctx, path)
	if strings.TrimSpace(text) == "" {
		return domain.Document{}, fmt.Errorf("pdf %s has no text: %w", filepath.Base(path), domain.ErrExtractionFailed)
	}

	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = strings.TrimSpace(p.extractor.Metadata(path).Title)
	}
	if title == "" {
		title = filepath.Base(path)
	}

	return p.IngestText(ctx, TextInput{
		Title:       title,
		Content:     text,
		Type:        domain.ContentPDF,
		URL:         in.URL,
		SourceID:    in.SourceID,
		FilePath:    path,
		PublishedAt: in.PublishedAt,
	})
}

// Reenrich regenerates summary and explanation from the stored text. A step
// that fails keeps the stored value; if both fail nothing is written.
func (p *Processor) Reenrich(ctx context.Context, id int64) (domain.Document, error) {
	doc, err := p.store.GetDocument(ctx, id)
	if err != nil {
		return domain.Document{}, err
	}

	summary, sumErr := p.enrich.Summarize(ctx, doc.ContentText)
	explanation, expErr := p.enrich.Explain(ctx, doc.ContentText)
	if sumErr != nil && expErr != nil {
		return domain.Document{}, fmt.Errorf("reenrich document %d: %w", id, errors.Join(sumErr, expErr))
	}

	log := p.logger.With("document_id", id)
	if sumErr != nil {
		log.Warn("summary failed, keeping previous", "error", sumErr)
		summary = doc.Summary
	}
	if expErr != nil {
		log.Warn("explanation failed, keeping previous", "error", expErr)
		explanation = doc.Explanation
	}

	now := p.now()
	if err := p.store.UpdateEnrichment(ctx, id, summary, explanation, now); err != nil {
		return domain.Document{}, err
	}
	doc.Summary, doc.Explanation, doc.UpdatedAt = summary, explanation, now
	log.Info("document re-enriched")
	return doc, nil
}
