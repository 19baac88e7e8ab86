package ports

import (
	"context"
	"time"

	"BdLens/internal/domain"
)

// SourceFetcher discovers and fetches documents for one configured source.
type SourceFetcher interface {
	DiscoverLinks(ctx context.Context) ([]domain.RawLink, error)
	FetchContent(ctx context.Context, url string) (domain.FetchedContent, error)
	Download(ctx context.Context, url, dst string) error
}

// ContentExtractor turns PDF files into plain text.
type ContentExtractor interface {
	ExtractText(ctx context.Context, path string) string
	Metadata(path string) PDFMetadata
}

// PDFMetadata is advisory document information; PageCount is 0 on read failure.
type PDFMetadata struct {
	Title     string
	Author    string
	Subject   string
	Creator   string
	PageCount int
}

// EnrichmentClient produces AI-derived fields and embeddings.
type EnrichmentClient interface {
	Summarize(ctx context.Context, text string) (string, error)
	Explain(ctx context.Context, text string) (string, error)
	ClassifyTags(ctx context.Context, text string) ([]string, error)
	ExtractEntities(ctx context.Context, text string) ([]domain.EntityMention, error)
	EmbedDocument(ctx context.Context, text string) ([]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// LanguageDetector guesses the ISO 639-1 code of a text, or "" when unsure.
type LanguageDetector interface {
	Detect(text string) string
}

// DocumentStore persists documents and their annotations.
type DocumentStore interface {
	BeginIngest(ctx context.Context) (IngestTx, error)
	GetDocument(ctx context.Context, id int64) (domain.Document, error)
	DocumentExists(ctx context.Context, url string) (bool, error)
	UpdateEnrichment(ctx context.Context, id int64, summary, explanation string, at time.Time) error
}

// IngestTx is the unit of work for one ingested document. Nothing written
// through it is visible to readers until Commit.
type IngestTx interface {
	CreateDocument(ctx context.Context, doc *domain.Document) error
	SetEnrichment(ctx context.Context, documentID int64, summary, explanation string) error
	GetOrCreateTag(ctx context.Context, name, slug string) (domain.Tag, error)
	AttachTag(ctx context.Context, documentID, tagID int64) error
	GetOrCreateEntity(ctx context.Context, name, entityType string) (domain.Entity, error)
	AttachEntity(ctx context.Context, documentID, entityID int64) error
	InsertSections(ctx context.Context, sections []domain.Section) error
	Commit() error
	Rollback() error
}

// SectionIndex answers similarity queries over section embeddings.
type SectionIndex interface {
	Nearest(ctx context.Context, embedding []float32, filter domain.SectionFilter, limit int) ([]domain.SectionHit, error)
	DocumentCards(ctx context.Context, ids []int64) (map[int64]domain.DocumentCard, error)
}

// SourceStore manages configured sources.
type SourceStore interface {
	CreateSource(ctx context.Context, src *domain.Source) error
	GetSource(ctx context.Context, id int64) (domain.Source, error)
	ListSources(ctx context.Context, enabledOnly bool) ([]domain.Source, error)
	SetSourceEnabled(ctx context.Context, id int64, enabled bool) error
	MarkSourceCrawled(ctx context.Context, id int64, at time.Time) error
}

// CrawlJobStore records crawl executions.
type CrawlJobStore interface {
	CreateCrawlJob(ctx context.Context, job *domain.CrawlJob) error
	UpdateCrawlJob(ctx context.Context, job domain.CrawlJob) error
	GetCrawlJob(ctx context.Context, id int64) (domain.CrawlJob, error)
	ListCrawlJobs(ctx context.Context, sourceID *int64, limit int) ([]domain.CrawlJob, error)
}

// Repository is the full storage collaborator.
type Repository interface {
	DocumentStore
	SectionIndex
	SourceStore
	CrawlJobStore
	EnsureSchema(ctx context.Context) error
	Close() error
}

// Notifier streams crawl outcomes to Telegram or other channels.
type Notifier interface {
	PublishDigest(ctx context.Context, digest string) error
}

// Scheduler controls when recurring crawls execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
