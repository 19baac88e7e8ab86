package domain

import "time"

// ScraperType selects the fetching strategy used for a source.
type ScraperType string

const (
	ScraperSimple ScraperType = "simple"
	ScraperDNCC   ScraperType = "dncc"
	ScraperMOPA   ScraperType = "mopa"
)

// Source is a configured origin of documents.
type Source struct {
	ID            int64
	Name          string
	BaseURL       string
	URLPattern    string
	ScraperType   ScraperType
	Enabled       bool
	LastCrawledAt *time.Time
	CreatedAt     time.Time
}

// CrawlStatus enumerates crawl job milestones.
type CrawlStatus string

const (
	CrawlPending CrawlStatus = "pending"
	CrawlRunning CrawlStatus = "running"
	CrawlSuccess CrawlStatus = "success"
	CrawlFailed  CrawlStatus = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s CrawlStatus) Terminal() bool {
	return s == CrawlSuccess || s == CrawlFailed
}

// CrawlJob records one execution of discovery plus ingestion for a source.
// FinishedAt is set exactly when Status is terminal.
type CrawlJob struct {
	ID               int64
	SourceID         int64
	Status           CrawlStatus
	StartedAt        *time.Time
	FinishedAt       *time.Time
	ErrorMessage     string
	DocumentsCreated int
	CreatedAt        time.Time
}

// RawLink is a discovered candidate document, never persisted.
// PublishedAt is set when the listing showed a date next to the link.
type RawLink struct {
	URL         string
	Title       string
	Type        ContentType
	PublishedAt *time.Time
}

// FetchedContent is the result of fetching one link. Text is empty for
// PDFs, whose extraction happens after download.
type FetchedContent struct {
	URL      string
	Title    string
	Text     string
	Type     ContentType
	PDFLinks []string
}
