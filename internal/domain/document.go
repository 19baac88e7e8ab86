package domain

import "time"

// EmbeddingDimension is the fixed length of every section embedding.
const EmbeddingDimension = 768

// ContentType distinguishes how a document's text was obtained.
type ContentType string

const (
	ContentHTML ContentType = "html"
	ContentPDF  ContentType = "pdf"
)

// Document is a persisted ingested unit. URL is empty for manual uploads
// and unique across documents otherwise.
type Document struct {
	ID               int64
	SourceID         *int64
	Title            string
	URL              string
	OriginalFilePath string
	ContentText      string
	ContentType      ContentType
	Summary          string
	Explanation      string
	Language         string
	PublishedAt      *time.Time
	CrawledAt        time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time

	Tags     []Tag
	Entities []Entity
}

// Section is one chunk of a document's text. Embedding is nil when the
// provider could not produce one.
type Section struct {
	ID         int64
	DocumentID int64
	OrderIndex int
	Heading    string
	Text       string
	Embedding  []float32
}

// Tag is shared topic vocabulary looked up by Slug.
type Tag struct {
	ID   int64
	Name string
	Slug string
}

// Entity is a named entity looked up by exact (Name, Type).
type Entity struct {
	ID   int64
	Name string
	Type string
}

// EntityMention is what the enrichment provider returns for one entity.
type EntityMention struct {
	Name string `json:"name"`
	Type string `json:"type"`
}
