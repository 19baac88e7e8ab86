package domain

// SearchQuery carries the parameters of a semantic search.
type SearchQuery struct {
	Text     string
	Limit    int
	Tag      string
	SourceID *int64
}

// SectionFilter restricts which sections take part in a similarity query.
type SectionFilter struct {
	TagSlug  string
	SourceID *int64
}

// SectionHit is one row of a similarity query, ordered by Score descending.
type SectionHit struct {
	SectionID  int64
	DocumentID int64
	Text       string
	Score      float64
}

// DocumentCard is the document-level data attached to a search result.
type DocumentCard struct {
	ID       int64
	Title    string
	URL      string
	SourceID *int64
	Source   string
	Tags     []Tag
}

// SearchResult is one document in a ranked search response.
type SearchResult struct {
	DocumentID int64
	Title      string
	Snippet    string
	Score      float64
	SourceID   *int64
	Source     string
	Tags       []Tag
	URL        string
}
