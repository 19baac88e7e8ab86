package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates an unknown document, source or crawl job id.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateURL indicates a document with the same url already exists.
	ErrDuplicateURL = errors.New("duplicate url")

	// ErrExtractionFailed indicates a PDF produced no usable text.
	ErrExtractionFailed = errors.New("extraction failed")

	// ErrFetchFailed indicates a network or HTTP failure for a page or file.
	ErrFetchFailed = errors.New("fetch failed")

	// ErrProvider indicates the enrichment provider failed a call.
	ErrProvider = errors.New("provider error")

	// ErrInvalidInput indicates malformed caller input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrSourceDisabled indicates a crawl was requested for a disabled source.
	ErrSourceDisabled = errors.New("source disabled")

	// ErrCrawlRunning indicates the source already has a crawl in flight.
	ErrCrawlRunning = errors.New("crawl already running")
)

// FetchError describes a failed page or file fetch.
type FetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Is makes every FetchError match ErrFetchFailed.
func (e *FetchError) Is(target error) bool { return target == ErrFetchFailed }

// ProviderError describes a failed enrichment call.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Is makes every ProviderError match ErrProvider.
func (e *ProviderError) Is(target error) bool { return target == ErrProvider }
