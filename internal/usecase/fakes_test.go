package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"BdLens/internal/domain"
	"BdLens/internal/ports"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var errProviderDown = errors.New("provider down")

// fakeEnricher answers every enrichment call locally. Embeddings place text
// on one of three axes by keyword so similarity is predictable.
type fakeEnricher struct {
	mu    sync.Mutex
	calls map[string]int

	failSummary  bool
	failExplain  bool
	failTags     bool
	failEntities bool
	failQuery    bool
	// failEmbed fails document embeddings of chunks containing it.
	failEmbed string

	tags     []string
	entities []domain.EntityMention
}

func (f *fakeEnricher) count(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[op]++
}

func (f *fakeEnricher) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func providerErr(op string) error {
	return &domain.ProviderError{Op: op, Err: errProviderDown}
}

func (f *fakeEnricher) Summarize(_ context.Context, text string) (string, error) {
	f.count("summarize")
	if f.failSummary {
		return "", providerErr("summarize")
	}
	return "summary of " + firstWords(text), nil
}

func (f *fakeEnricher) Explain(_ context.Context, text string) (string, error) {
	f.count("explain")
	if f.failExplain {
		return "", providerErr("explain")
	}
	return "explanation of " + firstWords(text), nil
}

func (f *fakeEnricher) ClassifyTags(context.Context, string) ([]string, error) {
	f.count("classify_tags")
	if f.failTags {
		return nil, providerErr("classify_tags")
	}
	return f.tags, nil
}

func (f *fakeEnricher) ExtractEntities(context.Context, string) ([]domain.EntityMention, error) {
	f.count("extract_entities")
	if f.failEntities {
		return nil, providerErr("extract_entities")
	}
	return f.entities, nil
}

func (f *fakeEnricher) EmbedDocument(_ context.Context, text string) ([]float32, error) {
	f.count("embed_document")
	if f.failEmbed != "" && strings.Contains(text, f.failEmbed) {
		return nil, providerErr("embed_document")
	}
	return axisFor(text), nil
}

func (f *fakeEnricher) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	f.count("embed_query")
	if f.failQuery {
		return nil, providerErr("embed_query")
	}
	return axisFor(text), nil
}

func axisFor(text string) []float32 {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "flood"):
		return []float32{1, 0, 0}
	case strings.Contains(lower, "housing"):
		return []float32{0, 1, 0}
	default:
		return []float32{0, 0, 1}
	}
}

func firstWords(text string) string {
	fields := strings.Fields(text)
	if len(fields) > 3 {
		fields = fields[:3]
	}
	return strings.Join(fields, " ")
}

// fakeExtractor returns a fixed text for every path except those listed
// in empty.
type fakeExtractor struct {
	text  string
	title string
	empty map[string]bool
}

func (f *fakeExtractor) ExtractText(_ context.Context, path string) string {
	if f.empty[path] {
		return ""
	}
	return f.text
}

func (f *fakeExtractor) Metadata(string) ports.PDFMetadata {
	return ports.PDFMetadata{Title: f.title, PageCount: 1}
}

// fakeFetcher serves a fixed link list. Pages not in pages fail with a
// FetchError; pdfs lists downloadable files and their bytes.
type fakeFetcher struct {
	links       []domain.RawLink
	discoverErr error
	pages       map[string]domain.FetchedContent
	pdfs        map[string]string

	// block makes FetchContent of that url wait for cancellation.
	block   string
	blocked chan struct{}

	mu      sync.Mutex
	fetched []string
}

func (f *fakeFetcher) DiscoverLinks(context.Context) ([]domain.RawLink, error) {
	return f.links, f.discoverErr
}

func (f *fakeFetcher) FetchContent(ctx context.Context, url string) (domain.FetchedContent, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, url)
	f.mu.Unlock()

	if url == f.block {
		close(f.blocked)
		<-ctx.Done()
		return domain.FetchedContent{}, &domain.FetchError{URL: url, Err: ctx.Err()}
	}
	content, ok := f.pages[url]
	if !ok {
		return domain.FetchedContent{}, &domain.FetchError{URL: url, Status: 404}
	}
	return content, nil
}

func (f *fakeFetcher) Download(_ context.Context, url, dst string) error {
	body, ok := f.pdfs[url]
	if !ok {
		return &domain.FetchError{URL: url, Status: 404}
	}
	return os.WriteFile(dst, []byte(body), 0o644)
}

func (f *fakeFetcher) Fetched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.fetched...)
}

type fakeBuilder struct {
	fetcher ports.SourceFetcher
	err     error
}

func (b fakeBuilder) Build(domain.Source) (ports.SourceFetcher, error) {
	return b.fetcher, b.err
}

// recordingNotifier keeps every published digest.
type recordingNotifier struct {
	mu      sync.Mutex
	digests []string
}

func (n *recordingNotifier) PublishDigest(_ context.Context, digest string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.digests = append(n.digests, digest)
	return nil
}

func (n *recordingNotifier) Digests() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.digests...)
}
