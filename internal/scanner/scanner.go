package scanner

import (
	"fmt"
	"strings"

	"BdLens/internal/domain"
	"BdLens/internal/ports"
)

// Factory builds a fetcher bound to one source's base URL and pattern.
type Factory func(src domain.Source) (ports.SourceFetcher, error)

// Registry keeps a mapping from scraper types to their strategy factories.
type Registry struct {
	factories map[domain.ScraperType]Factory
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[domain.ScraperType]Factory{}}
}

// Register adds or replaces the factory for a scraper type.
func (r *Registry) Register(kind domain.ScraperType, factory Factory) {
	if r.factories == nil {
		r.factories = map[domain.ScraperType]Factory{}
	}
	r.factories[kind] = factory
}

// Supports reports whether kind has a registered strategy.
func (r *Registry) Supports(kind domain.ScraperType) bool {
	_, ok := r.factories[Normalize(kind)]
	return ok
}

// Build returns a fetcher for src or an error if its strategy is absent
// or the source cannot be scraped with it.
func (r *Registry) Build(src domain.Source) (ports.SourceFetcher, error) {
	kind := Normalize(src.ScraperType)
	factory, ok := r.factories[kind]
	if !ok {
		return nil, fmt.Errorf("scraper %s is not registered", kind)
	}
	fetcher, err := factory(src)
	if err != nil {
		return nil, fmt.Errorf("build %s scraper for source %d: %w", kind, src.ID, err)
	}
	return fetcher, nil
}

// Normalize lowercases a scraper type; empty means simple.
func Normalize(kind domain.ScraperType) domain.ScraperType {
	k := domain.ScraperType(strings.ToLower(strings.TrimSpace(string(kind))))
	if k == "" {
		return domain.ScraperSimple
	}
	return k
}
