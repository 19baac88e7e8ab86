package parser

import (
	"log/slog"

	"BdLens/internal/domain"
	"BdLens/internal/ports"
	"BdLens/internal/scanner"
)

// StrategyOptions tunes the strategies built by RegisterStrategies.
type StrategyOptions struct {
	MaxListingPages int
}

// RegisterStrategies binds the simple, dncc and mopa scraper types to
// constructors sharing one page client.
func RegisterStrategies(reg *scanner.Registry, client *PageClient, opts StrategyOptions, log *slog.Logger) *scanner.Registry {
	if reg == nil {
		reg = scanner.NewRegistry()
	}
	if log == nil {
		log = slog.Default()
	}

	reg.Register(domain.ScraperSimple, func(src domain.Source) (ports.SourceFetcher, error) {
		return NewSimpleScanner(client, src, log.With("scanner", string(domain.ScraperSimple), "source_id", src.ID))
	})
	reg.Register(domain.ScraperDNCC, func(src domain.Source) (ports.SourceFetcher, error) {
		return NewDNCCScanner(client, src, log.With("scanner", string(domain.ScraperDNCC), "source_id", src.ID))
	})
	reg.Register(domain.ScraperMOPA, func(src domain.Source) (ports.SourceFetcher, error) {
		return NewMOPAScanner(client, src, opts.MaxListingPages, log.With("scanner", string(domain.ScraperMOPA), "source_id", src.ID))
	})
	return reg
}
