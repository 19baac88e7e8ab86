package parser

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"BdLens/internal/domain"
	"BdLens/internal/ports"
)

var simpleContentSelectors = []string{"main", "article", ".content", "#content", ".main-content"}

// SimpleScanner is the generic strategy: PDFs anywhere on the base page,
// pages matching the configured pattern, or same-host content pages.
type SimpleScanner struct {
	siteBase
	pattern *regexp.Regexp
}

var _ ports.SourceFetcher = (*SimpleScanner)(nil)

// NewSimpleScanner binds the generic strategy to src. An invalid url
// pattern is a construction error.
func NewSimpleScanner(client *PageClient, src domain.Source, logger *slog.Logger) (*SimpleScanner, error) {
	base, err := newSiteBase(client, src, logger)
	if err != nil {
		return nil, err
	}
	s := &SimpleScanner{siteBase: base}
	if p := strings.TrimSpace(src.URLPattern); p != "" {
		s.pattern, err = regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile url pattern %q: %w", p, err)
		}
	}
	return s, nil
}

// DiscoverLinks scans every anchor of the base page.
func (s *SimpleScanner) DiscoverLinks(ctx context.Context) ([]domain.RawLink, error) {
	doc, _, err := s.client.Document(ctx, s.base.String())
	if err != nil {
		return nil, err
	}

	var set linkSet
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		abs, ok := resolve(s.base, href)
		if !ok {
			return
		}
		title := cleanText(a)
		if title == "" {
			title = "Untitled"
		}

		switch {
		case isPDF(href):
			set.add(domain.RawLink{URL: abs, Title: title, Type: domain.ContentPDF})
		case s.pattern != nil:
			if s.pattern.MatchString(abs) {
				set.add(domain.RawLink{URL: abs, Title: title, Type: domain.ContentHTML})
			}
		case s.looksLikeContent(abs):
			set.add(domain.RawLink{URL: abs, Title: title, Type: domain.ContentHTML})
		}
	})

	s.logger.Debug("simple discovery done", "base", s.base.String(), "links", len(set.links))
	return set.links, nil
}

// looksLikeContent treats same-host links deeper than one path segment as
// content pages rather than navigation.
func (s *SimpleScanner) looksLikeContent(abs string) bool {
	u, err := url.Parse(abs)
	if err != nil || !strings.EqualFold(u.Host, s.base.Host) {
		return false
	}
	return strings.Count(u.Path, "/") > 1
}

// FetchContent returns PDF metadata or the extracted text of an HTML page.
func (s *SimpleScanner) FetchContent(ctx context.Context, pageURL string) (domain.FetchedContent, error) {
	if isPDF(pageURL) {
		return pdfContent(pageURL, fileStem(pageURL)), nil
	}
	doc, raw, err := s.client.Document(ctx, pageURL)
	if err != nil {
		return domain.FetchedContent{}, err
	}
	return htmlContent(doc, raw, pageURL, simpleContentSelectors, "Untitled Document"), nil
}
