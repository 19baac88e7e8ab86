package parser

import (
	"context"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"BdLens/internal/domain"
	"BdLens/internal/ports"
)

var (
	dnccCardSelectors = []string{
		".notice-card",
		".notice-item",
		".card",
		"article",
		".node-notice",
		".view-content .views-row",
		"tbody tr",
	}
	dnccTitleSelectors   = []string{"h3", "h4", ".title", ".notice-title", "strong"}
	dnccContentSelectors = []string{
		"article",
		".content",
		".node-content",
		".notice-content",
		".main-content",
		"#content",
		"main",
	}
)

const dnccFallbackTitle = "Untitled Notice"

// DNCCScanner reads the Dhaka North City Corporation notice board: card
// listings linking to notice pages or PDFs, with attachments inside cards.
type DNCCScanner struct {
	siteBase
}

var _ ports.SourceFetcher = (*DNCCScanner)(nil)

func NewDNCCScanner(client *PageClient, src domain.Source, logger *slog.Logger) (*DNCCScanner, error) {
	base, err := newSiteBase(client, src, logger)
	if err != nil {
		return nil, err
	}
	return &DNCCScanner{siteBase: base}, nil
}

// DiscoverLinks probes card selectors in order and stops at the first that
// matches. Without cards it falls back to links inside the content area.
func (s *DNCCScanner) DiscoverLinks(ctx context.Context) ([]domain.RawLink, error) {
	doc, _, err := s.client.Document(ctx, s.base.String())
	if err != nil {
		return nil, err
	}

	var cards *goquery.Selection
	for _, selector := range dnccCardSelectors {
		if found := doc.Find(selector); found.Length() > 0 {
			cards = found
			break
		}
	}

	var set linkSet
	if cards == nil {
		s.contentAreaLinks(doc, &set)
		s.logger.Debug("dncc discovery used content area", "links", len(set.links))
		return set.links, nil
	}

	cards.Each(func(_ int, card *goquery.Selection) {
		link := card.Find("a[href]").First()
		if link.Length() == 0 {
			return
		}
		href, _ := link.Attr("href")
		abs, ok := resolve(s.base, href)
		if !ok {
			return
		}

		title := cardTitle(card, link)
		kind := domain.ContentHTML
		if isPDF(href) {
			kind = domain.ContentPDF
		}
		set.add(domain.RawLink{URL: abs, Title: title, Type: kind})

		card.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
			attHref, _ := a.Attr("href")
			if !isPDF(attHref) {
				return
			}
			attURL, ok := resolve(s.base, attHref)
			if !ok {
				return
			}
			attTitle := cleanText(a)
			if attTitle == "" {
				attTitle = title + " - Attachment"
			}
			set.add(domain.RawLink{URL: attURL, Title: attTitle, Type: domain.ContentPDF})
		})
	})

	s.logger.Debug("dncc discovery done", "cards", cards.Length(), "links", len(set.links))
	return set.links, nil
}

func (s *DNCCScanner) contentAreaLinks(doc *goquery.Document, set *linkSet) {
	area := doc.Find(".content, .main-content, #content").First()
	if area.Length() == 0 {
		return
	}
	area.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		abs, ok := resolve(s.base, href)
		if !ok {
			return
		}
		title := cleanText(a)
		if title == "" {
			title = dnccFallbackTitle
		}
		switch {
		case isPDF(href):
			set.add(domain.RawLink{URL: abs, Title: title, Type: domain.ContentPDF})
		case strings.Contains(strings.ToLower(abs), "notice"):
			set.add(domain.RawLink{URL: abs, Title: title, Type: domain.ContentHTML})
		}
	})
}

func cardTitle(card, link *goquery.Selection) string {
	for _, selector := range dnccTitleSelectors {
		if el := card.Find(selector).First(); el.Length() > 0 {
			if t := cleanText(el); t != "" {
				return t
			}
		}
	}
	if t := cleanText(link); t != "" {
		return t
	}
	return dnccFallbackTitle
}

// FetchContent returns PDF metadata or the notice page text with any PDF
// attachments found in its content region.
func (s *DNCCScanner) FetchContent(ctx context.Context, pageURL string) (domain.FetchedContent, error) {
	if isPDF(pageURL) {
		return pdfContent(pageURL, fileStem(pageURL)), nil
	}
	doc, raw, err := s.client.Document(ctx, pageURL)
	if err != nil {
		return domain.FetchedContent{}, err
	}
	return htmlContent(doc, raw, pageURL, dnccContentSelectors, dnccFallbackTitle), nil
}
