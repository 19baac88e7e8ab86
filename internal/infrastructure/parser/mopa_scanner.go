package parser

import (
	"context"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"BdLens/internal/domain"
	"BdLens/internal/ports"
)

// DefaultListingPages bounds how many listing pages one discovery reads.
const DefaultListingPages = 5

var mopaPagerSelectors = []string{
	".pager a",
	".pagination a",
	"ul.pagination a",
	".page-link",
	`a[rel="next"]`,
}

var (
	dayFirstDate  = regexp.MustCompile(`(\d{1,2})[-/](\d{1,2})[-/](\d{2,4})`)
	yearFirstDate = regexp.MustCompile(`(\d{4})[-/](\d{1,2})[-/](\d{1,2})`)
)

const minTitleRunes = 6

// MOPAScanner reads the Ministry of Public Administration notice tables.
// Every listed document is a PDF.
type MOPAScanner struct {
	siteBase
	maxPages int
}

var _ ports.SourceFetcher = (*MOPAScanner)(nil)

func NewMOPAScanner(client *PageClient, src domain.Source, maxPages int, logger *slog.Logger) (*MOPAScanner, error) {
	base, err := newSiteBase(client, src, logger)
	if err != nil {
		return nil, err
	}
	if maxPages <= 0 {
		maxPages = DefaultListingPages
	}
	return &MOPAScanner{siteBase: base, maxPages: maxPages}, nil
}

// DiscoverLinks reads the base listing plus up to maxPages-1 pagination
// pages. Only the base page failing is an error; later pages are skipped.
func (s *MOPAScanner) DiscoverLinks(ctx context.Context) ([]domain.RawLink, error) {
	first, _, err := s.client.Document(ctx, s.base.String())
	if err != nil {
		return nil, err
	}

	var set linkSet
	s.collectRows(first, &set)

	pages := s.paginationLinks(first)
	if len(pages) > s.maxPages-1 {
		pages = pages[:s.maxPages-1]
	}
	for _, page := range pages {
		if err := ctx.Err(); err != nil {
			return set.links, err
		}
		doc, _, err := s.client.Document(ctx, page)
		if err != nil {
			s.logger.Warn("listing page skipped", "url", page, "error", err)
			continue
		}
		s.collectRows(doc, &set)
	}

	s.logger.Debug("mopa discovery done", "pages", len(pages)+1, "links", len(set.links))
	return set.links, nil
}

func (s *MOPAScanner) paginationLinks(doc *goquery.Document) []string {
	baseURL := s.base.String()
	for _, selector := range mopaPagerSelectors {
		found := doc.Find(selector)
		if found.Length() == 0 {
			continue
		}
		seen := map[string]struct{}{}
		var pages []string
		found.Each(func(_ int, a *goquery.Selection) {
			href, _ := a.Attr("href")
			abs, ok := resolve(s.base, href)
			if !ok || abs == baseURL {
				return
			}
			if _, dup := seen[abs]; dup {
				return
			}
			seen[abs] = struct{}{}
			pages = append(pages, abs)
		})
		return pages
	}
	return nil
}

// collectRows applies the cell heuristics to every table row after the
// header row of each table.
func (s *MOPAScanner) collectRows(doc *goquery.Document, set *linkSet) {
	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		table.Find("tr").Each(func(i int, row *goquery.Selection) {
			if i == 0 {
				return
			}
			if link, ok := s.rowLink(row); ok {
				set.add(link)
			}
		})
	})
}

func (s *MOPAScanner) rowLink(row *goquery.Selection) (domain.RawLink, bool) {
	cells := row.Find("td, th")
	if cells.Length() < 2 {
		return domain.RawLink{}, false
	}

	href, ok := rowPDFHref(row, cells)
	if !ok {
		return domain.RawLink{}, false
	}
	fileURL, ok := resolve(s.base, href)
	if !ok {
		return domain.RawLink{}, false
	}

	var title string
	var published *time.Time
	cells.Each(func(_ int, cell *goquery.Selection) {
		text := cleanText(cell)
		lower := strings.ToLower(text)
		switch {
		case text == "":
		case isSerial(text):
		case strings.Contains(lower, "download") || lower == "pdf":
		case looksLikeDate(text):
			if published == nil {
				published = parseListingDate(text)
			}
		case title == "" && utf8.RuneCountInString(text) >= minTitleRunes:
			title = text
		}
	})
	if title == "" {
		return domain.RawLink{}, false
	}
	return domain.RawLink{URL: fileURL, Title: title, Type: domain.ContentPDF, PublishedAt: published}, true
}

// rowPDFHref prefers a link to a .pdf file, then any download-labelled link.
func rowPDFHref(row, cells *goquery.Selection) (string, bool) {
	var href string
	row.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		h, _ := a.Attr("href")
		if strings.Contains(strings.ToLower(h), ".pdf") {
			href = h
			return false
		}
		return true
	})
	if href != "" {
		return href, true
	}
	cells.EachWithBreak(func(_ int, cell *goquery.Selection) bool {
		a := cell.Find("a[href]").First()
		if a.Length() == 0 {
			return true
		}
		h, _ := a.Attr("href")
		if strings.Contains(strings.ToLower(a.Text()), "download") || strings.Contains(strings.ToLower(h), "pdf") {
			href = h
			return false
		}
		return true
	})
	return href, href != ""
}

func isSerial(text string) bool {
	for _, r := range text {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return text != ""
}

func looksLikeDate(text string) bool {
	return dayFirstDate.MatchString(text) || yearFirstDate.MatchString(text)
}

// parseListingDate reads YYYY-MM-DD or DD-MM-YYYY (two-digit years are
// 2000-based). It returns nil for impossible dates.
func parseListingDate(text string) *time.Time {
	var y, m, d int
	if g := yearFirstDate.FindStringSubmatch(text); g != nil {
		y, m, d = atoi(g[1]), atoi(g[2]), atoi(g[3])
	} else if g := dayFirstDate.FindStringSubmatch(text); g != nil {
		d, m, y = atoi(g[1]), atoi(g[2]), atoi(g[3])
		if y < 100 {
			y += 2000
		}
	} else {
		return nil
	}
	if m < 1 || m > 12 || d < 1 || d > 31 {
		return nil
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if t.Day() != d {
		return nil
	}
	return &t
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// FetchContent never touches the network: listings only link PDFs, and the
// title comes from the file name.
func (s *MOPAScanner) FetchContent(_ context.Context, fileURL string) (domain.FetchedContent, error) {
	return pdfContent(fileURL, filenameTitle(fileURL)), nil
}

func filenameTitle(fileURL string) string {
	name := strings.NewReplacer("_", " ", "-", " ").Replace(fileStem(fileURL))
	return strings.Join(strings.Fields(name), " ")
}
