package parser

import (
	"bytes"
	"context"
	"log/slog"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
	"golang.org/x/net/html"

	"BdLens/internal/domain"
)

// strippedTags never contribute visible text or attachment links.
const strippedTags = "script, style, nav, header, footer"

// siteBase holds what every strategy needs: the page client and its source.
type siteBase struct {
	client *PageClient
	base   *url.URL
	logger *slog.Logger
}

func newSiteBase(client *PageClient, src domain.Source, logger *slog.Logger) (siteBase, error) {
	base, err := url.Parse(strings.TrimSpace(src.BaseURL))
	if err != nil || base.Host == "" {
		return siteBase{}, &domain.FetchError{URL: src.BaseURL, Err: domain.ErrInvalidInput}
	}
	if client == nil {
		client = NewPageClient(nil, "")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return siteBase{client: client, base: base, logger: logger}, nil
}

// Download saves a file found by this strategy.
func (b siteBase) Download(ctx context.Context, fileURL, dst string) error {
	return b.client.Download(ctx, fileURL, dst)
}

// resolve makes href absolute against ref and rejects anchors and
// non-http schemes.
func resolve(ref *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}
	u, err := ref.Parse(href)
	if err != nil {
		return "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	u.Fragment = ""
	return u.String(), true
}

// isPDF reports whether a URL or href points at a .pdf file.
func isPDF(raw string) bool {
	if u, err := url.Parse(raw); err == nil && u.Path != "" {
		return strings.HasSuffix(strings.ToLower(u.Path), ".pdf")
	}
	return strings.HasSuffix(strings.ToLower(raw), ".pdf")
}

// fileStem returns the last path segment of a URL without its .pdf suffix.
func fileStem(raw string) string {
	name := raw
	if u, err := url.Parse(raw); err == nil {
		name = path.Base(u.Path)
		if unescaped, err := url.PathUnescape(name); err == nil {
			name = unescaped
		}
	}
	if idx := strings.LastIndex(strings.ToLower(name), ".pdf"); idx >= 0 && idx == len(name)-4 {
		name = name[:idx]
	}
	return name
}

// pdfContent is what every strategy returns for a PDF link: extraction
// waits until the file is on disk.
func pdfContent(fileURL, title string) domain.FetchedContent {
	return domain.FetchedContent{URL: fileURL, Title: title, Type: domain.ContentPDF}
}

// visibleText joins trimmed text nodes with newlines, skipping stripped tags.
func visibleText(sel *goquery.Selection) string {
	var lines []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			if t := strings.TrimSpace(n.Data); t != "" {
				lines = append(lines, t)
			}
			return
		case html.ElementNode:
			switch n.Data {
			case "script", "style", "nav", "header", "footer", "noscript":
				return
			}
		case html.DocumentNode:
		default:
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	return strings.Join(lines, "\n")
}

func cleanText(sel *goquery.Selection) string {
	return strings.Join(strings.Fields(sel.Text()), " ")
}

// pageTitle prefers <title>, then the first <h1>, then fallback.
func pageTitle(doc *goquery.Document, fallback string) string {
	if t := cleanText(doc.Find("title").First()); t != "" {
		return t
	}
	if t := cleanText(doc.Find("h1").First()); t != "" {
		return t
	}
	return fallback
}

// mainContent returns the first selector match, then a readability
// distillation of the raw page, then <body>.
func mainContent(doc *goquery.Document, raw []byte, pageURL string, selectors []string) *goquery.Selection {
	for _, selector := range selectors {
		if sel := doc.Find(selector).First(); sel.Length() > 0 {
			return sel
		}
	}
	if sel := distill(raw, pageURL); sel != nil {
		return sel
	}
	return doc.Find("body").First()
}

func distill(raw []byte, pageURL string) *goquery.Selection {
	if len(raw) == 0 {
		return nil
	}
	parsedURL, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}
	rp := readability.NewParser()
	article, err := rp.Parse(bytes.NewReader(raw), parsedURL)
	if err != nil || strings.TrimSpace(article.Content) == "" {
		return nil
	}
	clean, err := goquery.NewDocumentFromReader(strings.NewReader(article.Content))
	if err != nil {
		return nil
	}
	body := clean.Find("body").First()
	if body.Length() == 0 || strings.TrimSpace(body.Text()) == "" {
		return nil
	}
	return body
}

// htmlContent builds the FetchedContent for a notice or content page.
func htmlContent(doc *goquery.Document, raw []byte, pageURL string, selectors []string, fallbackTitle string) domain.FetchedContent {
	title := pageTitle(doc, fallbackTitle)

	content := mainContent(doc, raw, pageURL, selectors)
	content.Find(strippedTags).Remove()

	ref, err := url.Parse(pageURL)
	if err != nil {
		ref = &url.URL{}
	}
	return domain.FetchedContent{
		URL:      pageURL,
		Title:    title,
		Text:     visibleText(content),
		Type:     domain.ContentHTML,
		PDFLinks: pdfLinks(content, ref),
	}
}

func pdfLinks(sel *goquery.Selection, ref *url.URL) []string {
	seen := map[string]struct{}{}
	var links []string
	sel.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if !isPDF(href) {
			return
		}
		abs, ok := resolve(ref, href)
		if !ok {
			return
		}
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		links = append(links, abs)
	})
	return links
}

// linkSet collects discovered links, keeping the first occurrence of a URL.
type linkSet struct {
	seen  map[string]struct{}
	links []domain.RawLink
}

func (s *linkSet) add(link domain.RawLink) {
	if s.seen == nil {
		s.seen = map[string]struct{}{}
	}
	if _, ok := s.seen[link.URL]; ok {
		return
	}
	s.seen[link.URL] = struct{}{}
	s.links = append(s.links, link)
}
