package parser

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"BdLens/internal/domain"
	"BdLens/internal/scanner"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func serveHTML(t *testing.T, pages map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := pages[r.URL.RequestURI()]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func linkURLs(links []domain.RawLink) []string {
	out := make([]string, 0, len(links))
	for _, l := range links {
		out = append(out, l.URL)
	}
	return out
}

func TestSimpleScannerDiscoverLinks(t *testing.T) {
	t.Parallel()

	srv := serveHTML(t, map[string]string{
		"/": `<html><body>
			<a href="/files/report.pdf">Annual Report</a>
			<a href="/files/report.pdf">Annual Report again</a>
			<a href="/notices/2024/flood">Flood relief</a>
			<a href="/about">About</a>
			<a href="https://other.example.com/x/y">External</a>
			<a href="#top">Top</a>
			<a href="mailto:info@example.com">Mail</a>
		</body></html>`,
	})

	s, err := NewSimpleScanner(NewPageClient(srv.Client(), ""), domain.Source{BaseURL: srv.URL + "/"}, quietLogger())
	if err != nil {
		t.Fatalf("new scanner: %v", err)
	}

	links, err := s.DiscoverLinks(context.Background())
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(links) != 2 {
		t.Fatalf("expected 2 links, got %v", linkURLs(links))
	}
	if links[0].URL != srv.URL+"/files/report.pdf" || links[0].Type != domain.ContentPDF || links[0].Title != "Annual Report" {
		t.Fatalf("unexpected pdf link: %+v", links[0])
	}
	if links[1].URL != srv.URL+"/notices/2024/flood" || links[1].Type != domain.ContentHTML {
		t.Fatalf("unexpected html link: %+v", links[1])
	}
}

func TestSimpleScannerPattern(t *testing.T) {
	t.Parallel()

	srv := serveHTML(t, map[string]string{
		"/": `<html><body>
			<a href="/circulars/one">Circular one</a>
			<a href="/news/2024/two">News two</a>
			<a href="/files/a.PDF">Scan</a>
		</body></html>`,
	})

	src := domain.Source{BaseURL: srv.URL, URLPattern: `/circulars/`}
	s, err := NewSimpleScanner(NewPageClient(srv.Client(), ""), src, quietLogger())
	if err != nil {
		t.Fatalf("new scanner: %v", err)
	}

	links, err := s.DiscoverLinks(context.Background())
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	got := linkURLs(links)
	want := []string{srv.URL + "/circulars/one", srv.URL + "/files/a.PDF"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestSimpleScannerInvalidPattern(t *testing.T) {
	t.Parallel()

	_, err := NewSimpleScanner(nil, domain.Source{BaseURL: "https://example.gov.bd", URLPattern: "("}, quietLogger())
	if err == nil {
		t.Fatal("expected pattern error")
	}
}

func TestFetchContentHTML(t *testing.T) {
	t.Parallel()

	srv := serveHTML(t, map[string]string{
		"/notice/1": `<html><head><title>Notice Page</title></head><body>
			<header>Site header</header>
			<nav>Menu</nav>
			<main>
				<h1>Heading</h1>
				<p>First paragraph</p>
				<script>track()</script>
				<a href="/files/a.pdf">Attachment</a>
				<a href="/files/a.pdf">Same attachment</a>
			</main>
			<footer>Footer</footer>
		</body></html>`,
	})

	s, err := NewSimpleScanner(NewPageClient(srv.Client(), ""), domain.Source{BaseURL: srv.URL}, quietLogger())
	if err != nil {
		t.Fatalf("new scanner: %v", err)
	}

	content, err := s.FetchContent(context.Background(), srv.URL+"/notice/1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if content.Title != "Notice Page" {
		t.Fatalf("unexpected title: %q", content.Title)
	}
	if content.Type != domain.ContentHTML {
		t.Fatalf("unexpected type: %s", content.Type)
	}
	want := "Heading\nFirst paragraph\nAttachment\nSame attachment"
	if content.Text != want {
		t.Fatalf("unexpected text: %q", content.Text)
	}
	if len(content.PDFLinks) != 1 || content.PDFLinks[0] != srv.URL+"/files/a.pdf" {
		t.Fatalf("unexpected pdf links: %v", content.PDFLinks)
	}
}

func TestFetchContentReadabilityFallback(t *testing.T) {
	t.Parallel()

	paragraph := "The city corporation announces that the Gulshan road will be closed for drainage repair, " +
		"and residents are asked to use the alternative route through Banani, Mohakhali and Tejgaon while the work continues. "
	srv := serveHTML(t, map[string]string{
		"/story": `<html><head><title>Road Closure</title></head><body>
			<nav><a href="/">Home</a> <a href="/about">About the ministry</a></nav>
			<div class="story-wrap"><div class="story-body">
				<p>` + strings.Repeat(paragraph, 4) + `</p>
				<p>` + strings.Repeat(paragraph, 3) + `Full order: <a href="/files/closure.pdf">closure order</a>.</p>
				<p>` + strings.Repeat(paragraph, 3) + `</p>
			</div></div>
			<footer>Copyright Dhaka North City Corporation</footer>
		</body></html>`,
	})

	reg := RegisterStrategies(scanner.NewRegistry(), NewPageClient(srv.Client(), ""), StrategyOptions{}, quietLogger())
	for _, kind := range []domain.ScraperType{domain.ScraperSimple, domain.ScraperDNCC} {
		s, err := reg.Build(domain.Source{BaseURL: srv.URL, ScraperType: kind})
		if err != nil {
			t.Fatalf("build %s: %v", kind, err)
		}

		content, err := s.FetchContent(context.Background(), srv.URL+"/story")
		if err != nil {
			t.Fatalf("%s fetch: %v", kind, err)
		}
		if content.Title != "Road Closure" {
			t.Fatalf("unexpected title: %q", content.Title)
		}
		if !strings.Contains(content.Text, "Gulshan road will be closed") {
			t.Fatalf("body text missing: %q", content.Text)
		}
		for _, chrome := range []string{"About the ministry", "Copyright"} {
			if strings.Contains(content.Text, chrome) {
				t.Fatalf("page chrome %q leaked into text", chrome)
			}
		}
		if len(content.PDFLinks) != 1 || content.PDFLinks[0] != srv.URL+"/files/closure.pdf" {
			t.Fatalf("unexpected pdf links: %v", content.PDFLinks)
		}
	}
}

func TestFetchContentTitleFallback(t *testing.T) {
	t.Parallel()

	srv := serveHTML(t, map[string]string{
		"/h1":   `<html><body><article><h1>Only heading</h1><p>Body</p></article></body></html>`,
		"/none": `<html><body><article><p>Body</p></article></body></html>`,
	})

	s, err := NewDNCCScanner(NewPageClient(srv.Client(), ""), domain.Source{BaseURL: srv.URL}, quietLogger())
	if err != nil {
		t.Fatalf("new scanner: %v", err)
	}

	content, err := s.FetchContent(context.Background(), srv.URL+"/h1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if content.Title != "Only heading" {
		t.Fatalf("unexpected title: %q", content.Title)
	}

	content, err = s.FetchContent(context.Background(), srv.URL+"/none")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if content.Title != "Untitled Notice" {
		t.Fatalf("unexpected title: %q", content.Title)
	}
}

func TestFetchContentFailureIsTyped(t *testing.T) {
	t.Parallel()

	srv := serveHTML(t, map[string]string{})
	s, err := NewSimpleScanner(NewPageClient(srv.Client(), ""), domain.Source{BaseURL: srv.URL}, quietLogger())
	if err != nil {
		t.Fatalf("new scanner: %v", err)
	}

	_, err = s.FetchContent(context.Background(), srv.URL+"/missing")
	if !errors.Is(err, domain.ErrFetchFailed) {
		t.Fatalf("expected fetch failure, got %v", err)
	}
	var fe *domain.FetchError
	if !errors.As(err, &fe) || fe.Status != http.StatusNotFound {
		t.Fatalf("expected 404 fetch error, got %v", err)
	}

	links, err := s.DiscoverLinks(context.Background())
	if !errors.Is(err, domain.ErrFetchFailed) || len(links) != 0 {
		t.Fatalf("expected typed discovery failure, got %v %v", links, err)
	}
}

func TestFetchContentPDFIsDeferred(t *testing.T) {
	t.Parallel()

	s, err := NewSimpleScanner(nil, domain.Source{BaseURL: "https://example.gov.bd"}, quietLogger())
	if err != nil {
		t.Fatalf("new scanner: %v", err)
	}
	content, err := s.FetchContent(context.Background(), "https://example.gov.bd/files/Budget%20Plan.pdf")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if content.Type != domain.ContentPDF || content.Text != "" || content.Title != "Budget Plan" {
		t.Fatalf("unexpected content: %+v", content)
	}
}

func TestDNCCScannerCards(t *testing.T) {
	t.Parallel()

	srv := serveHTML(t, map[string]string{
		"/notices": `<html><body>
			<div class="notice-card">
				<h3>Water Supply Notice</h3>
				<a href="/notice/12">Read more</a>
				<a href="/files/water.pdf">Download</a>
			</div>
			<div class="notice-card">
				<a href="/files/tax.pdf"></a>
			</div>
			<div class="notice-card"><span>No link</span></div>
			<article><a href="/ignored/by/order">Ignored</a></article>
		</body></html>`,
	})

	s, err := NewDNCCScanner(NewPageClient(srv.Client(), ""), domain.Source{BaseURL: srv.URL + "/notices"}, quietLogger())
	if err != nil {
		t.Fatalf("new scanner: %v", err)
	}

	links, err := s.DiscoverLinks(context.Background())
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(links) != 3 {
		t.Fatalf("expected 3 links, got %v", linkURLs(links))
	}

	expect := []domain.RawLink{
		{URL: srv.URL + "/notice/12", Title: "Water Supply Notice", Type: domain.ContentHTML},
		{URL: srv.URL + "/files/water.pdf", Title: "Download", Type: domain.ContentPDF},
		{URL: srv.URL + "/files/tax.pdf", Title: "Untitled Notice", Type: domain.ContentPDF},
	}
	for i, want := range expect {
		if links[i] != want {
			t.Fatalf("link %d: expected %+v, got %+v", i, want, links[i])
		}
	}
}

func TestDNCCScannerContentAreaFallback(t *testing.T) {
	t.Parallel()

	srv := serveHTML(t, map[string]string{
		"/": `<html><body>
			<div class="content">
				<a href="/notice/5">Notice five</a>
				<a href="/docs/x.pdf">X</a>
				<a href="/about/us">About</a>
				<a href="#">Anchor</a>
			</div>
		</body></html>`,
	})

	s, err := NewDNCCScanner(NewPageClient(srv.Client(), ""), domain.Source{BaseURL: srv.URL}, quietLogger())
	if err != nil {
		t.Fatalf("new scanner: %v", err)
	}

	links, err := s.DiscoverLinks(context.Background())
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	got := linkURLs(links)
	want := []string{srv.URL + "/notice/5", srv.URL + "/docs/x.pdf"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestMOPAScannerDiscoverLinks(t *testing.T) {
	t.Parallel()

	listing := func(rows string) string {
		return `<html><body><table>
			<tr><th>SL</th><th>Title</th><th>Date</th><th>Download</th></tr>` + rows + `
		</table>
		<div class="pagination"><a href="/?page=2">2</a><a href="/?page=2">Next</a><a href="/">1</a></div>
		</body></html>`
	}

	srv := serveHTML(t, map[string]string{
		"/": listing(`
			<tr><td>1</td><td>Office order on transfer</td><td>15-01-2024</td><td><a href="/files/office_order-2024.pdf">Download</a></td></tr>
			<tr><td>2</td><td>Short</td><td>2024-02-01</td><td><a href="/files/short.pdf">pdf</a></td></tr>
			<tr><td>3</td><td>Gazette notification</td><td><a href="/download?id=7">Download</a></td></tr>
			<tr><td>Lonely cell</td></tr>`),
		"/?page=2": listing(`
			<tr><td>4</td><td>Circular about leave</td><td>2024/03/09</td><td><a href="/files/leave.pdf">Download</a></td></tr>`),
	})

	s, err := NewMOPAScanner(NewPageClient(srv.Client(), ""), domain.Source{BaseURL: srv.URL + "/"}, 5, quietLogger())
	if err != nil {
		t.Fatalf("new scanner: %v", err)
	}

	links, err := s.DiscoverLinks(context.Background())
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(links) != 3 {
		t.Fatalf("expected 3 links, got %v", linkURLs(links))
	}

	first := links[0]
	if first.URL != srv.URL+"/files/office_order-2024.pdf" || first.Title != "Office order on transfer" || first.Type != domain.ContentPDF {
		t.Fatalf("unexpected first link: %+v", first)
	}
	if first.PublishedAt == nil || !first.PublishedAt.Equal(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected date: %v", first.PublishedAt)
	}
	if links[1].URL != srv.URL+"/download?id=7" || links[1].Title != "Gazette notification" || links[1].PublishedAt != nil {
		t.Fatalf("unexpected download link: %+v", links[1])
	}
	if links[2].URL != srv.URL+"/files/leave.pdf" || links[2].PublishedAt == nil || links[2].PublishedAt.Month() != time.March {
		t.Fatalf("unexpected second page link: %+v", links[2])
	}
}

func TestMOPAScannerPageCap(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, `<html><body><table><tr><th>Title</th><th>File</th></tr></table>
			<div class="pager"><a href="/?page=2">2</a><a href="/?page=3">3</a></div></body></html>`)
	}))
	t.Cleanup(srv.Close)

	s, err := NewMOPAScanner(NewPageClient(srv.Client(), ""), domain.Source{BaseURL: srv.URL + "/"}, 2, quietLogger())
	if err != nil {
		t.Fatalf("new scanner: %v", err)
	}
	if _, err := s.DiscoverLinks(context.Background()); err != nil {
		t.Fatalf("discover: %v", err)
	}
	if n := hits.Load(); n != 2 {
		t.Fatalf("expected 2 page fetches, got %d", n)
	}
}

func TestMOPAScannerFirstPageFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	s, err := NewMOPAScanner(NewPageClient(srv.Client(), ""), domain.Source{BaseURL: srv.URL}, 0, quietLogger())
	if err != nil {
		t.Fatalf("new scanner: %v", err)
	}
	links, err := s.DiscoverLinks(context.Background())
	if !errors.Is(err, domain.ErrFetchFailed) {
		t.Fatalf("expected fetch failure, got %v", err)
	}
	if len(links) != 0 {
		t.Fatalf("expected no links, got %v", links)
	}
}

func TestMOPAFetchContentTitle(t *testing.T) {
	t.Parallel()

	s, err := NewMOPAScanner(nil, domain.Source{BaseURL: "https://mopa.gov.bd"}, 0, quietLogger())
	if err != nil {
		t.Fatalf("new scanner: %v", err)
	}
	content, err := s.FetchContent(context.Background(), "https://mopa.gov.bd/files/office_order-2024_01.pdf")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if content.Title != "office order 2024 01" || content.Type != domain.ContentPDF {
		t.Fatalf("unexpected content: %+v", content)
	}
}

func TestParseListingDate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"15-01-2024", "2024-01-15"},
		{"5/3/24", "2024-03-05"},
		{"Published 2023-12-31", "2023-12-31"},
		{"31-02-2024", ""},
		{"no date", ""},
	}
	for _, tc := range cases {
		got := parseListingDate(tc.in)
		switch {
		case tc.want == "" && got != nil:
			t.Fatalf("%q: expected nil, got %v", tc.in, got)
		case tc.want != "" && (got == nil || got.Format("2006-01-02") != tc.want):
			t.Fatalf("%q: expected %s, got %v", tc.in, tc.want, got)
		}
	}
}

func TestIsSerial(t *testing.T) {
	t.Parallel()

	if !isSerial("12") || !isSerial("১২") {
		t.Fatal("expected digits to be serial numbers")
	}
	if isSerial("") || isSerial("12a") {
		t.Fatal("unexpected serial")
	}
}

func TestDownloadRemovesPartialFile(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ok.pdf" {
			_, _ = io.WriteString(w, "%PDF-1.4 body")
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	client := NewPageClient(srv.Client(), "")
	dir := t.TempDir()

	dst := filepath.Join(dir, "ok.pdf")
	if err := client.Download(context.Background(), srv.URL+"/ok.pdf", dst); err != nil {
		t.Fatalf("download: %v", err)
	}
	data, err := os.ReadFile(dst)
	if err != nil || string(data) != "%PDF-1.4 body" {
		t.Fatalf("unexpected file: %q %v", data, err)
	}

	bad := filepath.Join(dir, "bad.pdf")
	if err := client.Download(context.Background(), srv.URL+"/bad.pdf", bad); !errors.Is(err, domain.ErrFetchFailed) {
		t.Fatalf("expected fetch failure, got %v", err)
	}
	if _, err := os.Stat(bad); !os.IsNotExist(err) {
		t.Fatalf("expected no file, got %v", err)
	}
}

func TestRegisterStrategies(t *testing.T) {
	t.Parallel()

	reg := RegisterStrategies(scanner.NewRegistry(), NewPageClient(nil, ""), StrategyOptions{}, quietLogger())
	for _, kind := range []domain.ScraperType{domain.ScraperSimple, domain.ScraperDNCC, domain.ScraperMOPA} {
		f, err := reg.Build(domain.Source{ID: 1, BaseURL: "https://example.gov.bd", ScraperType: kind})
		if err != nil {
			t.Fatalf("%s: %v", kind, err)
		}
		if f == nil {
			t.Fatalf("%s: nil fetcher", kind)
		}
	}

	if _, err := reg.Build(domain.Source{BaseURL: "://bad", ScraperType: domain.ScraperDNCC}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}
