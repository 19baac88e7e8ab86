package parser

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/PuerkitoBio/goquery"

	"BdLens/internal/domain"
)

const (
	defaultUserAgent = "BdLens/1.0"
	maxPageBytes     = 10 << 20
)

// PageClient is the HTTP fetch collaborator shared by all strategies.
// Redirects are followed by the underlying http.Client.
type PageClient struct {
	client    *http.Client
	userAgent string
}

// NewPageClient wires an HTTP client; a nil client gets a 30s timeout.
func NewPageClient(client *http.Client, userAgent string) *PageClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &PageClient{client: client, userAgent: userAgent}
}

// Fetch returns the body of pageURL. Failures are *domain.FetchError.
func (c *PageClient) Fetch(ctx context.Context, pageURL string) ([]byte, error) {
	resp, err := c.get(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, &domain.FetchError{URL: pageURL, Err: fmt.Errorf("read body: %w", err)}
	}
	return body, nil
}

// Document fetches and parses pageURL, returning the raw bytes as well.
func (c *PageClient) Document(ctx context.Context, pageURL string) (*goquery.Document, []byte, error) {
	body, err := c.Fetch(ctx, pageURL)
	if err != nil {
		return nil, nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, nil, &domain.FetchError{URL: pageURL, Err: fmt.Errorf("parse document: %w", err)}
	}
	return doc, body, nil
}

// Download streams fileURL into dst, removing dst if anything fails.
func (c *PageClient) Download(ctx context.Context, fileURL, dst string) error {
	resp, err := c.get(ctx, fileURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		_ = os.Remove(dst)
		return &domain.FetchError{URL: fileURL, Err: fmt.Errorf("copy body: %w", err)}
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(dst)
		return fmt.Errorf("close %s: %w", dst, err)
	}
	return nil
}

func (c *PageClient) get(ctx context.Context, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &domain.FetchError{URL: target, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &domain.FetchError{URL: target, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, &domain.FetchError{URL: target, Status: resp.StatusCode}
	}
	return resp, nil
}
