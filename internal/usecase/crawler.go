package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"BdLens/internal/domain"
	"BdLens/internal/ports"
)

const attachmentSuffix = " - Attachment"

// FetcherBuilder resolves the fetching strategy of a source.
type FetcherBuilder interface {
	Build(src domain.Source) (ports.SourceFetcher, error)
}

// Ingester is the part of Processor the crawler drives.
type Ingester interface {
	IngestText(ctx context.Context, in TextInput) (domain.Document, error)
	IngestPDF(ctx context.Context, in PDFInput) (domain.Document, error)
}

// CrawlerConfig bounds one crawl run.
type CrawlerConfig struct {
	MaxLinks  int
	Workers   int
	UploadDir string
}

// CrawlerDeps groups the crawler collaborators. Notifier may be nil.
type CrawlerDeps struct {
	Sources   ports.SourceStore
	Jobs      ports.CrawlJobStore
	Documents ports.DocumentStore
	Fetchers  FetcherBuilder
	Ingester  Ingester
	Notifier  ports.Notifier
}

// Crawler runs crawl jobs: discovery, dedup and ingestion of a source's
// links, tracked through a CrawlJob record.
type Crawler struct {
	sources   ports.SourceStore
	jobs      ports.CrawlJobStore
	documents ports.DocumentStore
	fetchers  FetcherBuilder
	ingester  Ingester
	notifier  ports.Notifier
	cfg       CrawlerConfig
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	cancels  map[int64]context.CancelFunc
	inFlight map[int64]bool
	wg       sync.WaitGroup
}

func NewCrawler(deps CrawlerDeps, cfg CrawlerConfig, logger *slog.Logger) *Crawler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxLinks <= 0 {
		cfg.MaxLinks = 10
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Crawler{
		sources:   deps.Sources,
		jobs:      deps.Jobs,
		documents: deps.Documents,
		fetchers:  deps.Fetchers,
		ingester:  deps.Ingester,
		notifier:  deps.Notifier,
		cfg:       cfg,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		cancels:   make(map[int64]context.CancelFunc),
		inFlight:  make(map[int64]bool),
	}
}

// Trigger queues a crawl of the source and returns its pending job at
// once. The crawl keeps running after ctx ends; stop it with Cancel.
func (c *Crawler) Trigger(ctx context.Context, sourceID int64) (domain.CrawlJob, error) {
	src, job, err := c.prepare(ctx, sourceID)
	if err != nil {
		return domain.CrawlJob{}, err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.track(job.ID, cancel)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.release(src.ID, job.ID)
		c.run(runCtx, src, job)
	}()
	return job, nil
}

// Crawl runs a crawl of the source to completion and returns the final
// job. Cancelling ctx, or calling Cancel with the job id, fails the job.
func (c *Crawler) Crawl(ctx context.Context, sourceID int64) (domain.CrawlJob, error) {
	src, job, err := c.prepare(ctx, sourceID)
	if err != nil {
		return domain.CrawlJob{}, err
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.track(job.ID, cancel)
	defer c.release(src.ID, job.ID)
	return c.run(runCtx, src, job), nil
}

// Cancel stops a running job. It reports whether the job was running here.
func (c *Crawler) Cancel(jobID int64) bool {
	c.mu.Lock()
	cancel, ok := c.cancels[jobID]
	c.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Wait blocks until every triggered crawl has finished.
func (c *Crawler) Wait() {
	c.wg.Wait()
}

// CrawlEnabled crawls every enabled source one after another. A source that
// cannot start is logged and skipped.
func (c *Crawler) CrawlEnabled(ctx context.Context) ([]domain.CrawlJob, error) {
	sources, err := c.sources.ListSources(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list enabled sources: %w", err)
	}
	var jobs []domain.CrawlJob
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return jobs, err
		}
		job, err := c.Crawl(ctx, src.ID)
		if err != nil {
			c.logger.Warn("crawl not started", "source_id", src.ID, "error", err)
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// prepare validates the source and records a pending job for it.
func (c *Crawler) prepare(ctx context.Context, sourceID int64) (domain.Source, domain.CrawlJob, error) {
	src, err := c.sources.GetSource(ctx, sourceID)
	if err != nil {
		return domain.Source{}, domain.CrawlJob{}, err
	}
	if !src.Enabled {
		return domain.Source{}, domain.CrawlJob{}, fmt.Errorf("source %d: %w", sourceID, domain.ErrSourceDisabled)
	}

	c.mu.Lock()
	if c.inFlight[sourceID] {
		c.mu.Unlock()
		return domain.Source{}, domain.CrawlJob{}, fmt.Errorf("source %d: %w", sourceID, domain.ErrCrawlRunning)
	}
	c.inFlight[sourceID] = true
	c.mu.Unlock()

	job := domain.CrawlJob{SourceID: sourceID, Status: domain.CrawlPending}
	if err := c.jobs.CreateCrawlJob(ctx, &job); err != nil {
		c.mu.Lock()
		delete(c.inFlight, sourceID)
		c.mu.Unlock()
		return domain.Source{}, domain.CrawlJob{}, err
	}
	return src, job, nil
}

func (c *Crawler) track(jobID int64, cancel context.CancelFunc) {
	c.mu.Lock()
	c.cancels[jobID] = cancel
	c.mu.Unlock()
}

func (c *Crawler) release(sourceID, jobID int64) {
	c.mu.Lock()
	cancel := c.cancels[jobID]
	delete(c.cancels, jobID)
	delete(c.inFlight, sourceID)
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// run moves the job through running to a terminal status. Terminal writes
// use a context that survives cancellation so the job never stays running.
func (c *Crawler) run(ctx context.Context, src domain.Source, job domain.CrawlJob) domain.CrawlJob {
	log := c.logger.With("source_id", src.ID, "job_id", job.ID)
	persist := context.WithoutCancel(ctx)

	started := c.now()
	job.Status = domain.CrawlRunning
	job.StartedAt = &started
	if err := c.jobs.UpdateCrawlJob(persist, job); err != nil {
		log.Error("mark job running", "error", err)
	}
	log.Info("crawl started", "source", src.Name, "scraper", src.ScraperType)

	digest, err := c.crawlSource(ctx, src, log)
	job.DocumentsCreated = len(digest)

	finished := c.now()
	job.FinishedAt = &finished
	if err != nil {
		job.Status = domain.CrawlFailed
		job.ErrorMessage = err.Error()
		log.Warn("crawl failed", "documents_created", job.DocumentsCreated, "error", err)
	} else {
		job.Status = domain.CrawlSuccess
		log.Info("crawl finished", "documents_created", job.DocumentsCreated,
			"elapsed", finished.Sub(started).Round(time.Millisecond))
	}
	if err := c.jobs.UpdateCrawlJob(persist, job); err != nil {
		log.Error("record crawl outcome", "error", err)
	}
	if job.Status == domain.CrawlSuccess {
		if err := c.sources.MarkSourceCrawled(persist, src.ID, finished); err != nil {
			log.Error("mark source crawled", "error", err)
		}
	}

	c.notify(persist, src, job, digest, log)
	return job
}

// crawlSource ingests up to MaxLinks discovered links. Per-link failures
// are logged and skipped; only a strategy that cannot be built or a
// cancelled context fail the run.
func (c *Crawler) crawlSource(ctx context.Context, src domain.Source, log *slog.Logger) ([]domain.Document, error) {
	fetcher, err := c.fetchers.Build(src)
	if err != nil {
		return nil, err
	}

	links, err := fetcher.DiscoverLinks(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("crawl cancelled: %w", ctxErr)
		}
		log.Warn("link discovery failed", "error", err)
		return nil, nil
	}
	if len(links) > c.cfg.MaxLinks {
		log.Debug("discovered links capped", "discovered", len(links), "cap", c.cfg.MaxLinks)
		links = links[:c.cfg.MaxLinks]
	}

	r := &crawlRun{crawler: c, fetcher: fetcher, src: src, log: log, claimed: make(map[string]bool)}
	var g errgroup.Group
	g.SetLimit(c.cfg.Workers)
	for _, link := range links {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			r.ingestLink(ctx, link)
			return nil
		})
	}
	_ = g.Wait()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return r.created, fmt.Errorf("crawl cancelled: %w", ctxErr)
	}
	return r.created, nil
}

// crawlRun is the per-run state shared by the link workers.
type crawlRun struct {
	crawler *Crawler
	fetcher ports.SourceFetcher
	src     domain.Source
	log     *slog.Logger

	mu      sync.Mutex
	claimed map[string]bool
	created []domain.Document
}

// claim reserves a normalized url for this run and reports whether it was
// still free.
func (r *crawlRun) claim(normalized string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.claimed[normalized] {
		return false
	}
	r.claimed[normalized] = true
	return true
}

func (r *crawlRun) record(doc domain.Document) {
	r.mu.Lock()
	r.created = append(r.created, doc)
	r.mu.Unlock()
}

// fresh normalizes a url and reports whether it still needs ingesting.
func (r *crawlRun) fresh(ctx context.Context, raw string) (string, bool) {
	log := r.log.With("url", raw)
	normalized, err := NormalizeURL(raw)
	if err != nil {
		log.Warn("skip link", "error", err)
		return "", false
	}
	if !r.claim(normalized) {
		return "", false
	}
	exists, err := r.crawler.documents.DocumentExists(ctx, normalized)
	if err != nil {
		log.Warn("dedup check failed", "error", err)
		return "", false
	}
	if exists {
		log.Debug("already ingested")
		return "", false
	}
	return normalized, true
}

func (r *crawlRun) ingestLink(ctx context.Context, link domain.RawLink) {
	normalized, ok := r.fresh(ctx, link.URL)
	if !ok {
		return
	}
	log := r.log.With("url", normalized)

	content, err := r.fetcher.FetchContent(ctx, link.URL)
	if err != nil {
		log.Warn("fetch failed", "error", err)
		return
	}
	title := strings.TrimSpace(content.Title)
	if title == "" {
		title = link.Title
	}

	if content.Type == domain.ContentPDF {
		r.ingestRemotePDF(ctx, link.URL, normalized, title, link.PublishedAt)
		return
	}

	if strings.TrimSpace(content.Text) == "" {
		log.Debug("page has no text")
		return
	}
	doc, err := r.crawler.ingester.IngestText(ctx, TextInput{
		Title:       title,
		Content:     content.Text,
		Type:        domain.ContentHTML,
		URL:         normalized,
		SourceID:    &r.src.ID,
		PublishedAt: link.PublishedAt,
	})
	if !r.handle(doc, err, log) {
		return
	}

	for _, pdfURL := range content.PDFLinks {
		if ctx.Err() != nil {
			return
		}
		attachment, ok := r.fresh(ctx, pdfURL)
		if !ok {
			continue
		}
		r.ingestRemotePDF(ctx, pdfURL, attachment, title+attachmentSuffix, nil)
	}
}

// ingestRemotePDF downloads a PDF under a random name in the upload
// directory and ingests it. The file is removed if ingestion fails.
func (r *crawlRun) ingestRemotePDF(ctx context.Context, rawURL, normalized, title string, publishedAt *time.Time) {
	log := r.log.With("url", normalized)
	dir := r.crawler.cfg.UploadDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Error("create upload dir", "dir", dir, "error", err)
		return
	}
	path := filepath.Join(dir, uuid.NewString()+".pdf")
	if err := r.fetcher.Download(ctx, rawURL, path); err != nil {
		log.Warn("pdf download failed", "error", err)
		return
	}

	doc, err := r.crawler.ingester.IngestPDF(ctx, PDFInput{
		Path:        path,
		Title:       title,
		URL:         normalized,
		SourceID:    &r.src.ID,
		PublishedAt: publishedAt,
	})
	if !r.handle(doc, err, log) {
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			log.Warn("remove pdf", "path", path, "error", rmErr)
		}
	}
}

// handle records a created document or logs why ingestion did not happen.
func (r *crawlRun) handle(doc domain.Document, err error, log *slog.Logger) bool {
	switch {
	case err == nil:
		r.record(doc)
		return true
	case errors.Is(err, domain.ErrDuplicateURL):
		log.Debug("already ingested by another run")
	default:
		log.Warn("ingest failed", "error", err)
	}
	return false
}

func (c *Crawler) notify(ctx context.Context, src domain.Source, job domain.CrawlJob, created []domain.Document, log *slog.Logger) {
	if c.notifier == nil {
		return
	}
	if job.Status == domain.CrawlSuccess && len(created) == 0 {
		return
	}
	if err := c.notifier.PublishDigest(ctx, buildDigestMessage(src, job, created)); err != nil {
		log.Warn("publish crawl digest", "error", err)
	}
}

func buildDigestMessage(src domain.Source, job domain.CrawlJob, created []domain.Document) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s crawl #%d: %s, %d new document(s)\n", src.Name, job.ID, job.Status, len(created))
	if job.ErrorMessage != "" {
		fmt.Fprintf(&b, "Error: %s\n", job.ErrorMessage)
	}
	for _, doc := range created {
		fmt.Fprintf(&b, "\n- %s\n", doc.Title)
		if doc.Summary != "" {
			fmt.Fprintf(&b, "%s\n", doc.Summary)
		}
		if doc.URL != "" {
			fmt.Fprintf(&b, "%s\n", doc.URL)
		}
	}
	return b.String()
}
