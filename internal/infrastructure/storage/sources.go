package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"BdLens/internal/domain"
)

const defaultJobListLimit = 20

var (
	sourceColumns = []string{"id", "name", "base_url", "url_pattern", "scraper_type", "enabled", "last_crawled_at", "created_at"}
	jobColumns    = []string{"id", "source_id", "status", "started_at", "finished_at", "error_message", "documents_created", "created_at"}
)

// CreateSource stores src and fills its ID and CreatedAt.
func (s *SQLStore) CreateSource(ctx context.Context, src *domain.Source) error {
	if src.CreatedAt.IsZero() {
		src.CreatedAt = s.now()
	}
	if src.ScraperType == "" {
		src.ScraperType = domain.ScraperSimple
	}

	row, err := queryRow(ctx, s.db, s.sb.Insert("sources").
		Columns(sourceColumns[1:]...).
		Values(src.Name, src.BaseURL, nullString(src.URLPattern), string(src.ScraperType), src.Enabled,
			nullTime(src.LastCrawledAt), src.CreatedAt.UTC()).
		Suffix("RETURNING id"))
	if err != nil {
		return err
	}
	if err := row.Scan(&src.ID); err != nil {
		return fmt.Errorf("insert source: %w", err)
	}
	return nil
}

func (s *SQLStore) GetSource(ctx context.Context, id int64) (domain.Source, error) {
	row, err := queryRow(ctx, s.db, s.sb.Select(sourceColumns...).From("sources").Where(sq.Eq{"id": id}))
	if err != nil {
		return domain.Source{}, err
	}
	src, err := scanSource(row)
	if isNoRows(err) {
		return domain.Source{}, fmt.Errorf("source %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Source{}, fmt.Errorf("scan source: %w", err)
	}
	return src, nil
}

// ListSources returns sources by id, optionally only the enabled ones.
func (s *SQLStore) ListSources(ctx context.Context, enabledOnly bool) ([]domain.Source, error) {
	q := s.sb.Select(sourceColumns...).From("sources").OrderBy("id")
	if enabledOnly {
		q = q.Where(sq.Eq{"enabled": true})
	}
	rows, err := queryRows(ctx, s.db, q)
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}

	var out []domain.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, closeRows(rows, fmt.Errorf("scan source: %w", err))
		}
		out = append(out, src)
	}
	return out, closeRows(rows, nil)
}

func (s *SQLStore) SetSourceEnabled(ctx context.Context, id int64, enabled bool) error {
	res, err := execSQL(ctx, s.db, s.sb.Update("sources").Set("enabled", enabled).Where(sq.Eq{"id": id}))
	if err != nil {
		return fmt.Errorf("update source: %w", err)
	}
	return expectAffected(res, fmt.Errorf("source %d: %w", id, domain.ErrNotFound))
}

func (s *SQLStore) MarkSourceCrawled(ctx context.Context, id int64, at time.Time) error {
	res, err := execSQL(ctx, s.db, s.sb.Update("sources").Set("last_crawled_at", at.UTC()).Where(sq.Eq{"id": id}))
	if err != nil {
		return fmt.Errorf("mark source crawled: %w", err)
	}
	return expectAffected(res, fmt.Errorf("source %d: %w", id, domain.ErrNotFound))
}

func scanSource(row rowScanner) (domain.Source, error) {
	var src domain.Source
	var pattern sql.NullString
	var kind string
	var lastCrawled sql.NullTime
	if err := row.Scan(&src.ID, &src.Name, &src.BaseURL, &pattern, &kind, &src.Enabled, &lastCrawled, &src.CreatedAt); err != nil {
		return domain.Source{}, err
	}
	src.URLPattern = pattern.String
	src.ScraperType = domain.ScraperType(kind)
	src.LastCrawledAt = timePtr(lastCrawled)
	src.CreatedAt = src.CreatedAt.UTC()
	return src, nil
}

// CreateCrawlJob stores job and fills its ID and CreatedAt.
func (s *SQLStore) CreateCrawlJob(ctx context.Context, job *domain.CrawlJob) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.now()
	}
	row, err := queryRow(ctx, s.db, s.sb.Insert("crawl_jobs").
		Columns(jobColumns[1:]...).
		Values(job.SourceID, string(job.Status), nullTime(job.StartedAt), nullTime(job.FinishedAt),
			nullString(job.ErrorMessage), job.DocumentsCreated, job.CreatedAt.UTC()).
		Suffix("RETURNING id"))
	if err != nil {
		return err
	}
	if err := row.Scan(&job.ID); err != nil {
		return fmt.Errorf("insert crawl job: %w", err)
	}
	return nil
}

// UpdateCrawlJob writes the mutable job fields. Terminal jobs are never
// rewritten.
func (s *SQLStore) UpdateCrawlJob(ctx context.Context, job domain.CrawlJob) error {
	res, err := execSQL(ctx, s.db, s.sb.Update("crawl_jobs").
		Set("status", string(job.Status)).
		Set("started_at", nullTime(job.StartedAt)).
		Set("finished_at", nullTime(job.FinishedAt)).
		Set("error_message", nullString(job.ErrorMessage)).
		Set("documents_created", job.DocumentsCreated).
		Where(sq.Eq{"id": job.ID}).
		Where(sq.NotEq{"status": []string{string(domain.CrawlSuccess), string(domain.CrawlFailed)}}))
	if err != nil {
		return fmt.Errorf("update crawl job: %w", err)
	}
	return expectAffected(res, fmt.Errorf("crawl job %d: %w", job.ID, domain.ErrNotFound))
}

func (s *SQLStore) GetCrawlJob(ctx context.Context, id int64) (domain.CrawlJob, error) {
	row, err := queryRow(ctx, s.db, s.sb.Select(jobColumns...).From("crawl_jobs").Where(sq.Eq{"id": id}))
	if err != nil {
		return domain.CrawlJob{}, err
	}
	job, err := scanJob(row)
	if isNoRows(err) {
		return domain.CrawlJob{}, fmt.Errorf("crawl job %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.CrawlJob{}, fmt.Errorf("scan crawl job: %w", err)
	}
	return job, nil
}

// ListCrawlJobs returns the newest jobs first, optionally for one source.
func (s *SQLStore) ListCrawlJobs(ctx context.Context, sourceID *int64, limit int) ([]domain.CrawlJob, error) {
	if limit <= 0 {
		limit = defaultJobListLimit
	}
	q := s.sb.Select(jobColumns...).From("crawl_jobs").OrderBy("id DESC").Limit(uint64(limit))
	if sourceID != nil {
		q = q.Where(sq.Eq{"source_id": *sourceID})
	}
	rows, err := queryRows(ctx, s.db, q)
	if err != nil {
		return nil, fmt.Errorf("query crawl jobs: %w", err)
	}

	var out []domain.CrawlJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, closeRows(rows, fmt.Errorf("scan crawl job: %w", err))
		}
		out = append(out, job)
	}
	return out, closeRows(rows, nil)
}

func scanJob(row rowScanner) (domain.CrawlJob, error) {
	var job domain.CrawlJob
	var status string
	var started, finished sql.NullTime
	var message sql.NullString
	if err := row.Scan(&job.ID, &job.SourceID, &status, &started, &finished, &message, &job.DocumentsCreated, &job.CreatedAt); err != nil {
		return domain.CrawlJob{}, err
	}
	job.Status = domain.CrawlStatus(status)
	job.StartedAt = timePtr(started)
	job.FinishedAt = timePtr(finished)
	job.ErrorMessage = message.String
	job.CreatedAt = job.CreatedAt.UTC()
	return job, nil
}
