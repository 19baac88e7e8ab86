package usecase

import (
	"context"
	"log/slog"
	"time"

	"BdLens/internal/ports"
)

// Scheduler wires the periodic driver with crawls of all enabled sources.
type Scheduler struct {
	driver  ports.Scheduler
	crawler *Crawler
	logger  *slog.Logger
}

// NewScheduler returns a helper to start/stop recurring crawls.
func NewScheduler(driver ports.Scheduler, crawler *Crawler, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{driver: driver, crawler: crawler, logger: logger}
}

// Start registers the crawl round with the provided scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.crawler == nil {
		return nil
	}

	job := func(trigger time.Time) {
		jobs, err := s.crawler.CrawlEnabled(ctx)
		if err != nil {
			s.logger.Warn("scheduled crawl round aborted", "trigger", trigger, "error", err)
			return
		}
		created := 0
		for _, j := range jobs {
			created += j.DocumentsCreated
		}
		s.logger.Info("scheduled crawl round finished", "trigger", trigger, "jobs", len(jobs), "documents_created", created)
	}

	return s.driver.Start(ctx, job)
}

// Stop gracefully tears down the underlying scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}

	return s.driver.Stop(ctx)
}
