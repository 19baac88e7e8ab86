package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"BdLens/internal/config"
	"BdLens/internal/domain"
	"BdLens/internal/infrastructure/enrichment"
	"BdLens/internal/infrastructure/language"
	"BdLens/internal/infrastructure/llm"
	"BdLens/internal/infrastructure/ml"
	"BdLens/internal/infrastructure/parser"
	"BdLens/internal/infrastructure/pdf"
	"BdLens/internal/infrastructure/scheduler"
	"BdLens/internal/infrastructure/storage"
	"BdLens/internal/infrastructure/storage/memory"
	"BdLens/internal/infrastructure/telegram"
	"BdLens/internal/logging"
	"BdLens/internal/ports"
	"BdLens/internal/scanner"
	"BdLens/internal/usecase"
)

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg    config.Config
	logger *slog.Logger
	store  ports.Repository
	// registry lists the scraper types a source may use.
	registry *scanner.Registry

	Processor *usecase.Processor
	Search    *usecase.SearchEngine
	Crawler   *usecase.Crawler
	scheduler *usecase.Scheduler
}

// New opens the store, makes sure its schema exists and builds every
// collaborator once.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}

	store, err := openStore(ctx, cfg.Database, baseLogger)
	if err != nil {
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return build(cfg, store, baseLogger), nil
}

func openStore(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (ports.Repository, error) {
	if cfg.Driver == config.DriverMemory {
		return memory.NewStore(), nil
	}
	store, err := storage.Open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// build assembles the use cases around an already opened store.
func build(cfg config.Config, store ports.Repository, baseLogger *slog.Logger) *Application {
	enrich := enrichment.New(
		llm.NewChatGPTClient(cfg.LLM),
		ml.NewClient(cfg.Embedding),
		cfg.Enrichment,
		baseLogger.With("component", "enrichment"),
	)

	processor := usecase.NewProcessor(store, enrich,
		pdf.New(baseLogger.With("component", "pdf")),
		language.NewDetector(),
		usecase.ProcessorConfig{
			ChunkSize:    cfg.Ingestion.ChunkSize,
			ChunkOverlap: cfg.Ingestion.ChunkOverlap,
			EmbedWorkers: cfg.Ingestion.EmbedWorkers,
		},
		baseLogger.With("component", "processor"))

	pages := parser.NewPageClient(&http.Client{Timeout: cfg.Ingestion.FetchTimeout}, cfg.Ingestion.UserAgent)
	registry := parser.RegisterStrategies(scanner.NewRegistry(), pages,
		parser.StrategyOptions{MaxListingPages: cfg.Ingestion.MaxListingPages},
		baseLogger.With("component", "scanner"))

	var notifier ports.Notifier
	if n := telegram.NewNotifier(cfg.Notifications.Telegram); n != nil {
		notifier = n
	}

	crawler := usecase.NewCrawler(usecase.CrawlerDeps{
		Sources:   store,
		Jobs:      store,
		Documents: store,
		Fetchers:  registry,
		Ingester:  processor,
		Notifier:  notifier,
	}, usecase.CrawlerConfig{
		MaxLinks:  cfg.Ingestion.MaxLinksPerCrawl,
		Workers:   cfg.Ingestion.CrawlWorkers,
		UploadDir: cfg.Ingestion.UploadDir,
	}, baseLogger.With("component", "crawler"))

	driver := scheduler.NewIntervalScheduler(cfg.Scheduler.Interval, cfg.Scheduler.Location())

	return &Application{
		cfg:       cfg,
		logger:    baseLogger,
		store:     store,
		registry:  registry,
		Processor: processor,
		Search:    usecase.NewSearchEngine(store, enrich, baseLogger.With("component", "search")),
		Crawler:   crawler,
		scheduler: usecase.NewScheduler(driver, crawler, baseLogger.With("component", "scheduler")),
	}
}

// Store exposes the repository for listing commands.
func (a *Application) Store() ports.Repository {
	return a.store
}

// Run crawls every enabled source on the configured interval until ctx is
// done. With the scheduler disabled it performs a single round.
func (a *Application) Run(ctx context.Context) error {
	if !a.cfg.Scheduler.Enabled {
		jobs, err := a.Crawler.CrawlEnabled(ctx)
		if err != nil {
			return err
		}
		a.logger.Info("crawl round finished", "jobs", len(jobs))
		return nil
	}

	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	a.logger.Info("scheduler started", "interval", a.cfg.Scheduler.Interval, "timezone", a.cfg.Scheduler.Location())
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Ingestion.FetchTimeout)
	defer cancel()
	if err := a.scheduler.Stop(stopCtx); err != nil {
		a.logger.Warn("scheduler stop", "error", err)
	}
	a.Crawler.Wait()
	return nil
}

// SeedSources stores the configured sources whose base URL is not known
// yet and returns the ones it created.
func (a *Application) SeedSources(ctx context.Context) ([]domain.Source, error) {
	existing, err := a.store.ListSources(ctx, false)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(existing))
	for _, src := range existing {
		known[strings.TrimRight(src.BaseURL, "/")] = true
	}

	var created []domain.Source
	for _, sc := range a.cfg.Sources {
		base := strings.TrimRight(strings.TrimSpace(sc.BaseURL), "/")
		if base == "" || known[base] {
			continue
		}
		src := domain.Source{
			Name:        sc.Name,
			BaseURL:     strings.TrimSpace(sc.BaseURL),
			URLPattern:  sc.URLPattern,
			ScraperType: scanner.Normalize(domain.ScraperType(sc.ScraperType)),
			Enabled:     !sc.Disabled,
		}
		if err := a.AddSource(ctx, &src); err != nil {
			return created, err
		}
		known[base] = true
		created = append(created, src)
	}
	return created, nil
}

// AddSource validates and stores a source.
func (a *Application) AddSource(ctx context.Context, src *domain.Source) error {
	src.Name = strings.TrimSpace(src.Name)
	if src.Name == "" {
		return fmt.Errorf("source name is empty: %w", domain.ErrInvalidInput)
	}
	if _, err := usecase.NormalizeURL(src.BaseURL); err != nil {
		return err
	}
	src.ScraperType = scanner.Normalize(src.ScraperType)
	if !a.registry.Supports(src.ScraperType) {
		return fmt.Errorf("scraper type %q: %w", src.ScraperType, domain.ErrInvalidInput)
	}
	if src.URLPattern != "" {
		if _, err := regexp.Compile(src.URLPattern); err != nil {
			return fmt.Errorf("url pattern: %v: %w", err, domain.ErrInvalidInput)
		}
	}
	return a.store.CreateSource(ctx, src)
}

// Close releases the store.
func (a *Application) Close() error {
	return a.store.Close()
}
