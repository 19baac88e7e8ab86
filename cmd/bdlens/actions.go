package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"BdLens/internal/app"
	"BdLens/internal/domain"
	"BdLens/internal/usecase"
)

const timeLayout = "2006-01-02 15:04"

func migrateAction(c *cli.Context, _ *app.Application) error {
	fmt.Fprintln(c.App.Writer, "schema is up to date")
	return nil
}

func serveAction(c *cli.Context, a *app.Application) error {
	return a.Run(c.Context)
}

func crawlAction(c *cli.Context, a *app.Application) error {
	var jobs []domain.CrawlJob
	if c.IsSet("source") {
		job, err := a.Crawler.Crawl(c.Context, c.Int64("source"))
		if err != nil {
			return err
		}
		jobs = append(jobs, job)
	} else {
		var err error
		if jobs, err = a.Crawler.CrawlEnabled(c.Context); err != nil {
			return err
		}
	}
	printJobs(c.App.Writer, jobs)
	return nil
}

func ingestPDFAction(c *cli.Context, a *app.Application) error {
	path := c.Args().First()
	if path == "" {
		return fmt.Errorf("missing pdf path: %w", domain.ErrInvalidInput)
	}
	doc, err := a.Processor.IngestPDF(c.Context, usecase.PDFInput{
		Path:     path,
		Title:    c.String("title"),
		URL:      c.String("url"),
		SourceID: optionalID(c, "source"),
	})
	return reportIngest(c.App.Writer, doc, err)
}

func ingestTextAction(c *cli.Context, a *app.Application) error {
	var (
		raw []byte
		err error
	)
	if file := c.String("file"); file != "" {
		raw, err = os.ReadFile(file)
	} else {
		raw, err = io.ReadAll(c.App.Reader)
	}
	if err != nil {
		return fmt.Errorf("read content: %w", err)
	}

	doc, err := a.Processor.IngestText(c.Context, usecase.TextInput{
		Title:    c.String("title"),
		Content:  string(raw),
		URL:      c.String("url"),
		SourceID: optionalID(c, "source"),
	})
	return reportIngest(c.App.Writer, doc, err)
}

// reportIngest prints the stored document. A url that is already stored is
// a skip, not a failure.
func reportIngest(w io.Writer, doc domain.Document, err error) error {
	if errors.Is(err, domain.ErrDuplicateURL) {
		fmt.Fprintf(w, "Skipped: %v\n", err)
		return nil
	}
	if err != nil {
		return err
	}
	printDocument(w, doc)
	return nil
}

func reenrichAction(c *cli.Context, a *app.Application) error {
	id, err := idArg(c)
	if err != nil {
		return err
	}
	doc, err := a.Processor.Reenrich(c.Context, id)
	if err != nil {
		return err
	}
	printDocument(c.App.Writer, doc)
	return nil
}

func searchAction(c *cli.Context, a *app.Application) error {
	results, err := a.Search.Search(c.Context, domain.SearchQuery{
		Text:     strings.Join(c.Args().Slice(), " "),
		Limit:    c.Int("limit"),
		Tag:      c.String("tag"),
		SourceID: optionalID(c, "source"),
	})
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Fprintln(c.App.Writer, "No matching documents")
		return nil
	}

	w := c.App.Writer
	for i, r := range results {
		fmt.Fprintf(w, "%2d. [%.3f] %s (#%d)\n", i+1, r.Score, r.Title, r.DocumentID)
		if r.Source != "" || r.URL != "" {
			fmt.Fprintf(w, "    %s %s\n", r.Source, r.URL)
		}
		if len(r.Tags) > 0 {
			slugs := make([]string, 0, len(r.Tags))
			for _, t := range r.Tags {
				slugs = append(slugs, t.Slug)
			}
			fmt.Fprintf(w, "    tags: %s\n", strings.Join(slugs, ", "))
		}
		fmt.Fprintf(w, "    %s\n", strings.Join(strings.Fields(r.Snippet), " "))
	}
	return nil
}

func sourceAddAction(c *cli.Context, a *app.Application) error {
	src := domain.Source{
		Name:        c.String("name"),
		BaseURL:     c.String("url"),
		URLPattern:  c.String("pattern"),
		ScraperType: domain.ScraperType(c.String("type")),
		Enabled:     !c.Bool("disabled"),
	}
	if err := a.AddSource(c.Context, &src); err != nil {
		return err
	}
	printSources(c.App.Writer, []domain.Source{src})
	return nil
}

func sourceListAction(c *cli.Context, a *app.Application) error {
	sources, err := a.Store().ListSources(c.Context, c.Bool("enabled"))
	if err != nil {
		return fmt.Errorf("failed to list sources: %w", err)
	}
	if len(sources) == 0 {
		fmt.Fprintln(c.App.Writer, "No sources found")
		return nil
	}
	printSources(c.App.Writer, sources)
	return nil
}

func sourceToggleAction(enabled bool) func(*cli.Context, *app.Application) error {
	return func(c *cli.Context, a *app.Application) error {
		id, err := idArg(c)
		if err != nil {
			return err
		}
		if err := a.Store().SetSourceEnabled(c.Context, id, enabled); err != nil {
			return err
		}
		src, err := a.Store().GetSource(c.Context, id)
		if err != nil {
			return err
		}
		printSources(c.App.Writer, []domain.Source{src})
		return nil
	}
}

func sourceSeedAction(c *cli.Context, a *app.Application) error {
	created, err := a.SeedSources(c.Context)
	if err != nil {
		return err
	}
	if len(created) == 0 {
		fmt.Fprintln(c.App.Writer, "All configured sources are already stored")
		return nil
	}
	printSources(c.App.Writer, created)
	return nil
}

func jobsAction(c *cli.Context, a *app.Application) error {
	jobs, err := a.Store().ListCrawlJobs(c.Context, optionalID(c, "source"), c.Int("limit"))
	if err != nil {
		return fmt.Errorf("failed to list crawl jobs: %w", err)
	}
	if len(jobs) == 0 {
		fmt.Fprintln(c.App.Writer, "No crawl jobs found")
		return nil
	}
	printJobs(c.App.Writer, jobs)
	return nil
}

func idArg(c *cli.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Args().First(), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("expected a numeric id, got %q: %w", c.Args().First(), domain.ErrInvalidInput)
	}
	return id, nil
}

func optionalID(c *cli.Context, name string) *int64 {
	if !c.IsSet(name) {
		return nil
	}
	id := c.Int64(name)
	return &id
}

func printDocument(w io.Writer, doc domain.Document) {
	fmt.Fprintf(w, "Document %d\n", doc.ID)
	fmt.Fprintln(w, strings.Repeat("=", 60))
	fmt.Fprintf(w, "Title:       %s\n", doc.Title)
	fmt.Fprintf(w, "Type:        %s\n", doc.ContentType)
	if doc.URL != "" {
		fmt.Fprintf(w, "URL:         %s\n", doc.URL)
	}
	if doc.Language != "" {
		fmt.Fprintf(w, "Language:    %s\n", doc.Language)
	}
	fmt.Fprintf(w, "Summary:     %s\n", orNone(doc.Summary))
	fmt.Fprintf(w, "Explanation: %s\n", orNone(doc.Explanation))
}

func printSources(w io.Writer, sources []domain.Source) {
	rows := [][]string{{"ID", "Name", "Type", "Enabled", "Last crawl", "Base URL"}}
	for _, s := range sources {
		rows = append(rows, []string{
			strconv.FormatInt(s.ID, 10),
			s.Name,
			string(s.ScraperType),
			strconv.FormatBool(s.Enabled),
			formatTime(s.LastCrawledAt),
			s.BaseURL,
		})
	}
	writeTable(w, rows)
}

func printJobs(w io.Writer, jobs []domain.CrawlJob) {
	rows := [][]string{{"Job", "Source", "Status", "Documents", "Started", "Finished", "Error"}}
	for _, j := range jobs {
		rows = append(rows, []string{
			strconv.FormatInt(j.ID, 10),
			strconv.FormatInt(j.SourceID, 10),
			string(j.Status),
			strconv.Itoa(j.DocumentsCreated),
			formatTime(j.StartedAt),
			formatTime(j.FinishedAt),
			j.ErrorMessage,
		})
	}
	writeTable(w, rows)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(timeLayout)
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
