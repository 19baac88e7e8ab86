package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"BdLens/internal/app"
	"BdLens/internal/config"
	"BdLens/internal/logging"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCLI().RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "bdlens:", err)
		os.Exit(1)
	}
}

func newCLI() *cli.App {
	return &cli.App{
		Name:  "bdlens",
		Usage: "crawl, enrich and search Bangladesh government documents",
		Commands: []*cli.Command{
			{
				Name:   "migrate",
				Usage:  "create the database schema",
				Action: withApp(migrateAction),
			},
			{
				Name:   "serve",
				Usage:  "crawl enabled sources on the configured interval",
				Action: withApp(serveAction),
			},
			{
				Name:  "crawl",
				Usage: "crawl one source, or every enabled source",
				Flags: []cli.Flag{
					&cli.Int64Flag{Name: "source", Usage: "source id"},
				},
				Action: withApp(crawlAction),
			},
			{
				Name:      "ingest-pdf",
				Usage:     "ingest a PDF file from disk",
				ArgsUsage: "<path>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "title"},
					&cli.StringFlag{Name: "url"},
					&cli.Int64Flag{Name: "source"},
				},
				Action: withApp(ingestPDFAction),
			},
			{
				Name:  "ingest-text",
				Usage: "ingest plain text read from a file or stdin",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "title", Required: true},
					&cli.StringFlag{Name: "file", Usage: "read content from this file instead of stdin"},
					&cli.StringFlag{Name: "url"},
					&cli.Int64Flag{Name: "source"},
				},
				Action: withApp(ingestTextAction),
			},
			{
				Name:      "reenrich",
				Usage:     "regenerate the summary and explanation of a document",
				ArgsUsage: "<document id>",
				Action:    withApp(reenrichAction),
			},
			{
				Name:      "search",
				Usage:     "semantic search over ingested documents",
				ArgsUsage: "<query>",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Value: 10},
					&cli.StringFlag{Name: "tag"},
					&cli.Int64Flag{Name: "source"},
				},
				Action: withApp(searchAction),
			},
			{
				Name:  "source",
				Usage: "manage crawl sources",
				Subcommands: []*cli.Command{
					{
						Name:  "add",
						Usage: "register a source",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "name", Required: true},
							&cli.StringFlag{Name: "url", Required: true},
							&cli.StringFlag{Name: "type", Value: "simple", Usage: "simple, dncc or mopa"},
							&cli.StringFlag{Name: "pattern", Usage: "regexp a link must match"},
							&cli.BoolFlag{Name: "disabled"},
						},
						Action: withApp(sourceAddAction),
					},
					{
						Name:   "list",
						Flags:  []cli.Flag{&cli.BoolFlag{Name: "enabled"}},
						Action: withApp(sourceListAction),
					},
					{
						Name:      "enable",
						ArgsUsage: "<source id>",
						Action:    withApp(sourceToggleAction(true)),
					},
					{
						Name:      "disable",
						ArgsUsage: "<source id>",
						Action:    withApp(sourceToggleAction(false)),
					},
					{
						Name:   "seed",
						Usage:  "store the sources listed in the config file",
						Action: withApp(sourceSeedAction),
					},
				},
			},
			{
				Name:  "jobs",
				Usage: "list recent crawl jobs",
				Flags: []cli.Flag{
					&cli.Int64Flag{Name: "source"},
					&cli.IntFlag{Name: "limit", Value: 20},
				},
				Action: withApp(jobsAction),
			},
		},
	}
}

// withApp loads the configuration, opens the application for one command
// and closes it afterwards.
func withApp(action func(*cli.Context, *app.Application) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		cfg := config.Load()
		logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)

		application, err := app.New(c.Context, cfg, logger)
		if err != nil {
			return fmt.Errorf("failed to start: %w", err)
		}
		defer func() {
			if err := application.Close(); err != nil {
				logger.Warn("close store", "error", err)
			}
		}()
		return action(c, application)
	}
}
