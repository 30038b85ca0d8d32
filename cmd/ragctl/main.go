package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"ragbridge/internal/config"
	"ragbridge/internal/corpus"
	"ragbridge/internal/ingest"
	"ragbridge/internal/pipeline"
	"ragbridge/internal/query"
	"ragbridge/internal/util"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

func main() {
	_ = godotenv.Load(".env")
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:  "ragctl",
		Usage: "Run corpus ingestion and queries against the RAG pipeline without the HTTP server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				EnvVars: []string{"RAGBRIDGE_LOG_LEVEL"},
				Value:   "info",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:      "ingest",
				Usage:     "Add a PDF to the corpus and rebuild the indexes",
				ArgsUsage: "<file.pdf>",
				Action:    func(c *cli.Context) error { return ingestCommand(c, out) },
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "name",
						Usage: "Filename to store the document under (defaults to the file's base name)",
					},
				},
			},
			{
				Name:   "reindex",
				Usage:  "Rebuild the indexes from the current corpus",
				Action: reindexCommand,
			},
			{
				Name:      "query",
				Usage:     "Ask a question and print the pipeline's JSON answer",
				ArgsUsage: "<question>",
				Action:    func(c *cli.Context) error { return queryCommand(c, out) },
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "history",
						Usage: "Prior turns as a JSON array",
						Value: "[]",
					},
				},
			},
			{
				Name:   "list",
				Usage:  "List corpus documents with their SHA-256",
				Action: func(c *cli.Context) error { return listCommand(c, out) },
			},
		},
	}
}

func setupLogger(c *cli.Context) error {
	level, err := config.ParseLogLevel(c.String("log-level"))
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	return nil
}

type components struct {
	cfg      config.Config
	store    *corpus.Store
	stager   *corpus.Stager
	ingester *ingest.Orchestrator
	querier  *query.Orchestrator
}

func build() (*components, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	store, err := corpus.NewStore(cfg.CorpusDir)
	if err != nil {
		return nil, err
	}
	stager, err := corpus.NewStager(cfg.StagingDir, cfg.MaxUploadBytes(), cfg.ValidatePDF)
	if err != nil {
		return nil, err
	}
	lock := &corpus.Lock{}
	logger := slog.Default()
	ingester, err := ingest.New(store, lock, pipeline.NewInvoker(cfg.IngestTimeout, logger), config.Command(cfg.IngestCmd), logger)
	if err != nil {
		return nil, err
	}
	querier, err := query.New(lock, pipeline.NewInvoker(cfg.QueryTimeout, logger), config.Command(cfg.QueryCmd), logger)
	if err != nil {
		return nil, err
	}
	return &components{cfg: cfg, store: store, stager: stager, ingester: ingester, querier: querier}, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func ingestCommand(c *cli.Context, out io.Writer) error {
	if c.NArg() != 1 {
		return cli.Exit("ingest needs exactly one file", 2)
	}
	path := c.Args().First()
	name := c.String("name")
	if name == "" {
		name = filepath.Base(path)
	}

	comp, err := build()
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	staged, err := comp.stager.Stage(f, name)
	if err != nil {
		return err
	}
	defer func() { _ = staged.Discard() }()

	ctx, cancel := signalContext()
	defer cancel()
	res, err := comp.ingester.Ingest(ctx, staged, name)
	if err != nil {
		return describe(err)
	}
	return json.NewEncoder(out).Encode(res)
}

func reindexCommand(c *cli.Context) error {
	comp, err := build()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()
	if err := comp.ingester.Rebuild(ctx); err != nil {
		return describe(err)
	}
	return nil
}

func queryCommand(c *cli.Context, out io.Writer) error {
	if c.NArg() != 1 {
		return cli.Exit("query needs exactly one question (quote it)", 2)
	}
	var history []query.Turn
	if err := json.Unmarshal([]byte(c.String("history")), &history); err != nil {
		return cli.Exit(fmt.Sprintf("--history must be a JSON array: %v", err), 2)
	}

	comp, err := build()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()
	answer, err := comp.querier.Query(ctx, c.Args().First(), history)
	if err != nil {
		return describe(err)
	}
	_, err = fmt.Fprintln(out, string(answer))
	return err
}

func listCommand(_ *cli.Context, out io.Writer) error {
	comp, err := build()
	if err != nil {
		return err
	}
	names, err := comp.store.List()
	if err != nil {
		return err
	}
	for _, name := range names {
		p, err := comp.store.Path(name)
		if err != nil {
			return err
		}
		sum, err := util.SHA256File(p)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s  %s\n", sum, name)
	}
	return nil
}

// describe adds the pipeline's stderr to orchestrator failures so operators
// see the traceback on the terminal.
func describe(err error) error {
	switch e := err.(type) {
	case *ingest.Error:
		if e.Details != "" {
			return fmt.Errorf("%w\n%s", err, util.SanitizeText(e.Details))
		}
	case *query.Error:
		if e.Details != "" {
			return fmt.Errorf("%w\n%s", err, util.SanitizeText(e.Details))
		}
	}
	return err
}
