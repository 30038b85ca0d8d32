package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ragbridge/internal/accounts"
	"ragbridge/internal/api"
	"ragbridge/internal/config"
	"ragbridge/internal/corpus"
	"ragbridge/internal/ingest"
	"ragbridge/internal/pipeline"
	"ragbridge/internal/query"
	"ragbridge/internal/storage"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load(".env")
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := corpus.NewStore(cfg.CorpusDir)
	if err != nil {
		log.Fatal(err)
	}
	stager, err := corpus.NewStager(cfg.StagingDir, cfg.MaxUploadBytes(), cfg.ValidatePDF)
	if err != nil {
		log.Fatal(err)
	}
	lock := &corpus.Lock{}
	ingester, err := ingest.New(store, lock,
		pipeline.NewInvoker(cfg.IngestTimeout, logger.With("component", "ingest")),
		config.Command(cfg.IngestCmd), logger.With("component", "ingest"))
	if err != nil {
		log.Fatal(err)
	}
	querier, err := query.New(lock,
		pipeline.NewInvoker(cfg.QueryTimeout, logger.With("component", "query")),
		config.Command(cfg.QueryCmd), logger.With("component", "query"))
	if err != nil {
		log.Fatal(err)
	}

	tokens := accounts.NewTokens([]byte(cfg.JWTSecret), cfg.JWTTTL)
	var svc *accounts.Service
	if cfg.AccountsURL != "" {
		openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		users, err := storage.OpenUsers(openCtx, cfg.AccountsURL)
		cancel()
		if err != nil {
			// the document routes keep working without the account store
			logger.Error("account store unavailable, signup and login disabled", "err", err)
		} else {
			defer func() { _ = users.Close(context.Background()) }()
			svc = accounts.NewService(users, cfg.EmailDomain, tokens)
		}
	}
	if tokens == nil {
		logger.Warn("RAGBRIDGE_JWT_SECRET not set, login issues no tokens")
	}

	h := api.NewServer(cfg, api.Deps{
		Store:    store,
		Stager:   stager,
		Ingester: ingester,
		Querier:  querier,
		Accounts: svc,
		Tokens:   tokens,
		Logger:   logger,
	})
	srv := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           h.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		// in-flight requests may be waiting on a pipeline run
		grace := max(cfg.IngestTimeout, cfg.QueryTimeout) + 5*time.Second
		shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", "err", err)
		}
	}()

	logger.Info("ragbridge api listening",
		"addr", cfg.APIAddr,
		"corpus_dir", cfg.CorpusDir,
		"ingest_cmd", cfg.IngestCmd,
		"query_cmd", cfg.QueryCmd,
		"require_auth", cfg.RequireAuth,
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
	logger.Info("ragbridge api stopped")
}
