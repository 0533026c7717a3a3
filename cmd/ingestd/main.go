// cmd/ingestd/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/tendant/simple-ingestor/internal/bus"
	"github.com/tendant/simple-ingestor/internal/config"
	"github.com/tendant/simple-ingestor/internal/extract"
	"github.com/tendant/simple-ingestor/internal/img"
	"github.com/tendant/simple-ingestor/internal/orchestrator"
	"github.com/tendant/simple-ingestor/internal/queue"
	"github.com/tendant/simple-ingestor/internal/records"
	"github.com/tendant/simple-ingestor/internal/server"
	"github.com/tendant/simple-ingestor/internal/source"
	"github.com/tendant/simple-ingestor/internal/status"
	"github.com/tendant/simple-ingestor/internal/store"
)

// maxContentSize bounds a single file fetched from the content service.
const maxContentSize = 50 << 20

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fatal(slog.Default(), "load config", err)
	}

	logger, closeLog := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer func() { _ = closeLog() }()
	slog.SetDefault(logger)
	logger.Info("ingestd starting",
		"http_addr", cfg.HTTPAddr,
		"redis", cfg.RedisURL != "",
		"nats", cfg.NATSURL != "",
		"workers", cfg.Workers,
		"llm_provider", cfg.LLMProvider,
		"llm_model", cfg.LLMModel,
		"spool_dir", cfg.SpoolDir,
		"records_db", cfg.RecordsDB,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Job records and queue
	var (
		kv store.KV
		q  queue.Queue
	)
	if cfg.RedisURL != "" {
		rkv, err := store.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			fatal(logger, "connect to redis", err)
		}
		kv, q = rkv, queue.NewRedis(rkv.Client(), "")
		logger.Info("connected to redis")
	} else {
		kv, q = store.NewMemoryKV(), queue.NewMemory()
		logger.Warn("REDIS_URL not set, jobs are kept in memory only")
	}
	defer func() { _ = kv.Close() }()

	hub := status.NewHub(status.DefaultBuffer, logger)

	// With NATS every write goes out on the bus and comes back through the
	// relay, so local subscribers see one copy regardless of which instance
	// ran the job.
	var (
		nc       *bus.Client
		notifier store.Notifier = hub
	)
	if cfg.NATSURL != "" {
		nc, err = bus.Connect(cfg.NATSURL, "ingestd")
		if err != nil {
			fatal(logger, "connect to NATS", err, "nats_url", cfg.NATSURL)
		}
		defer nc.Close()
		if _, err := nc.RelayProgress(cfg.ProgressSubject, hub, logger); err != nil {
			fatal(logger, "subscribe progress relay", err, "subject", cfg.ProgressSubject)
		}
		notifier = bus.NewProgressPublisher(nc, cfg.ProgressSubject)
		logger.Info("connected to NATS", "nats_url", cfg.NATSURL, "progress_subject", cfg.ProgressSubject)
	}

	jobStore := store.NewJobStore(kv, store.Options{TTL: cfg.JobTTL, Notifier: notifier, Logger: logger})

	// File sources
	if err := os.MkdirAll(cfg.SpoolDir, 0o755); err != nil {
		fatal(logger, "ensure spool directory", err, "spool_dir", cfg.SpoolDir)
	}
	spool, err := source.NewSpool(cfg.SpoolDir)
	if err != nil {
		fatal(logger, "open spool", err, "spool_dir", cfg.SpoolDir)
	}
	if cfg.UnsharedSpool() {
		logger.Warn("uploads are staged in a local SPOOL_DIR but the redis queue is shared; mount SPOOL_DIR on every instance and set SPOOL_SHARED=true, or run a single instance",
			"spool_dir", cfg.SpoolDir)
	}
	resolver := source.NewResolver().Register(source.SpoolScheme, spool)

	contentEnabled := cfg.ContentDatabaseURL != ""
	if contentEnabled {
		contentCfg, err := config.LoadContentConfig(cfg.ContentDatabaseURL)
		if err != nil {
			fatal(logger, "load simplecontent config", err)
		}
		contentSvc, err := contentCfg.BuildService()
		if err != nil {
			fatal(logger, "build simplecontent service", err)
		}
		resolver.Register(source.ContentScheme, source.NewContentSource(source.NewSimpleContent(contentSvc), maxContentSize))
		logger.Info("simplecontent source ready", "backend", contentCfg.DefaultStorageBackend)
	}

	// Extraction and persistence
	model, err := extract.NewModel(extract.ModelConfig{
		Provider:        cfg.LLMProvider,
		Model:           cfg.LLMModel,
		OllamaHost:      cfg.OllamaHost,
		OpenAIAPIKey:    cfg.OpenAIAPIKey,
		AnthropicAPIKey: cfg.AnthropicAPIKey,
	})
	if err != nil {
		fatal(logger, "create LLM", err, "provider", cfg.LLMProvider)
	}
	extractor := extract.NewRateLimited(extract.NewLLMExtractor(model, logger), cfg.ExtractRPS, cfg.ExtractBurst)

	if dir := filepath.Dir(cfg.RecordsDB); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fatal(logger, "ensure records directory", err, "records_db", cfg.RecordsDB)
		}
	}
	db, err := records.Open(cfg.RecordsDB)
	if err != nil {
		fatal(logger, "open records database", err, "records_db", cfg.RecordsDB)
	}
	defer func() { _ = db.Close() }()
	repo := records.NewRepository(db.DB)
	if cfg.SubCategoriesFile != "" {
		n, err := repo.ImportSubCategoriesFile(ctx, cfg.SubCategoriesFile)
		if err != nil {
			fatal(logger, "import sub-categories", err, "file", cfg.SubCategoriesFile)
		}
		logger.Info("sub-categories imported", "file", cfg.SubCategoriesFile, "count", n)
	}

	orch := orchestrator.New(orchestrator.Deps{
		Store:     jobStore,
		Source:    resolver,
		Preparer:  img.NewRouter(img.Options{MaxDim: cfg.ImageMaxDim}),
		Extractor: extractor,
		Persister: repo,
		Loader:    repo,
		Cleaner:   spool,
		Logger:    logger,
	}, cfg.FileTimeout)

	svc := orchestrator.NewService(jobStore, q, spool, logger)
	pool := orchestrator.NewWorkerPool(q, jobStore, orch, cfg.Workers, instanceID(), cfg.LeaseTTL, logger)
	svc.SetWaker(pool)

	if nc != nil && contentEnabled {
		if _, err := nc.QueueSubscribeJSON(cfg.SubmitSubject, cfg.SubmitQueue, submitHandler(svc, logger)); err != nil {
			fatal(logger, "subscribe submissions", err, "subject", cfg.SubmitSubject, "queue", cfg.SubmitQueue)
		}
		logger.Info("listening for content submissions", "subject", cfg.SubmitSubject, "queue", cfg.SubmitQueue)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		pool.Run(gctx)
		return nil
	})
	g.Go(func() error {
		store.NewSweeper(jobStore, cfg.SweepInterval, logger).Run(gctx)
		return nil
	})
	g.Go(func() error {
		recoverLoop(gctx, svc, cfg.LeaseTTL, logger)
		return nil
	})

	srv := server.New(gctx, cfg.HTTPAddr, svc, hub, logger)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		fatal(logger, "ingestd stopped", err)
	}
	logger.Info("ingestd stopped")
}

// recoverLoop re-queues unfinished jobs at startup and then every interval,
// so jobs whose worker died are retried once their lease lapses.
func recoverLoop(ctx context.Context, svc *orchestrator.Service, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := svc.Recover(ctx); err != nil && ctx.Err() == nil {
			logger.Error("recover unfinished jobs", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func instanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "ingestd"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

func fatal(logger *slog.Logger, msg string, err error, attrs ...any) {
	attrs = append(attrs, "err", err)
	logger.Error(msg, attrs...)
	os.Exit(1)
}
