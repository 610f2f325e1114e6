package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/david/contract-finder/internal/ai"
	"github.com/david/contract-finder/internal/api"
	"github.com/david/contract-finder/internal/auth"
	"github.com/david/contract-finder/internal/config"
	"github.com/david/contract-finder/internal/db"
	"github.com/david/contract-finder/internal/ingest"
	"github.com/david/contract-finder/internal/linker"
	"github.com/david/contract-finder/internal/pipeline"
	"github.com/david/contract-finder/internal/scoring"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	if err := db.ApplyMigrations(ctx, pool); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	rules, err := scoring.LoadRules(cfg.RulesPath)
	if err != nil {
		return err
	}
	scorer := scoring.NewScorer(rules)
	store := db.NewStore(pool)

	sam := ingest.NewSAMGovSource(cfg.SAMAPIKey, cfg.SAMBaseURL, cfg.SearchTimeout).WithLogger(logger)
	if cfg.FetchDescriptions {
		sam.Descriptions = ingest.NewCollyFetcher(cfg.SearchTimeout)
	}
	engine := ingest.NewEngine(store, sam, scorer, cfg.ScoreFloor).WithLogger(logger)
	if cfg.ScanAttachments {
		engine.Attachments = ingest.NewAttachmentScanner(ingest.NewHTTPFetcher(cfg.SearchTimeout), cfg.MaxAttachments)
	}

	awards := ingest.NewAwardIngester(store, ingest.NewUSASpendingSource(cfg.USASpendingBaseURL, cfg.SearchTimeout), scorer).
		WithLogger(logger)
	awards.LookbackYears = cfg.AwardLookbackYears
	awards.MaxPagesPerNAICS = cfg.AwardMaxPagesPerNAICS

	enricher := ai.NewEnricher(cfg)
	aiService := ai.NewService(store, enricher, cfg.AITimeout).WithLogger(logger)
	if !aiService.Configured() {
		logger.Warn("AI enrichment disabled", "provider", cfg.AIProvider)
	}

	awardLinker := linker.New(store).WithLogger(logger)
	orchestrator := pipeline.NewOrchestrator(engine, awardLinker, store, cfg.IngestWindowDays).WithLogger(logger)

	if cfg.IngestSchedule != "" {
		sched, err := pipeline.NewScheduler(cfg.IngestSchedule, orchestrator, pipeline.RunOptions{Link: cfg.LinkAfterIngest})
		if err != nil {
			return err
		}
		sched.WithLogger(logger).Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := sched.Stop(stopCtx); err != nil {
				logger.Warn("scheduler did not stop cleanly", "error", err)
			}
		}()
	}

	if cfg.AdminSecret == "" {
		logger.Warn("ADMIN_SECRET is not set; admin routes accept user tokens only")
	}

	srv := api.NewServer(api.Deps{
		Store:    store,
		Pipeline: orchestrator,
		AI:       aiService,
		Linker:   awardLinker,
		Awards:   awards,
		Auth:     auth.NewService(pool),
	}, api.Options{
		AdminSecret: cfg.AdminSecret,
		CORSOrigins: cfg.CORSOrigins,
		Logger:      logger,
	})

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "port", cfg.Port)
		errCh <- srv.Start(":" + cfg.Port)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
