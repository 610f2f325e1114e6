package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/david/contract-finder/internal/config"
	"github.com/david/contract-finder/internal/db"
	"github.com/david/contract-finder/internal/ingest"
	"github.com/david/contract-finder/internal/linker"
	"github.com/david/contract-finder/internal/pipeline"
	"github.com/david/contract-finder/internal/scoring"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

// env holds the services one command needs. Close releases the pool.
type env struct {
	cfg    config.Config
	pool   *pgxpool.Pool
	store  *db.Store
	scorer *scoring.Scorer
	logger *slog.Logger
}

func openEnv(cmd *cobra.Command) (*env, error) {
	cfg := config.Load()
	level := cfg.LogLevel
	if v, _ := cmd.Flags().GetBool("verbose"); v {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx := cmd.Context()
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := db.ApplyMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	rules, err := scoring.LoadRules(cfg.RulesPath)
	if err != nil {
		pool.Close()
		return nil, err
	}

	return &env{
		cfg:    cfg,
		pool:   pool,
		store:  db.NewStore(pool),
		scorer: scoring.NewScorer(rules),
		logger: logger,
	}, nil
}

func (e *env) Close() { e.pool.Close() }

func (e *env) linker() *linker.Linker {
	return linker.New(e.store).WithLogger(e.logger)
}

func (e *env) orchestrator() *pipeline.Orchestrator {
	sam := ingest.NewSAMGovSource(e.cfg.SAMAPIKey, e.cfg.SAMBaseURL, e.cfg.SearchTimeout).WithLogger(e.logger)
	if e.cfg.FetchDescriptions {
		sam.Descriptions = ingest.NewCollyFetcher(e.cfg.SearchTimeout)
	}
	engine := ingest.NewEngine(e.store, sam, e.scorer, e.cfg.ScoreFloor).WithLogger(e.logger)
	if e.cfg.ScanAttachments {
		engine.Attachments = ingest.NewAttachmentScanner(ingest.NewHTTPFetcher(e.cfg.SearchTimeout), e.cfg.MaxAttachments)
	}
	return pipeline.NewOrchestrator(engine, e.linker(), e.store, e.cfg.IngestWindowDays).WithLogger(e.logger)
}

func (e *env) awardIngester() *ingest.AwardIngester {
	src := ingest.NewUSASpendingSource(e.cfg.USASpendingBaseURL, e.cfg.SearchTimeout)
	ai := ingest.NewAwardIngester(e.store, src, e.scorer).WithLogger(e.logger)
	ai.LookbackYears = e.cfg.AwardLookbackYears
	ai.MaxPagesPerNAICS = e.cfg.AwardMaxPagesPerNAICS
	return ai
}

// withEnv adapts a command body that needs services into a cobra RunE.
func withEnv(fn func(ctx context.Context, cmd *cobra.Command, e *env, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd)
		if err != nil {
			return err
		}
		defer e.Close()
		return fn(cmd.Context(), cmd, e, args)
	}
}
