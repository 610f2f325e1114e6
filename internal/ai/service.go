package ai

import (
	"context"
	"log/slog"
	"time"

	"github.com/david/contract-finder/internal/apperr"
	"github.com/david/contract-finder/internal/models"
	"github.com/google/uuid"
)

const notConfiguredMsg = "AI enrichment is not configured: set OPENAI_API_KEY, or AI_PROVIDER=ollama with OLLAMA_HOST"

// Store is the persistence the enrichment service needs.
type Store interface {
	GetOpportunity(ctx context.Context, id uuid.UUID) (*models.Opportunity, error)
	LinksForOpportunity(ctx context.Context, oppID uuid.UUID) ([]models.AwardLink, error)
	SaveAnalysis(ctx context.Context, id uuid.UUID, version int, a *models.AIAnalysis) error
	SaveAwardLikelihood(ctx context.Context, id uuid.UUID, version int, l *models.AwardLikelihood) error
}

// Service runs enrichment for stored opportunities and persists the result.
// A result is written in full or not at all, and only if the opportunity
// has not changed since it was read.
type Service struct {
	store    Store
	enricher Enricher
	timeout  time.Duration
	logger   *slog.Logger
}

// NewService accepts a nil enricher; every call then fails with a
// NotConfigured error.
func NewService(store Store, enricher Enricher, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Service{store: store, enricher: enricher, timeout: timeout, logger: slog.Default()}
}

func (s *Service) WithLogger(l *slog.Logger) *Service {
	s.logger = l
	return s
}

func (s *Service) Configured() bool { return s.enricher != nil }

func (s *Service) Analyze(ctx context.Context, id uuid.UUID) (*models.AIAnalysis, error) {
	const op = "analyze"
	if s.enricher == nil {
		return nil, apperr.NotConfigured(op, notConfiguredMsg)
	}
	opp, err := s.store.GetOpportunity(ctx, id)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	analysis, err := s.enricher.Analyze(callCtx, opp)
	if err != nil {
		s.logger.Warn("analysis failed", "opportunity_id", id, "error", err)
		return nil, apperr.ExternalService(op, "enrichment failed", err)
	}

	if err := s.store.SaveAnalysis(ctx, id, opp.Version, analysis); err != nil {
		return nil, err
	}
	s.logger.Info("opportunity analyzed", "opportunity_id", id, "fit_score", analysis.FitScore)
	return analysis, nil
}

// AwardLikelihood scores the chance of winning, giving the model the
// historical awards already linked to the opportunity as incumbent context.
func (s *Service) AwardLikelihood(ctx context.Context, id uuid.UUID) (*models.AwardLikelihood, error) {
	const op = "award likelihood"
	if s.enricher == nil {
		return nil, apperr.NotConfigured(op, notConfiguredMsg)
	}
	opp, err := s.store.GetOpportunity(ctx, id)
	if err != nil {
		return nil, err
	}
	links, err := s.store.LinksForOpportunity(ctx, id)
	if err != nil {
		return nil, err
	}
	incumbents := make([]models.HistoricalAward, 0, len(links))
	for _, l := range links {
		if l.Award != nil {
			incumbents = append(incumbents, *l.Award)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	likelihood, err := s.enricher.ScoreAwardLikelihood(callCtx, opp, incumbents)
	if err != nil {
		s.logger.Warn("award likelihood failed", "opportunity_id", id, "error", err)
		return nil, apperr.ExternalService(op, "enrichment failed", err)
	}

	if err := s.store.SaveAwardLikelihood(ctx, id, opp.Version, likelihood); err != nil {
		return nil, err
	}
	s.logger.Info("award likelihood scored", "opportunity_id", id, "score", likelihood.Score, "incumbents", len(incumbents))
	return likelihood, nil
}
