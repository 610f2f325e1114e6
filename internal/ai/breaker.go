package ai

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/david/contract-finder/internal/models"
	"github.com/sony/gobreaker"
)

// BreakerEnricher guards an Enricher with a circuit breaker. After
// consecutive provider failures the breaker opens and calls fail fast with
// gobreaker.ErrOpenState until the cool-down elapses.
type BreakerEnricher struct {
	inner Enricher
	cb    *gobreaker.CircuitBreaker
}

func NewBreakerEnricher(name string, inner Enricher) *BreakerEnricher {
	return newBreakerEnricher(name, inner, 5, 30*time.Second)
}

func newBreakerEnricher(name string, inner Enricher, maxFailures uint32, coolDown time.Duration) *BreakerEnricher {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "enricher-" + name,
		MaxRequests: 1,
		Timeout:     coolDown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		// A malformed answer or a caller cancelling is not a provider outage.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrMalformedResponse) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return &BreakerEnricher{inner: inner, cb: cb}
}

func (b *BreakerEnricher) Analyze(ctx context.Context, opp *models.Opportunity) (*models.AIAnalysis, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.Analyze(ctx, opp)
	})
	if err != nil {
		return nil, err
	}
	return out.(*models.AIAnalysis), nil
}

func (b *BreakerEnricher) ScoreAwardLikelihood(ctx context.Context, opp *models.Opportunity, incumbents []models.HistoricalAward) (*models.AwardLikelihood, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.ScoreAwardLikelihood(ctx, opp, incumbents)
	})
	if err != nil {
		return nil, err
	}
	return out.(*models.AwardLikelihood), nil
}

// State reports the breaker state, for status endpoints.
func (b *BreakerEnricher) State() string {
	return b.cb.State().String()
}
