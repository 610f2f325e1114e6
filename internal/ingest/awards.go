package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/david/contract-finder/internal/apperr"
	"github.com/david/contract-finder/internal/models"
	"github.com/david/contract-finder/internal/scoring"
	"golang.org/x/sync/errgroup"
)

// AwardSource lists historical contract awards.
type AwardSource interface {
	SearchAwards(ctx context.Context, q AwardQuery) ([]RawAward, bool, error)
	AwardCounts(ctx context.Context, internalID string) (transactions, subawards int, err error)
}

type AwardStore interface {
	UpsertAward(ctx context.Context, a *models.HistoricalAward) (bool, error)
	StoredAwardCounts(ctx context.Context, awardIDs []string) (map[string]models.AwardCounts, error)
}

// AwardResult summarizes one historical award ingestion.
type AwardResult struct {
	NAICSCodes []string `json:"naics_codes"`
	Fetched    int      `json:"fetched"`
	Created    int      `json:"created"`
	Updated    int      `json:"updated"`
	Failed     int      `json:"failed"`
	Errors     []string `json:"errors"`
}

// AwardIngester loads historical awards for every target NAICS code of the
// rule table and scores them as incumbency evidence.
type AwardIngester struct {
	store  AwardStore
	source AwardSource
	scorer *scoring.Scorer

	LookbackYears    int
	MaxPagesPerNAICS int
	Concurrency      int

	logger *slog.Logger
	now    func() time.Time
}

func NewAwardIngester(store AwardStore, source AwardSource, scorer *scoring.Scorer) *AwardIngester {
	return &AwardIngester{
		store:            store,
		source:           source,
		scorer:           scorer,
		LookbackYears:    5,
		MaxPagesPerNAICS: 5,
		Concurrency:      4,
		logger:           slog.Default(),
		now:              time.Now,
	}
}

func (ai *AwardIngester) WithLogger(l *slog.Logger) *AwardIngester {
	ai.logger = l
	return ai
}

func (ai *AwardIngester) WithClock(now func() time.Time) *AwardIngester {
	ai.now = now
	return ai
}

// IngestAwards fetches awards per NAICS code in parallel, then enriches,
// scores and upserts them in NAICS order. A failing NAICS code or award is
// recorded and skipped; the run fails only if every code fails.
func (ai *AwardIngester) IngestAwards(ctx context.Context) (*AwardResult, error) {
	codes := ai.scorer.Rules().TargetNAICS
	if len(codes) == 0 {
		return nil, apperr.Validation("ingest awards", "no target NAICS codes configured")
	}

	now := ai.now()
	from := now.AddDate(-ai.LookbackYears, 0, 0)
	res := &AwardResult{NAICSCodes: codes, Errors: []string{}}

	perCode := make([][]RawAward, len(codes))
	codeErrs := make([]error, len(codes))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ai.concurrency())
	for i, code := range codes {
		g.Go(func() error {
			awards, err := ai.fetchCode(gctx, code, from, now)
			perCode[i] = awards
			codeErrs[i] = err
			return nil
		})
	}
	_ = g.Wait()

	failedCodes := 0
	var awards []RawAward
	seen := make(map[string]bool)
	for i, code := range codes {
		if codeErrs[i] != nil {
			failedCodes++
			ai.logger.Warn("award search failed", "naics", code, "error", codeErrs[i])
			res.Errors = append(res.Errors, fmt.Sprintf("naics %s: %v", code, codeErrs[i]))
		}
		for _, a := range perCode[i] {
			if seen[a.AwardID] {
				continue
			}
			seen[a.AwardID] = true
			awards = append(awards, a)
		}
	}
	if failedCodes == len(codes) {
		return nil, apperr.ExternalService("ingest awards", "award source unavailable", codeErrs[0])
	}
	res.Fetched = len(awards)

	countErrs := ai.fetchCounts(ctx, awards)
	stored, storedErr := ai.storedCounts(ctx, awards, countErrs)

	for i := range awards {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		a := awards[i]
		award := &models.HistoricalAward{
			AwardID:          a.AwardID,
			InternalID:       a.InternalID,
			RecipientName:    a.RecipientName,
			Agency:           a.Agency,
			SubAgency:        a.SubAgency,
			Description:      a.Description,
			TotalObligation:  a.Amount,
			NAICSCode:        a.NAICSCode,
			AwardDate:        a.StartDate,
			PeriodStart:      a.StartDate,
			PeriodEnd:        a.EndDate,
			TransactionCount: a.TransactionCount,
			SubawardCount:    a.SubawardCount,
			EnrichmentStatus: models.AwardEnrichmentEnriched,
		}
		if countErrs[i] != nil {
			if storedErr != nil {
				res.Failed++
				res.Errors = append(res.Errors, fmt.Sprintf("award %s: %v (stored counts: %v)", a.AwardID, countErrs[i], storedErr))
				continue
			}
			award.EnrichmentStatus = models.AwardEnrichmentFailed
			if c, ok := stored[a.AwardID]; ok {
				award.TransactionCount = c.Transactions
				award.SubawardCount = c.Subawards
			}
			res.Errors = append(res.Errors, fmt.Sprintf("award %s: %v", a.AwardID, countErrs[i]))
		}

		scored := ai.scorer.ScoreAward(scoring.AwardAttributesOf(award), now)
		award.RelevanceScore = scored.Score
		award.Signals = scored.Signals

		created, err := ai.store.UpsertAward(ctx, award)
		if err != nil {
			res.Failed++
			res.Errors = append(res.Errors, fmt.Sprintf("award %s: %v", a.AwardID, err))
			continue
		}
		if created {
			res.Created++
		} else {
			res.Updated++
		}
	}

	ai.logger.Info("award ingestion complete",
		"naics_codes", len(codes),
		"fetched", res.Fetched,
		"created", res.Created,
		"updated", res.Updated,
		"errors", len(res.Errors),
	)
	return res, nil
}

func (ai *AwardIngester) fetchCode(ctx context.Context, code string, from, to time.Time) ([]RawAward, error) {
	var out []RawAward
	for page := 1; ai.MaxPagesPerNAICS <= 0 || page <= ai.MaxPagesPerNAICS; page++ {
		awards, hasNext, err := ai.source.SearchAwards(ctx, AwardQuery{NAICSCode: code, From: from, To: to, Page: page})
		if err != nil {
			return out, err
		}
		out = append(out, awards...)
		if !hasNext {
			break
		}
	}
	return out, nil
}

// fetchCounts fills transaction and subaward counts in place and returns one
// error slot per award.
func (ai *AwardIngester) fetchCounts(ctx context.Context, awards []RawAward) []error {
	errs := make([]error, len(awards))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ai.concurrency())
	for i := range awards {
		g.Go(func() error {
			tx, sub, err := ai.source.AwardCounts(gctx, awards[i].InternalID)
			if err != nil {
				errs[i] = err
				return nil
			}
			awards[i].TransactionCount = tx
			awards[i].SubawardCount = sub
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

// storedCounts loads previously enriched counts for the awards whose count
// lookup failed, so a failed refresh does not overwrite them with zeros.
func (ai *AwardIngester) storedCounts(ctx context.Context, awards []RawAward, countErrs []error) (map[string]models.AwardCounts, error) {
	var ids []string
	for i, err := range countErrs {
		if err != nil {
			ids = append(ids, awards[i].AwardID)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	stored, err := ai.store.StoredAwardCounts(ctx, ids)
	if err != nil {
		ai.logger.Warn("loading stored award counts failed", "awards", len(ids), "error", err)
		return nil, err
	}
	return stored, nil
}

func (ai *AwardIngester) concurrency() int {
	if ai.Concurrency <= 0 {
		return 4
	}
	return ai.Concurrency
}
