package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/david/contract-finder/internal/apperr"
	"github.com/david/contract-finder/internal/db"
	"github.com/david/contract-finder/internal/models"
	"github.com/david/contract-finder/internal/scoring"
)

// Store is the persistence the ingestion engine needs.
type Store interface {
	BeginBatch(ctx context.Context) (*models.IngestionBatch, error)
	CompleteBatch(ctx context.Context, id string, c db.BatchCounts) error
	FailBatch(ctx context.Context, id, message string, c db.BatchCounts) error
	KnownNoticeIDs(ctx context.Context, ids []string) (map[string]bool, error)
	UpsertOpportunity(ctx context.Context, opp *models.Opportunity) (bool, error)
}

// Result summarizes one ingestion batch.
type Result struct {
	BatchID              string               `json:"batch_id"`
	Fetched              int                  `json:"fetched"`
	Deduplicated         int                  `json:"deduplicated"`
	PassedFilters        int                  `json:"passed_filters"`
	ScoredAboveThreshold int                  `json:"scored_above_threshold"`
	Created              int                  `json:"created"`
	Updated              int                  `json:"updated"`
	Filtered             map[string]int       `json:"filtered"`
	Opportunities        []models.Opportunity `json:"opportunities"`
	Errors               []string             `json:"errors"`
}

func (r *Result) counts() db.BatchCounts {
	return db.BatchCounts{
		Fetched:              r.Fetched,
		Deduplicated:         r.Deduplicated,
		PassedFilters:        r.PassedFilters,
		ScoredAboveThreshold: r.ScoredAboveThreshold,
		Created:              r.Created,
		Updated:              r.Updated,
		Errors:               r.Errors,
	}
}

// Engine runs ingestion batches: fetch, deduplicate, filter, score, persist.
type Engine struct {
	store  Store
	source Source
	scorer *scoring.Scorer

	// ScoreFloor is the minimum score a listing needs to be stored.
	ScoreFloor int
	// Attachments, when set, adds keywords found in attachment files.
	Attachments *AttachmentScanner

	logger *slog.Logger
	now    func() time.Time
}

func NewEngine(store Store, source Source, scorer *scoring.Scorer, scoreFloor int) *Engine {
	return &Engine{
		store:      store,
		source:     source,
		scorer:     scorer,
		ScoreFloor: scoreFloor,
		logger:     slog.Default(),
		now:        time.Now,
	}
}

func (e *Engine) WithLogger(l *slog.Logger) *Engine {
	e.logger = l
	return e
}

// WithClock overrides the reference time used for filtering and scoring.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Ingest runs one batch over the window. It fails with a Conflict error when
// another batch is running and with an ExternalService error when the source
// cannot be read; per-listing failures are collected in Result.Errors.
func (e *Engine) Ingest(ctx context.Context, w Window) (*Result, error) {
	batch, err := e.store.BeginBatch(ctx)
	if err != nil {
		return nil, err
	}

	log := e.logger.With("batch_id", batch.ID)
	log.Info("ingestion started", "from", w.From.Format(time.DateOnly), "to", w.To.Format(time.DateOnly))

	res := &Result{
		BatchID:       batch.ID,
		Filtered:      map[string]int{},
		Opportunities: []models.Opportunity{},
		Errors:        []string{},
	}
	// Batch bookkeeping must land even if the caller goes away.
	finishCtx := context.WithoutCancel(ctx)

	fail := func(msg string, cause error) (*Result, error) {
		res.Errors = append(res.Errors, msg)
		if ferr := e.store.FailBatch(finishCtx, batch.ID, msg, res.counts()); ferr != nil {
			log.Error("failed to mark batch failed", "error", ferr)
		}
		log.Error("ingestion failed", "error", cause)
		return nil, cause
	}

	listings, err := e.source.FetchListings(ctx, w)
	if err != nil {
		return fail(fmt.Sprintf("fetch failed: %v", err),
			apperr.ExternalService("ingest", fmt.Sprintf("listing source unavailable; batch %s failed", batch.ID), err))
	}
	res.Fetched = len(listings)

	unique := make([]RawListing, 0, len(listings))
	seen := make(map[string]bool, len(listings))
	for i, l := range listings {
		if l.NoticeID == "" {
			res.Errors = append(res.Errors, fmt.Sprintf("listing %d (%q): missing notice id", i, TruncateText(l.Title, 80)))
			continue
		}
		if seen[l.NoticeID] {
			res.Deduplicated++
			continue
		}
		seen[l.NoticeID] = true
		unique = append(unique, l)
	}

	ids := make([]string, 0, len(unique))
	for _, l := range unique {
		ids = append(ids, l.NoticeID)
	}
	known, err := e.store.KnownNoticeIDs(ctx, ids)
	if err != nil {
		return fail(fmt.Sprintf("dedup lookup failed: %v", err), err)
	}
	for _, id := range ids {
		if known[id] {
			res.Deduplicated++
		}
	}

	now := e.now()
	filters := e.scorer.Rules().Filters
	for _, l := range unique {
		if err := ctx.Err(); err != nil {
			return fail("ingestion cancelled", err)
		}

		if reason := hardFilter(l, filters, now); reason != "" {
			res.Filtered[reason]++
			continue
		}
		res.PassedFilters++

		opp := e.buildOpportunity(ctx, batch.ID, l, now)
		if opp.RelevanceScore < e.ScoreFloor {
			continue
		}
		res.ScoredAboveThreshold++

		created, err := e.store.UpsertOpportunity(ctx, opp)
		if err != nil {
			log.Warn("failed to store listing", "notice_id", l.NoticeID, "error", err)
			res.Errors = append(res.Errors, fmt.Sprintf("notice %s: %v", l.NoticeID, err))
			continue
		}
		if created {
			res.Created++
		} else {
			res.Updated++
		}
		res.Opportunities = append(res.Opportunities, *opp)
	}

	if err := e.store.CompleteBatch(finishCtx, batch.ID, res.counts()); err != nil {
		log.Error("failed to complete batch", "error", err)
		return nil, err
	}

	log.Info("ingestion complete",
		"fetched", res.Fetched,
		"deduplicated", res.Deduplicated,
		"passed_filters", res.PassedFilters,
		"scored_above_threshold", res.ScoredAboveThreshold,
		"created", res.Created,
		"updated", res.Updated,
		"errors", len(res.Errors),
	)
	return res, nil
}

func (e *Engine) buildOpportunity(ctx context.Context, batchID string, l RawListing, now time.Time) *models.Opportunity {
	errs := append([]string{}, l.Errors...)
	texts := []string{l.Title, l.Description}

	if e.Attachments != nil && len(l.AttachmentURLs) > 0 {
		attachmentTexts, attachmentErrs := e.Attachments.Texts(ctx, l.AttachmentURLs)
		texts = append(texts, attachmentTexts...)
		errs = append(errs, attachmentErrs...)
		for _, msg := range attachmentErrs {
			e.logger.Debug("attachment skipped", "notice_id", l.NoticeID, "error", msg)
		}
	}

	opp := &models.Opportunity{
		NoticeID:           l.NoticeID,
		SolicitationNumber: l.SolicitationNumber,
		Title:              l.Title,
		Description:        l.Description,
		Agency:             l.Agency,
		NoticeType:         l.NoticeType,
		NAICSCodes:         l.NAICSCodes,
		PSCCodes:           l.PSCCodes,
		SetAsides:          l.SetAsides,
		PostedAt:           l.PostedAt,
		ResponseDeadline:   l.ResponseDeadline,
		UILink:             l.UILink,
		Keywords:           e.scorer.DetectKeywords(texts...),
		PipelineStatus:     models.StatusScored,
		BatchID:            batchID,
		Errors:             errs,
	}

	result := e.scorer.Score(scoring.AttributesOf(opp), now)
	opp.RelevanceScore = result.Score
	opp.Signals = result.Signals
	return opp
}
