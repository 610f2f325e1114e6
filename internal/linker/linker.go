package linker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/david/contract-finder/internal/models"
	"github.com/google/uuid"
)

// Store is the persistence the linker needs.
type Store interface {
	GetOpportunity(ctx context.Context, id uuid.UUID) (*models.Opportunity, error)
	LinkCandidates(ctx context.Context) ([]models.Opportunity, error)
	AllAwards(ctx context.Context) ([]models.HistoricalAward, error)
	LinkedAwardIDs(ctx context.Context, oppID uuid.UUID) (map[uuid.UUID]bool, error)
	CreateLink(ctx context.Context, link *models.AwardLink) (bool, error)
	MarkLinked(ctx context.Context, oppID uuid.UUID) error
}

// Result summarizes a linking run. Existing counts pairs that were already
// linked and left untouched.
type Result struct {
	Opportunities int                `json:"opportunities"`
	Compared      int                `json:"compared"`
	Created       int                `json:"created"`
	Existing      int                `json:"existing"`
	Links         []models.AwardLink `json:"links"`
	Errors        []string           `json:"errors"`
}

func newResult() *Result {
	return &Result{Links: []models.AwardLink{}, Errors: []string{}}
}

type Linker struct {
	store  Store
	logger *slog.Logger
}

func New(store Store) *Linker {
	return &Linker{store: store, logger: slog.Default()}
}

func (l *Linker) WithLogger(logger *slog.Logger) *Linker {
	l.logger = logger
	return l
}

// LinkBidToAwards compares one opportunity against every historical award.
func (l *Linker) LinkBidToAwards(ctx context.Context, oppID uuid.UUID) (*Result, error) {
	opp, err := l.store.GetOpportunity(ctx, oppID)
	if err != nil {
		return nil, err
	}
	awards, err := l.store.AllAwards(ctx)
	if err != nil {
		return nil, err
	}

	res := newResult()
	if err := l.linkOne(ctx, opp, awards, res); err != nil {
		return nil, err
	}
	return res, nil
}

// LinkAwardsToBids links every candidate opportunity (not dismissed, not
// ignored, not yet linked). A failing opportunity is recorded and skipped.
func (l *Linker) LinkAwardsToBids(ctx context.Context) (*Result, error) {
	opps, err := l.store.LinkCandidates(ctx)
	if err != nil {
		return nil, err
	}
	return l.LinkOpportunities(ctx, opps)
}

// LinkOpportunities links the given opportunities against all awards.
// Dismissed and ignored opportunities are skipped.
func (l *Linker) LinkOpportunities(ctx context.Context, opps []models.Opportunity) (*Result, error) {
	res := newResult()
	eligible := make([]*models.Opportunity, 0, len(opps))
	for i := range opps {
		if opps[i].Dismissed || opps[i].Ignored {
			continue
		}
		eligible = append(eligible, &opps[i])
	}
	if len(eligible) == 0 {
		return res, nil
	}
	awards, err := l.store.AllAwards(ctx)
	if err != nil {
		return nil, err
	}

	for _, opp := range eligible {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := l.linkOne(ctx, opp, awards, res); err != nil {
			l.logger.Warn("linking failed", "opportunity_id", opp.ID, "error", err)
			res.Errors = append(res.Errors, fmt.Sprintf("opportunity %s: %v", opp.ID, err))
		}
	}

	l.logger.Info("award linking complete",
		"opportunities", res.Opportunities,
		"awards", len(awards),
		"created", res.Created,
		"existing", res.Existing,
		"errors", len(res.Errors),
	)
	return res, nil
}

func (l *Linker) linkOne(ctx context.Context, opp *models.Opportunity, awards []models.HistoricalAward, res *Result) error {
	res.Opportunities++
	linked, err := l.store.LinkedAwardIDs(ctx, opp.ID)
	if err != nil {
		return err
	}

	created := 0
	for i := range awards {
		award := &awards[i]
		if linked[award.ID] {
			res.Existing++
			continue
		}
		res.Compared++

		d := Match(opp, award)
		if !d.Link {
			continue
		}

		link := &models.AwardLink{
			OpportunityID: opp.ID,
			AwardID:       award.ID,
			Confidence:    d.Confidence,
			Criteria:      d.Matched,
		}
		ok, err := l.store.CreateLink(ctx, link)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("opportunity %s award %s: %v", opp.ID, award.AwardID, err))
			continue
		}
		if !ok {
			res.Existing++
			continue
		}
		created++
		res.Created++
		link.Award = award
		res.Links = append(res.Links, *link)
		l.logger.Debug("award linked", "opportunity_id", opp.ID, "award_id", award.AwardID, "confidence", d.Confidence, "criteria", d.Matched)
	}

	// Re-running over links that already exist only touches a row whose
	// status still trails them.
	advance := models.CanAdvance(opp.PipelineStatus, models.StatusLinked)
	if created == 0 && (len(linked) == 0 || !advance) {
		return nil
	}
	if err := l.store.MarkLinked(ctx, opp.ID); err != nil {
		return err
	}
	if advance {
		opp.PipelineStatus = models.StatusLinked
	}
	return nil
}
