package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/david/contract-finder/internal/ingest"
	"github.com/david/contract-finder/internal/linker"
	"github.com/david/contract-finder/internal/models"
	"github.com/google/uuid"
)

type Ingester interface {
	Ingest(ctx context.Context, w ingest.Window) (*ingest.Result, error)
}

type Linker interface {
	LinkOpportunities(ctx context.Context, opps []models.Opportunity) (*linker.Result, error)
}

// Store is the read side the orchestrator aggregates over.
type Store interface {
	GetPipelineStatus(ctx context.Context, id uuid.UUID) (*models.PipelineStatus, error)
	PipelineStatusCounts(ctx context.Context) (map[string]int, error)
	LatestBatch(ctx context.Context) (*models.IngestionBatch, error)
}

// RunOptions controls one pipeline run. A nil Window means the rolling
// window ending now.
type RunOptions struct {
	Window *ingest.Window
	Link   bool
}

type RunResult struct {
	Ingest  *ingest.Result `json:"ingest"`
	Linking *linker.Result `json:"linking,omitempty"`
}

type Stats struct {
	ByStatus    map[string]int         `json:"by_status"`
	Total       int                    `json:"total"`
	LatestBatch *models.IngestionBatch `json:"latest_batch"`
}

type Orchestrator struct {
	ingester Ingester
	linker   Linker
	store    Store

	WindowDays int

	logger *slog.Logger
	now    func() time.Time
}

func NewOrchestrator(ingester Ingester, l Linker, store Store, windowDays int) *Orchestrator {
	return &Orchestrator{
		ingester:   ingester,
		linker:     l,
		store:      store,
		WindowDays: windowDays,
		logger:     slog.Default(),
		now:        time.Now,
	}
}

func (o *Orchestrator) WithLogger(l *slog.Logger) *Orchestrator {
	o.logger = l
	return o
}

func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// Run ingests one batch and, when asked, links the batch's stored
// opportunities to historical awards. Linking failures are recorded in the
// linking result; the ingestion result is returned either way.
func (o *Orchestrator) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	w := ingest.RollingWindow(o.now(), o.WindowDays)
	if opts.Window != nil {
		w = *opts.Window
	}

	res, err := o.ingester.Ingest(ctx, w)
	if err != nil {
		return nil, err
	}
	out := &RunResult{Ingest: res}

	if !opts.Link || o.linker == nil || len(res.Opportunities) == 0 {
		return out, nil
	}

	linked, err := o.linker.LinkOpportunities(ctx, res.Opportunities)
	if err != nil {
		o.logger.Warn("post-ingest linking failed", "batch_id", res.BatchID, "error", err)
		if linked == nil {
			linked = &linker.Result{Links: []models.AwardLink{}, Errors: []string{}}
		}
		linked.Errors = append(linked.Errors, "linking: "+err.Error())
	}
	out.Linking = linked
	return out, nil
}

// Status returns the pipeline status of one opportunity, nil when the id
// does not resolve.
func (o *Orchestrator) Status(ctx context.Context, id uuid.UUID) (*models.PipelineStatus, error) {
	return o.store.GetPipelineStatus(ctx, id)
}

func (o *Orchestrator) Stats(ctx context.Context) (*Stats, error) {
	counts, err := o.store.PipelineStatusCounts(ctx)
	if err != nil {
		return nil, err
	}
	latest, err := o.store.LatestBatch(ctx)
	if err != nil {
		return nil, err
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	return &Stats{ByStatus: counts, Total: total, LatestBatch: latest}, nil
}
