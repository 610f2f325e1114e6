package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/david/contract-finder/internal/apperr"
	"github.com/robfig/cron/v3"
)

// Runner is what the scheduler fires on each tick.
type Runner interface {
	Run(ctx context.Context, opts RunOptions) (*RunResult, error)
}

// Scheduler triggers pipeline runs on a cron schedule. A tick that finds a
// batch already running is skipped.
type Scheduler struct {
	cron    *cron.Cron
	runner  Runner
	opts    RunOptions
	timeout time.Duration
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// NewScheduler parses spec (standard five-field cron or a descriptor such as
// "@every 6h") and registers the run.
func NewScheduler(spec string, runner Runner, opts RunOptions) (*Scheduler, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:    cron.New(cron.WithLocation(time.UTC)),
		runner:  runner,
		opts:    opts,
		timeout: 30 * time.Minute,
		logger:  slog.Default(),
		ctx:     ctx,
		cancel:  cancel,
	}
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		cancel()
		return nil, apperr.Validation("schedule", fmt.Sprintf("invalid ingest schedule %q: %v", spec, err))
	}
	return s, nil
}

func (s *Scheduler) WithLogger(l *slog.Logger) *Scheduler {
	s.logger = l
	return s
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("ingest scheduler started", "next_run", s.Next())
}

// Stop halts the schedule, cancels a run in flight and waits for it to
// return or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	var err error
	s.once.Do(func() {
		done := s.cron.Stop()
		s.cancel()
		select {
		case <-done.Done():
		case <-ctx.Done():
			err = ctx.Err()
		}
		s.logger.Info("ingest scheduler stopped")
	})
	return err
}

// Next reports when the next run fires, zero before Start.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	start := time.Now()
	res, err := s.runner.Run(ctx, s.opts)
	switch {
	case apperr.Is(err, apperr.KindConflict):
		s.logger.Info("scheduled ingestion skipped; a batch is already running")
	case err != nil:
		s.logger.Error("scheduled ingestion failed", "error", err)
	default:
		s.logger.Info("scheduled ingestion complete",
			"batch_id", res.Ingest.BatchID,
			"created", res.Ingest.Created,
			"updated", res.Ingest.Updated,
			"duration", time.Since(start).Round(time.Millisecond),
		)
	}
}
