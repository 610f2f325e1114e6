package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/david/contract-finder/internal/apperr"
	"github.com/david/contract-finder/internal/ingest"
	"github.com/david/contract-finder/internal/linker"
	"github.com/david/contract-finder/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeIngester struct {
	mu      sync.Mutex
	windows []ingest.Window
	result  *ingest.Result
	err     error
}

func (f *fakeIngester) Ingest(ctx context.Context, w ingest.Window) (*ingest.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.windows = append(f.windows, w)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeLinker struct {
	got []models.Opportunity
	err error
}

func (f *fakeLinker) LinkOpportunities(ctx context.Context, opps []models.Opportunity) (*linker.Result, error) {
	f.got = opps
	if f.err != nil {
		return nil, f.err
	}
	return &linker.Result{Opportunities: len(opps), Created: 1, Links: []models.AwardLink{}, Errors: []string{}}, nil
}

type fakeStore struct {
	statuses map[uuid.UUID]models.PipelineStatus
	counts   map[string]int
	latest   *models.IngestionBatch
	err      error
}

func (f *fakeStore) GetPipelineStatus(ctx context.Context, id uuid.UUID) (*models.PipelineStatus, error) {
	st, ok := f.statuses[id]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (f *fakeStore) PipelineStatusCounts(ctx context.Context) (map[string]int, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.counts, nil
}

func (f *fakeStore) LatestBatch(ctx context.Context) (*models.IngestionBatch, error) {
	return f.latest, nil
}

func batchResult(opps ...models.Opportunity) *ingest.Result {
	return &ingest.Result{BatchID: "01HZBATCH", Created: len(opps), Opportunities: opps, Errors: []string{}}
}

func TestRun_UsesRollingWindowByDefault(t *testing.T) {
	ing := &fakeIngester{result: batchResult()}
	o := NewOrchestrator(ing, nil, &fakeStore{}, 14).WithClock(func() time.Time { return testNow }).WithLogger(quiet)

	res, err := o.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Nil(t, res.Linking)
	require.Len(t, ing.windows, 1)
	assert.Equal(t, testNow.AddDate(0, 0, -14), ing.windows[0].From)
	assert.Equal(t, testNow, ing.windows[0].To)

	custom := ingest.Window{From: testNow.AddDate(0, -2, 0), To: testNow.AddDate(0, -1, 0)}
	_, err = o.Run(context.Background(), RunOptions{Window: &custom})
	require.NoError(t, err)
	assert.Equal(t, custom, ing.windows[1])
}

func TestRun_LinksBatchOpportunities(t *testing.T) {
	opps := []models.Opportunity{{ID: uuid.New(), NoticeID: "a"}, {ID: uuid.New(), NoticeID: "b"}}
	lk := &fakeLinker{}
	o := NewOrchestrator(&fakeIngester{result: batchResult(opps...)}, lk, &fakeStore{}, 30).WithLogger(quiet)

	res, err := o.Run(context.Background(), RunOptions{Link: true})
	require.NoError(t, err)
	require.NotNil(t, res.Linking)
	assert.Equal(t, 2, res.Linking.Opportunities)
	assert.Equal(t, opps, lk.got)
}

func TestRun_LinkFailureKeepsIngestResult(t *testing.T) {
	lk := &fakeLinker{err: errors.New("awards table unavailable")}
	o := NewOrchestrator(&fakeIngester{result: batchResult(models.Opportunity{ID: uuid.New()})}, lk, &fakeStore{}, 30).WithLogger(quiet)

	res, err := o.Run(context.Background(), RunOptions{Link: true})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Ingest.Created)
	require.Len(t, res.Linking.Errors, 1)
	assert.Contains(t, res.Linking.Errors[0], "awards table unavailable")
}

// awardStore backs a real linker with one award that every test
// opportunity matches.
type awardStore struct {
	award models.HistoricalAward
	links map[uuid.UUID]bool
}

func (s *awardStore) GetOpportunity(ctx context.Context, id uuid.UUID) (*models.Opportunity, error) {
	return nil, apperr.NotFound("get opportunity", "opportunity not found")
}

func (s *awardStore) LinkCandidates(ctx context.Context) ([]models.Opportunity, error) {
	return nil, nil
}

func (s *awardStore) AllAwards(ctx context.Context) ([]models.HistoricalAward, error) {
	return []models.HistoricalAward{s.award}, nil
}

func (s *awardStore) LinkedAwardIDs(ctx context.Context, oppID uuid.UUID) (map[uuid.UUID]bool, error) {
	return map[uuid.UUID]bool{}, nil
}

func (s *awardStore) CreateLink(ctx context.Context, link *models.AwardLink) (bool, error) {
	s.links[link.OpportunityID] = true
	return true, nil
}

func (s *awardStore) MarkLinked(ctx context.Context, oppID uuid.UUID) error {
	return nil
}

func TestRun_PostIngestLinkingSkipsDismissedAndIgnored(t *testing.T) {
	notice := func(noticeID string) models.Opportunity {
		return models.Opportunity{
			ID:             uuid.New(),
			NoticeID:       noticeID,
			Title:          "Zero Trust Architecture Implementation",
			Description:    "Recompete of the NAVSEA zero trust architecture effort currently performed by Acme Federal Solutions.",
			Agency:         "DEPT OF DEFENSE.DEPT OF THE NAVY.NAVSEA",
			NAICSCodes:     []string{"541512"},
			Keywords:       []string{"zero trust"},
			PipelineStatus: models.StatusScored,
		}
	}
	active := notice("N0")
	dismissed := notice("N1")
	dismissed.Dismissed = true
	ignored := notice("N2")
	ignored.Ignored = true
	ignored.PipelineStatus = models.StatusIgnored

	store := &awardStore{
		award: models.HistoricalAward{
			ID:            uuid.New(),
			AwardID:       "N00024-21-C-0001",
			RecipientName: "ACME FEDERAL SOLUTIONS LLC",
			Agency:        "Department of Defense",
			SubAgency:     "Department of the Navy",
			Description:   "ZERO TRUST ARCHITECTURE ENGINEERING",
			NAICSCode:     "541512",
		},
		links: map[uuid.UUID]bool{},
	}
	lk := linker.New(store).WithLogger(quiet)
	o := NewOrchestrator(&fakeIngester{result: batchResult(active, dismissed, ignored)}, lk, &fakeStore{}, 30).WithLogger(quiet)

	res, err := o.Run(context.Background(), RunOptions{Link: true})
	require.NoError(t, err)
	require.NotNil(t, res.Linking)
	assert.Equal(t, 1, res.Linking.Opportunities)
	assert.Equal(t, 1, res.Linking.Created)
	assert.True(t, store.links[active.ID])
	assert.False(t, store.links[dismissed.ID])
	assert.False(t, store.links[ignored.ID])
}

func TestRun_IngestErrorPropagates(t *testing.T) {
	o := NewOrchestrator(&fakeIngester{err: apperr.Conflict("begin batch", "a batch is already running")}, nil, &fakeStore{}, 30)
	_, err := o.Run(context.Background(), RunOptions{})
	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

func TestStatusAndStats(t *testing.T) {
	id := uuid.New()
	latest := &models.IngestionBatch{ID: "01HZBATCH", Status: models.BatchCompleted}
	store := &fakeStore{
		statuses: map[uuid.UUID]models.PipelineStatus{id: models.StatusEnriched},
		counts:   map[string]int{"scored": 4, "enriched": 2, "linked": 1},
		latest:   latest,
	}
	o := NewOrchestrator(&fakeIngester{}, nil, store, 30)

	st, err := o.Status(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, models.StatusEnriched, *st)

	st, err = o.Status(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, st)

	stats, err := o.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, stats.Total)
	assert.Equal(t, latest, stats.LatestBatch)

	store.err = apperr.Persistence("pipeline status counts", errors.New("down"))
	_, err = o.Stats(context.Background())
	assert.True(t, apperr.Is(err, apperr.KindPersistence))
}

type countingRunner struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (r *countingRunner) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return &RunResult{Ingest: batchResult()}, nil
}

func TestNewScheduler_RejectsBadSpec(t *testing.T) {
	_, err := NewScheduler("every tuesday", &countingRunner{}, RunOptions{})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestScheduler_TickToleratesRunningBatch(t *testing.T) {
	r := &countingRunner{err: apperr.Conflict("begin batch", "a batch is already running")}
	s, err := NewScheduler("@every 1h", r, RunOptions{})
	require.NoError(t, err)
	s.WithLogger(quiet)

	s.tick()
	r.err = nil
	s.tick()
	assert.Equal(t, 2, r.calls)
	require.NoError(t, s.Stop(context.Background()))
}

func TestScheduler_StartStop(t *testing.T) {
	s, err := NewScheduler("0 6 * * *", &countingRunner{}, RunOptions{Link: true})
	require.NoError(t, err)
	s.WithLogger(quiet)

	s.Start()
	next := s.Next()
	assert.Equal(t, 6, next.Hour())
	assert.True(t, next.After(time.Now()))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Stop(ctx))
}
