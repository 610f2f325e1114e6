package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/david/contract-finder/internal/apperr"
	"github.com/david/contract-finder/internal/auth"
	"github.com/david/contract-finder/internal/db"
	"github.com/david/contract-finder/internal/ingest"
	"github.com/david/contract-finder/internal/linker"
	"github.com/david/contract-finder/internal/models"
	"github.com/david/contract-finder/internal/pipeline"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAdminSecret = "test-admin-secret"

type fakeStore struct {
	opps      map[uuid.UUID]*models.Opportunity
	actors    []string
	lastList  db.ListParams
	incumbent db.IncumbentFilter
	running   *models.IngestionBatch
}

func newFakeStore() *fakeStore {
	return &fakeStore{opps: map[uuid.UUID]*models.Opportunity{}}
}

func (f *fakeStore) add(title string) *models.Opportunity {
	o := &models.Opportunity{ID: uuid.New(), NoticeID: "N-" + title, Title: title, PipelineStatus: models.StatusScored}
	f.opps[o.ID] = o
	return o
}

func (f *fakeStore) get(op string, id uuid.UUID) (*models.Opportunity, error) {
	o, ok := f.opps[id]
	if !ok {
		return nil, apperr.NotFound(op, "opportunity not found")
	}
	return o, nil
}

func (f *fakeStore) GetOpportunity(ctx context.Context, id uuid.UUID) (*models.Opportunity, error) {
	return f.get("get opportunity", id)
}

func (f *fakeStore) ListOpportunities(ctx context.Context, params db.ListParams) (*db.ListResult, error) {
	f.lastList = params
	out := &db.ListResult{Opportunities: []models.Opportunity{}, Limit: params.Limit, Offset: params.Offset}
	for _, o := range f.opps {
		out.Opportunities = append(out.Opportunities, *o)
	}
	out.Total = len(out.Opportunities)
	return out, nil
}

func (f *fakeStore) SetFlagged(ctx context.Context, id uuid.UUID, flagged bool, actor string) (*models.Opportunity, error) {
	o, err := f.get("flag opportunity", id)
	if err != nil {
		return nil, err
	}
	f.actors = append(f.actors, actor)
	o.Flagged = flagged
	return o, nil
}

func (f *fakeStore) SetIgnored(ctx context.Context, id uuid.UUID, ignored bool, actor string) (*models.Opportunity, error) {
	o, err := f.get("ignore opportunity", id)
	if err != nil {
		return nil, err
	}
	f.actors = append(f.actors, actor)
	o.Ignored = ignored
	return o, nil
}

func (f *fakeStore) Dismiss(ctx context.Context, id uuid.UUID, reason, actor string) (*models.Opportunity, error) {
	o, err := f.get("dismiss opportunity", id)
	if err != nil {
		return nil, err
	}
	f.actors = append(f.actors, actor)
	o.Dismissed, o.Verified = true, false
	return o, nil
}

func (f *fakeStore) Verify(ctx context.Context, id uuid.UUID, actor string) (*models.Opportunity, error) {
	o, err := f.get("verify opportunity", id)
	if err != nil {
		return nil, err
	}
	f.actors = append(f.actors, actor)
	o.Verified, o.Dismissed = true, false
	return o, nil
}

func (f *fakeStore) DeleteOpportunity(ctx context.Context, id uuid.UUID) error {
	if _, err := f.get("delete opportunity", id); err != nil {
		return err
	}
	delete(f.opps, id)
	return nil
}

func (f *fakeStore) LinksForOpportunity(ctx context.Context, oppID uuid.UUID) ([]models.AwardLink, error) {
	return []models.AwardLink{}, nil
}

func (f *fakeStore) ListAwards(ctx context.Context, minScore, limit int) ([]models.HistoricalAward, error) {
	return []models.HistoricalAward{}, nil
}

func (f *fakeStore) IncumbentAwards(ctx context.Context, filter db.IncumbentFilter) ([]models.HistoricalAward, error) {
	f.incumbent = filter
	return []models.HistoricalAward{{ID: uuid.New(), RecipientName: "ACME FEDERAL SOLUTIONS LLC"}}, nil
}

func (f *fakeStore) GetBatch(ctx context.Context, id string) (*models.IngestionBatch, error) {
	return nil, apperr.NotFound("get batch", "batch not found")
}

func (f *fakeStore) RecentBatches(ctx context.Context, limit int) ([]models.IngestionBatch, error) {
	return []models.IngestionBatch{}, nil
}

func (f *fakeStore) ResetRunningBatch(ctx context.Context, actor string) (*models.IngestionBatch, error) {
	b := f.running
	f.running = nil
	return b, nil
}

type fakePipeline struct {
	opts   []pipeline.RunOptions
	runErr error
	status map[uuid.UUID]models.PipelineStatus
}

func (f *fakePipeline) Run(ctx context.Context, opts pipeline.RunOptions) (*pipeline.RunResult, error) {
	f.opts = append(f.opts, opts)
	if f.runErr != nil {
		return nil, f.runErr
	}
	return &pipeline.RunResult{Ingest: &ingest.Result{BatchID: "01HZBATCH", Created: 3}}, nil
}

func (f *fakePipeline) Status(ctx context.Context, id uuid.UUID) (*models.PipelineStatus, error) {
	st, ok := f.status[id]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (f *fakePipeline) Stats(ctx context.Context) (*pipeline.Stats, error) {
	return &pipeline.Stats{ByStatus: map[string]int{"scored": 2}, Total: 2}, nil
}

type fakeAI struct {
	err error
}

func (f *fakeAI) Analyze(ctx context.Context, id uuid.UUID) (*models.AIAnalysis, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.AIAnalysis{Summary: "Zero trust rollout", FitScore: 82}, nil
}

func (f *fakeAI) AwardLikelihood(ctx context.Context, id uuid.UUID) (*models.AwardLikelihood, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.AwardLikelihood{Score: 64, Confidence: 0.7}, nil
}

type fakeLinker struct{}

func (fakeLinker) LinkBidToAwards(ctx context.Context, oppID uuid.UUID) (*linker.Result, error) {
	return &linker.Result{Opportunities: 1, Links: []models.AwardLink{}, Errors: []string{}}, nil
}

func (fakeLinker) LinkAwardsToBids(ctx context.Context) (*linker.Result, error) {
	return &linker.Result{Links: []models.AwardLink{}, Errors: []string{}}, nil
}

type fakeAwards struct{}

func (fakeAwards) IngestAwards(ctx context.Context) (*ingest.AwardResult, error) {
	return nil, apperr.ExternalService("ingest awards", "award source unavailable", errors.New("503"))
}

type fakeAuth struct{}

func (fakeAuth) Signup(ctx context.Context, req auth.SignupRequest) (*auth.AuthResponse, error) {
	return nil, auth.ErrUserExists
}

func (fakeAuth) Login(ctx context.Context, req auth.LoginRequest) (*auth.AuthResponse, error) {
	return nil, auth.ErrInvalidCreds
}

type testEnv struct {
	srv      *Server
	store    *fakeStore
	pipeline *fakePipeline
	ai       *fakeAI
}

func newTestEnv() *testEnv {
	env := &testEnv{store: newFakeStore(), pipeline: &fakePipeline{}, ai: &fakeAI{}}
	env.srv = NewServer(Deps{
		Store:    env.store,
		Pipeline: env.pipeline,
		AI:       env.ai,
		Linker:   fakeLinker{},
		Awards:   fakeAwards{},
		Auth:     fakeAuth{},
	}, Options{
		AdminSecret: testAdminSecret,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return env
}

type response struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Kind      string `json:"kind"`
		Retryable bool   `json:"retryable"`
	} `json:"error"`
}

func (env *testEnv) do(t *testing.T, method, path, body string, admin bool) (int, response) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if admin {
		req.Header.Set("X-Admin-Secret", testAdminSecret)
	}
	rec := httptest.NewRecorder()
	env.srv.Echo.ServeHTTP(rec, req)

	var resp response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return rec.Code, resp
}

func TestGetOpportunity(t *testing.T) {
	env := newTestEnv()
	opp := env.store.add("Zero Trust")

	code, resp := env.do(t, http.MethodGet, "/api/v1/opportunities/"+opp.ID.String(), "", false)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Success)
	assert.Contains(t, string(resp.Data), "Zero Trust")

	code, resp = env.do(t, http.MethodGet, "/api/v1/opportunities/"+uuid.NewString(), "", false)
	assert.Equal(t, http.StatusNotFound, code)
	assert.False(t, resp.Success)
	assert.Equal(t, "not_found", resp.Error.Kind)

	code, resp = env.do(t, http.MethodGet, "/api/v1/opportunities/not-a-uuid", "", false)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "validation", resp.Error.Kind)
}

func TestListOpportunities_ParsesFilters(t *testing.T) {
	env := newTestEnv()
	env.store.add("A")

	code, _ := env.do(t, http.MethodGet, "/api/v1/opportunities?status=scored&flagged=true&min_score=60&limit=500&offset=20", "", false)
	require.Equal(t, http.StatusOK, code)
	p := env.store.lastList
	assert.Equal(t, "scored", p.Status)
	require.NotNil(t, p.Flagged)
	assert.True(t, *p.Flagged)
	assert.Nil(t, p.Dismissed)
	assert.Equal(t, 60, p.MinScore)
	assert.Equal(t, 20, p.Limit)
	assert.Equal(t, 20, p.Offset)
}

func TestAdminRoutesRequireAuth(t *testing.T) {
	env := newTestEnv()
	opp := env.store.add("A")

	code, resp := env.do(t, http.MethodPatch, "/api/v1/opportunities/"+opp.ID.String()+"/flag", `{"flagged":true}`, false)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.False(t, resp.Success)
	assert.Equal(t, "unauthorized", resp.Error.Kind)
	assert.False(t, opp.Flagged)
}

func TestLifecycleActions_RecordActor(t *testing.T) {
	env := newTestEnv()
	opp := env.store.add("A")
	base := "/api/v1/opportunities/" + opp.ID.String()

	code, resp := env.do(t, http.MethodPatch, base+"/flag", `{"flagged":true}`, true)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Opportunity flagged", resp.Message)
	assert.True(t, opp.Flagged)

	code, _ = env.do(t, http.MethodPatch, base+"/flag", `{}`, true)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = env.do(t, http.MethodPost, base+"/dismiss", `{"reason":"out of scope"}`, true)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, opp.Dismissed)

	code, _ = env.do(t, http.MethodPost, base+"/verify", `{"verifier":"capture lead"}`, true)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, opp.Verified)
	assert.False(t, opp.Dismissed)

	assert.Equal(t, []string{auth.AdminActor, auth.AdminActor, "capture lead"}, env.store.actors)

	code, _ = env.do(t, http.MethodDelete, base, "", true)
	require.Equal(t, http.StatusOK, code)
	code, _ = env.do(t, http.MethodDelete, base, "", true)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestAnalyze_ErrorMapping(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		code      int
		kind      string
		retryable bool
	}{
		{
			name: "not configured",
			err:  apperr.NotConfigured("analyze", "AI enrichment is not configured; set OPENAI_API_KEY"),
			code: http.StatusInternalServerError,
			kind: "not_configured",
		},
		{
			name:      "provider failure",
			err:       apperr.ExternalService("analyze", "enrichment failed", errors.New("429")),
			code:      http.StatusBadGateway,
			kind:      "external_service",
			retryable: true,
		},
		{
			name: "unknown error hides detail",
			err:  errors.New("pq: secret detail"),
			code: http.StatusInternalServerError,
			kind: "internal",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv()
			env.ai.err = tc.err
			code, resp := env.do(t, http.MethodPost, "/api/v1/opportunities/"+uuid.NewString()+"/analyze", "", true)
			assert.Equal(t, tc.code, code)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tc.kind, resp.Error.Kind)
			assert.Equal(t, tc.retryable, resp.Error.Retryable)
			assert.NotContains(t, resp.Message, "secret detail")
		})
	}
}

func TestAnalyze_Success(t *testing.T) {
	env := newTestEnv()
	code, resp := env.do(t, http.MethodPost, "/api/v1/opportunities/"+uuid.NewString()+"/award-likelihood", "", true)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Success)
	assert.Contains(t, string(resp.Data), "64")
}

func TestTriggerIngest(t *testing.T) {
	env := newTestEnv()

	code, resp := env.do(t, http.MethodPost, "/api/v1/ingest", `{"from":"2026-01-01","to":"2026-01-31","link":true}`, true)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(resp.Data), "01HZBATCH")
	require.Len(t, env.pipeline.opts, 1)
	got := env.pipeline.opts[0]
	assert.True(t, got.Link)
	require.NotNil(t, got.Window)
	assert.Equal(t, time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC), got.Window.To)

	code, _ = env.do(t, http.MethodPost, "/api/v1/ingest", "", true)
	require.Equal(t, http.StatusOK, code)
	assert.Nil(t, env.pipeline.opts[1].Window)

	code, resp = env.do(t, http.MethodPost, "/api/v1/ingest", `{"from":"2026-02-01","to":"2026-01-01"}`, true)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "validation", resp.Error.Kind)

	env.pipeline.runErr = apperr.Conflict("begin batch", "a batch is already running")
	code, resp = env.do(t, http.MethodPost, "/api/v1/ingest", "", true)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "a batch is already running", resp.Message)
}

func TestPipelineStats(t *testing.T) {
	env := newTestEnv()
	id := uuid.New()
	env.pipeline.status = map[uuid.UUID]models.PipelineStatus{id: models.StatusLinked}

	code, resp := env.do(t, http.MethodGet, "/api/v1/pipeline/stats", "", false)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(resp.Data), `"total":2`)

	code, resp = env.do(t, http.MethodGet, "/api/v1/pipeline/stats?contract_id="+id.String(), "", false)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(resp.Data), `"pipeline_status":"linked"`)

	code, _ = env.do(t, http.MethodGet, "/api/v1/pipeline/stats?contract_id="+uuid.NewString(), "", false)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestIncumbents_Filters(t *testing.T) {
	env := newTestEnv()

	code, _ := env.do(t, http.MethodGet, "/api/v1/incumbents?agency=Navy&naics=541512&min_amount=1000000", "", false)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, db.IncumbentFilter{Agency: "Navy", NAICSCode: "541512", MinAmount: 1000000, Limit: 50}, env.store.incumbent)

	code, _ = env.do(t, http.MethodGet, "/api/v1/incumbents?min_amount=lots", "", false)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestResetBatchAndAwardIngest(t *testing.T) {
	env := newTestEnv()
	env.store.running = &models.IngestionBatch{ID: "01HZSTUCK", Status: models.BatchIdle}

	code, resp := env.do(t, http.MethodPost, "/api/v1/batches/reset", "", true)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Batch reset to idle", resp.Message)

	_, resp = env.do(t, http.MethodPost, "/api/v1/batches/reset", "", true)
	assert.Equal(t, "No batch was running", resp.Message)

	code, resp = env.do(t, http.MethodPost, "/api/v1/awards/ingest", "", true)
	assert.Equal(t, http.StatusBadGateway, code)
	assert.True(t, resp.Error.Retryable)
}

func TestAuthRoutes(t *testing.T) {
	env := newTestEnv()

	code, resp := env.do(t, http.MethodPost, "/api/v1/auth/login", `{"email":"a@b.co","password":"wrongpass"}`, false)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "Invalid credentials", resp.Message)

	code, resp = env.do(t, http.MethodPost, "/api/v1/auth/signup", `{"email":"a@b.co","password":"longenough"}`, false)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "conflict", resp.Error.Kind)
}

func TestUnknownRouteUsesEnvelope(t *testing.T) {
	env := newTestEnv()
	code, resp := env.do(t, http.MethodGet, "/nope", "", false)
	assert.Equal(t, http.StatusNotFound, code)
	assert.False(t, resp.Success)
}
