package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/david/contract-finder/internal/auth"
	"github.com/david/contract-finder/internal/db"
	"github.com/david/contract-finder/internal/ingest"
	"github.com/david/contract-finder/internal/linker"
	"github.com/david/contract-finder/internal/models"
	"github.com/david/contract-finder/internal/pipeline"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Store is the slice of the opportunity, award and batch store the HTTP
// boundary reads and writes directly.
type Store interface {
	GetOpportunity(ctx context.Context, id uuid.UUID) (*models.Opportunity, error)
	ListOpportunities(ctx context.Context, params db.ListParams) (*db.ListResult, error)
	SetFlagged(ctx context.Context, id uuid.UUID, flagged bool, actor string) (*models.Opportunity, error)
	SetIgnored(ctx context.Context, id uuid.UUID, ignored bool, actor string) (*models.Opportunity, error)
	Dismiss(ctx context.Context, id uuid.UUID, reason, actor string) (*models.Opportunity, error)
	Verify(ctx context.Context, id uuid.UUID, actor string) (*models.Opportunity, error)
	DeleteOpportunity(ctx context.Context, id uuid.UUID) error
	LinksForOpportunity(ctx context.Context, oppID uuid.UUID) ([]models.AwardLink, error)

	ListAwards(ctx context.Context, minScore, limit int) ([]models.HistoricalAward, error)
	IncumbentAwards(ctx context.Context, f db.IncumbentFilter) ([]models.HistoricalAward, error)

	GetBatch(ctx context.Context, id string) (*models.IngestionBatch, error)
	RecentBatches(ctx context.Context, limit int) ([]models.IngestionBatch, error)
	ResetRunningBatch(ctx context.Context, actor string) (*models.IngestionBatch, error)
}

type Pipeline interface {
	Run(ctx context.Context, opts pipeline.RunOptions) (*pipeline.RunResult, error)
	Status(ctx context.Context, id uuid.UUID) (*models.PipelineStatus, error)
	Stats(ctx context.Context) (*pipeline.Stats, error)
}

type Enrichment interface {
	Analyze(ctx context.Context, id uuid.UUID) (*models.AIAnalysis, error)
	AwardLikelihood(ctx context.Context, id uuid.UUID) (*models.AwardLikelihood, error)
}

type Linker interface {
	LinkBidToAwards(ctx context.Context, oppID uuid.UUID) (*linker.Result, error)
	LinkAwardsToBids(ctx context.Context) (*linker.Result, error)
}

type AwardIngester interface {
	IngestAwards(ctx context.Context) (*ingest.AwardResult, error)
}

type Authenticator interface {
	Signup(ctx context.Context, req auth.SignupRequest) (*auth.AuthResponse, error)
	Login(ctx context.Context, req auth.LoginRequest) (*auth.AuthResponse, error)
}

// Deps are the services behind the routes.
type Deps struct {
	Store    Store
	Pipeline Pipeline
	AI       Enrichment
	Linker   Linker
	Awards   AwardIngester
	Auth     Authenticator
}

type Options struct {
	AdminSecret string
	CORSOrigins []string
	Logger      *slog.Logger
}

type Server struct {
	Deps
	Echo   *echo.Echo
	logger *slog.Logger
}

func NewServer(deps Deps, opts Options) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:4200"}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "X-Admin-Secret"},
	}))

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{Deps: deps, Echo: e, logger: logger}
	e.HTTPErrorHandler = s.handleHTTPError
	s.routes(opts.AdminSecret)
	return s
}

func (s *Server) routes(adminSecret string) {
	s.Echo.GET("/health", s.handleHealth)
	api := s.Echo.Group("/api/v1")

	// Public reads
	api.GET("/opportunities", s.handleListOpportunities)
	api.GET("/opportunities/:id", s.handleGetOpportunity)
	api.GET("/opportunities/:id/links", s.handleGetLinks)
	api.GET("/pipeline/stats", s.handlePipelineStats)
	api.GET("/awards", s.handleListAwards)
	api.GET("/incumbents", s.handleIncumbents)

	// Auth Routes
	api.POST("/auth/signup", s.handleSignup)
	api.POST("/auth/login", s.handleLogin)

	// Admin Routes
	admin := api.Group("")
	admin.Use(auth.AdminMiddleware(adminSecret))
	admin.POST("/ingest", s.handleTriggerIngest)
	admin.GET("/batches", s.handleListBatches)
	admin.GET("/batches/:id", s.handleGetBatch)
	admin.POST("/batches/reset", s.handleResetBatch)
	admin.POST("/awards/ingest", s.handleIngestAwards)
	admin.POST("/link", s.handleLinkAll)

	admin.PATCH("/opportunities/:id/flag", s.handleFlag)
	admin.PATCH("/opportunities/:id/ignore", s.handleIgnore)
	admin.POST("/opportunities/:id/dismiss", s.handleDismiss)
	admin.POST("/opportunities/:id/verify", s.handleVerify)
	admin.DELETE("/opportunities/:id", s.handleDeleteOpportunity)
	admin.POST("/opportunities/:id/analyze", s.handleAnalyze)
	admin.POST("/opportunities/:id/award-likelihood", s.handleAwardLikelihood)
	admin.POST("/opportunities/:id/link", s.handleLinkOne)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

func (s *Server) Start(addr string) error {
	return s.Echo.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.Echo.Shutdown(ctx)
}
