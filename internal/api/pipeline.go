package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/david/contract-finder/internal/apperr"
	"github.com/david/contract-finder/internal/auth"
	"github.com/david/contract-finder/internal/db"
	"github.com/david/contract-finder/internal/ingest"
	"github.com/david/contract-finder/internal/pipeline"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type ingestRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
	Link bool   `json:"link"`
}

// runOptions turns the request into pipeline options. Dates are YYYY-MM-DD;
// omitting both uses the rolling window.
func (r ingestRequest) runOptions() (pipeline.RunOptions, error) {
	opts := pipeline.RunOptions{Link: r.Link}
	from, to := strings.TrimSpace(r.From), strings.TrimSpace(r.To)
	if from == "" && to == "" {
		return opts, nil
	}
	if from == "" || to == "" {
		return opts, apperr.Validation("ingest", "both from and to are required for a custom window")
	}

	fromT, err := time.Parse(time.DateOnly, from)
	if err != nil {
		return opts, apperr.Validation("ingest", "from must be YYYY-MM-DD")
	}
	toT, err := time.Parse(time.DateOnly, to)
	if err != nil {
		return opts, apperr.Validation("ingest", "to must be YYYY-MM-DD")
	}
	if toT.Before(fromT) {
		return opts, apperr.Validation("ingest", "to must not be before from")
	}
	opts.Window = &ingest.Window{From: fromT, To: toT}
	return opts, nil
}

// handleTriggerIngest runs one batch synchronously. The run is detached
// from the request context, so a client that disconnects does not abort it.
func (s *Server) handleTriggerIngest(c echo.Context) error {
	var req ingestRequest
	if err := c.Bind(&req); err != nil {
		return s.respondErr(c, apperr.Validation("ingest", "invalid request body"))
	}
	opts, err := req.runOptions()
	if err != nil {
		return s.respondErr(c, err)
	}

	s.logger.Info("ingestion triggered", "actor", auth.ActorFromContext(c), "link", opts.Link)
	res, err := s.Pipeline.Run(context.WithoutCancel(c.Request().Context()), opts)
	if err != nil {
		return s.respondErr(c, err)
	}
	return ok(c, http.StatusOK, "Ingestion complete", res)
}

// handlePipelineStats returns aggregate counts, or one opportunity's status
// when contract_id is given.
func (s *Server) handlePipelineStats(c echo.Context) error {
	ctx := c.Request().Context()

	if raw := c.QueryParam("contract_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return s.respondErr(c, apperr.Validation("pipeline status", "invalid contract_id"))
		}
		status, err := s.Pipeline.Status(ctx, id)
		if err != nil {
			return s.respondErr(c, err)
		}
		if status == nil {
			return s.respondErr(c, apperr.NotFound("pipeline status", "opportunity not found"))
		}
		return ok(c, http.StatusOK, "", map[string]interface{}{
			"contract_id":     id,
			"pipeline_status": *status,
		})
	}

	stats, err := s.Pipeline.Stats(ctx)
	if err != nil {
		return s.respondErr(c, err)
	}
	return ok(c, http.StatusOK, "", stats)
}

func (s *Server) handleListBatches(c echo.Context) error {
	limit := 10
	if l, err := strconv.Atoi(c.QueryParam("limit")); err == nil && l > 0 && l <= 100 {
		limit = l
	}
	batches, err := s.Store.RecentBatches(c.Request().Context(), limit)
	if err != nil {
		return s.respondErr(c, err)
	}
	return ok(c, http.StatusOK, "", batches)
}

func (s *Server) handleGetBatch(c echo.Context) error {
	batch, err := s.Store.GetBatch(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.respondErr(c, err)
	}
	return ok(c, http.StatusOK, "", batch)
}

func (s *Server) handleResetBatch(c echo.Context) error {
	actor := auth.ActorFromContext(c)
	batch, err := s.Store.ResetRunningBatch(c.Request().Context(), actor)
	if err != nil {
		return s.respondErr(c, err)
	}
	if batch == nil {
		return ok(c, http.StatusOK, "No batch was running", nil)
	}
	s.logger.Warn("running batch reset", "batch_id", batch.ID, "actor", actor)
	return ok(c, http.StatusOK, "Batch reset to idle", batch)
}

func (s *Server) handleIngestAwards(c echo.Context) error {
	res, err := s.Awards.IngestAwards(context.WithoutCancel(c.Request().Context()))
	if err != nil {
		return s.respondErr(c, err)
	}
	return ok(c, http.StatusOK, "Award ingestion complete", res)
}

func (s *Server) handleListAwards(c echo.Context) error {
	minScore, limit := 0, 50
	if v, err := strconv.Atoi(c.QueryParam("min_score")); err == nil && v >= 0 && v <= 100 {
		minScore = v
	}
	if v, err := strconv.Atoi(c.QueryParam("limit")); err == nil && v > 0 && v <= 500 {
		limit = v
	}
	awards, err := s.Store.ListAwards(c.Request().Context(), minScore, limit)
	if err != nil {
		return s.respondErr(c, err)
	}
	return ok(c, http.StatusOK, "", awards)
}

func (s *Server) handleIncumbents(c echo.Context) error {
	f := db.IncumbentFilter{
		Agency:    strings.TrimSpace(c.QueryParam("agency")),
		NAICSCode: strings.TrimSpace(c.QueryParam("naics")),
		Limit:     50,
	}
	if raw := c.QueryParam("min_amount"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 {
			return s.respondErr(c, apperr.Validation("incumbents", "min_amount must be a non-negative number"))
		}
		f.MinAmount = v
	}
	if v, err := strconv.Atoi(c.QueryParam("limit")); err == nil && v > 0 && v <= 500 {
		f.Limit = v
	}

	awards, err := s.Store.IncumbentAwards(c.Request().Context(), f)
	if err != nil {
		return s.respondErr(c, err)
	}
	return ok(c, http.StatusOK, "", awards)
}

func (s *Server) handleLinkOne(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return s.respondErr(c, err)
	}
	res, err := s.Linker.LinkBidToAwards(c.Request().Context(), id)
	if err != nil {
		return s.respondErr(c, err)
	}
	return ok(c, http.StatusOK, "Linking complete", res)
}

func (s *Server) handleLinkAll(c echo.Context) error {
	res, err := s.Linker.LinkAwardsToBids(context.WithoutCancel(c.Request().Context()))
	if err != nil {
		return s.respondErr(c, err)
	}
	return ok(c, http.StatusOK, "Linking complete", res)
}
