package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/david/contract-finder/internal/apperr"
	"github.com/david/contract-finder/internal/auth"
	"github.com/david/contract-finder/internal/db"
	"github.com/labstack/echo/v4"
)

func (s *Server) handleListOpportunities(c echo.Context) error {
	params := db.ListParams{
		Status:  c.QueryParam("status"),
		BatchID: c.QueryParam("batch_id"),
		Limit:   20,
	}
	if l, err := strconv.Atoi(c.QueryParam("limit")); err == nil && l > 0 && l <= 100 {
		params.Limit = l
	}
	if o, err := strconv.Atoi(c.QueryParam("offset")); err == nil && o >= 0 {
		params.Offset = o
	}
	if v, err := strconv.Atoi(c.QueryParam("min_score")); err == nil && v > 0 {
		params.MinScore = v
	}
	if v, err := strconv.ParseBool(c.QueryParam("flagged")); err == nil {
		params.Flagged = &v
	}
	if v, err := strconv.ParseBool(c.QueryParam("dismissed")); err == nil {
		params.Dismissed = &v
	}

	result, err := s.Store.ListOpportunities(c.Request().Context(), params)
	if err != nil {
		return s.respondErr(c, err)
	}
	return ok(c, http.StatusOK, "", result)
}

func (s *Server) handleGetOpportunity(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return s.respondErr(c, err)
	}
	opp, err := s.Store.GetOpportunity(c.Request().Context(), id)
	if err != nil {
		return s.respondErr(c, err)
	}
	return ok(c, http.StatusOK, "", opp)
}

func (s *Server) handleGetLinks(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return s.respondErr(c, err)
	}
	links, err := s.Store.LinksForOpportunity(c.Request().Context(), id)
	if err != nil {
		return s.respondErr(c, err)
	}
	return ok(c, http.StatusOK, "", links)
}

type flagRequest struct {
	Flagged *bool `json:"flagged"`
}

type ignoreRequest struct {
	Ignored *bool `json:"ignored"`
}

type dismissRequest struct {
	Reason string `json:"reason"`
}

type verifyRequest struct {
	Verifier string `json:"verifier"`
}

func (s *Server) handleFlag(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return s.respondErr(c, err)
	}
	var req flagRequest
	if err := c.Bind(&req); err != nil || req.Flagged == nil {
		return s.respondErr(c, apperr.Validation("flag opportunity", "body must be {\"flagged\": true|false}"))
	}

	opp, err := s.Store.SetFlagged(c.Request().Context(), id, *req.Flagged, auth.ActorFromContext(c))
	if err != nil {
		return s.respondErr(c, err)
	}
	msg := "Opportunity flagged"
	if !*req.Flagged {
		msg = "Opportunity unflagged"
	}
	return ok(c, http.StatusOK, msg, opp)
}

func (s *Server) handleIgnore(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return s.respondErr(c, err)
	}
	var req ignoreRequest
	if err := c.Bind(&req); err != nil || req.Ignored == nil {
		return s.respondErr(c, apperr.Validation("ignore opportunity", "body must be {\"ignored\": true|false}"))
	}

	opp, err := s.Store.SetIgnored(c.Request().Context(), id, *req.Ignored, auth.ActorFromContext(c))
	if err != nil {
		return s.respondErr(c, err)
	}
	return ok(c, http.StatusOK, "Opportunity updated", opp)
}

func (s *Server) handleDismiss(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return s.respondErr(c, err)
	}
	var req dismissRequest
	if err := c.Bind(&req); err != nil {
		return s.respondErr(c, apperr.Validation("dismiss opportunity", "invalid request body"))
	}

	opp, err := s.Store.Dismiss(c.Request().Context(), id, strings.TrimSpace(req.Reason), auth.ActorFromContext(c))
	if err != nil {
		return s.respondErr(c, err)
	}
	return ok(c, http.StatusOK, "Opportunity dismissed", opp)
}

// handleVerify records the authenticated user as verifier. Requests made with
// the admin secret may name the verifier in the body.
func (s *Server) handleVerify(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return s.respondErr(c, err)
	}
	var req verifyRequest
	if err := c.Bind(&req); err != nil {
		return s.respondErr(c, apperr.Validation("verify opportunity", "invalid request body"))
	}

	verifier := auth.ActorFromContext(c)
	if v := strings.TrimSpace(req.Verifier); v != "" && verifier == auth.AdminActor {
		verifier = v
	}
	opp, err := s.Store.Verify(c.Request().Context(), id, verifier)
	if err != nil {
		return s.respondErr(c, err)
	}
	return ok(c, http.StatusOK, "Opportunity verified", opp)
}

func (s *Server) handleDeleteOpportunity(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return s.respondErr(c, err)
	}
	if err := s.Store.DeleteOpportunity(c.Request().Context(), id); err != nil {
		return s.respondErr(c, err)
	}
	s.logger.Info("opportunity deleted", "id", id, "actor", auth.ActorFromContext(c))
	return ok(c, http.StatusOK, "Opportunity deleted", nil)
}

func (s *Server) handleAnalyze(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return s.respondErr(c, err)
	}
	analysis, err := s.AI.Analyze(c.Request().Context(), id)
	if err != nil {
		return s.respondErr(c, err)
	}
	return ok(c, http.StatusOK, "Analysis complete", analysis)
}

func (s *Server) handleAwardLikelihood(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return s.respondErr(c, err)
	}
	likelihood, err := s.AI.AwardLikelihood(c.Request().Context(), id)
	if err != nil {
		return s.respondErr(c, err)
	}
	return ok(c, http.StatusOK, "Award likelihood scored", likelihood)
}

func (s *Server) handleSignup(c echo.Context) error {
	var req auth.SignupRequest
	if err := c.Bind(&req); err != nil {
		return s.respondErr(c, apperr.Validation("signup", "invalid request"))
	}

	resp, err := s.Auth.Signup(c.Request().Context(), req)
	if err != nil {
		return s.respondErr(c, err)
	}
	return ok(c, http.StatusCreated, "Account created", resp)
}

func (s *Server) handleLogin(c echo.Context) error {
	var req auth.LoginRequest
	if err := c.Bind(&req); err != nil {
		return s.respondErr(c, apperr.Validation("login", "invalid request"))
	}

	resp, err := s.Auth.Login(c.Request().Context(), req)
	if err != nil {
		return s.respondErr(c, err)
	}
	return ok(c, http.StatusOK, "Logged in", resp)
}
