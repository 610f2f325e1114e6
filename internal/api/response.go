package api

import (
	"errors"
	"net/http"

	"github.com/david/contract-finder/internal/apperr"
	"github.com/david/contract-finder/internal/auth"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// envelope wraps every JSON response.
type envelope struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Error   *errorBody  `json:"error,omitempty"`
}

type errorBody struct {
	Kind      string `json:"kind"`
	Retryable bool   `json:"retryable"`
}

func ok(c echo.Context, status int, message string, data interface{}) error {
	return c.JSON(status, envelope{Success: true, Message: message, Data: data})
}

func fail(c echo.Context, status int, kind, message string, retryable bool) error {
	return c.JSON(status, envelope{
		Success: false,
		Message: message,
		Error:   &errorBody{Kind: kind, Retryable: retryable},
	})
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindExternalService:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondErr maps err to the failure envelope. Errors outside the taxonomy
// are logged and reported without detail.
func (s *Server) respondErr(c echo.Context, err error) error {
	if errors.Is(err, auth.ErrInvalidCreds) {
		return fail(c, http.StatusUnauthorized, "unauthorized", "Invalid credentials", false)
	}

	kind := apperr.KindOf(err)
	status := statusFor(kind)
	if kind == apperr.KindInternal || kind == apperr.KindPersistence {
		s.logger.Error("request failed",
			"method", c.Request().Method,
			"path", c.Path(),
			"kind", kind,
			"error", err,
		)
	}
	return fail(c, status, string(kind), apperr.Message(err), apperr.Retryable(err))
}

// handleHTTPError renders echo errors (routing, middleware, bind) in the
// same envelope.
func (s *Server) handleHTTPError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var he *echo.HTTPError
	if !errors.As(err, &he) {
		_ = s.respondErr(c, err)
		return
	}

	msg := http.StatusText(he.Code)
	if m, isStr := he.Message.(string); isStr {
		msg = m
	}
	kind := "http_error"
	switch he.Code {
	case http.StatusUnauthorized:
		kind = "unauthorized"
	case http.StatusNotFound:
		kind = string(apperr.KindNotFound)
	case http.StatusBadRequest:
		kind = string(apperr.KindValidation)
	}
	_ = fail(c, he.Code, kind, msg, false)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.Validation("parse id", "invalid opportunity id")
	}
	return id, nil
}
