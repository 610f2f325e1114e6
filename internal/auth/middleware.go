package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	UserIDKey contextKey = "user_id"
	ActorKey  contextKey = "actor"

	// AdminActor is recorded for actions authorized by the shared admin secret.
	AdminActor = "admin"
)

type claims struct {
	userID uuid.UUID
	email  string
}

func bearerToken(c echo.Context) (string, error) {
	authHeader := c.Request().Header.Get("Authorization")
	if authHeader == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "Missing Authorization header")
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "Invalid Authorization header format")
	}
	return parts[1], nil
}

func parseToken(tokenString string) (*claims, error) {
	secretKey, err := jwtSecretFromEnv()
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusInternalServerError, "Server auth configuration error")
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secretKey, nil
	})
	if err != nil || !token.Valid {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "Invalid or expired token")
	}

	mc, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "Invalid token claims")
	}
	sub, err := mc.GetSubject()
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "Invalid token subject")
	}
	userID, err := uuid.Parse(sub)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "Invalid user ID in token")
	}
	email, _ := mc["email"].(string)
	return &claims{userID: userID, email: email}, nil
}

// Middleware validates the JWT token and adds the UserID to the context
func Middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		tokenString, err := bearerToken(c)
		if err != nil {
			return err
		}
		cl, err := parseToken(tokenString)
		if err != nil {
			return err
		}
		c.Set(string(UserIDKey), cl.userID)
		c.Set(string(ActorKey), actorFor(cl))
		return next(c)
	}
}

// AdminMiddleware authorizes admin routes. It accepts the shared admin
// secret, in X-Admin-Secret or as the bearer token, or a valid user JWT.
// The resolved actor is stored for attribution.
func AdminMiddleware(adminSecret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if adminSecret != "" {
				provided := c.Request().Header.Get("X-Admin-Secret")
				if provided == "" {
					if tok, err := bearerToken(c); err == nil {
						provided = tok
					}
				}
				if provided != "" && subtle.ConstantTimeCompare([]byte(provided), []byte(adminSecret)) == 1 {
					c.Set(string(ActorKey), AdminActor)
					return next(c)
				}
			}
			return Middleware(next)(c)
		}
	}
}

func actorFor(cl *claims) string {
	if cl.email != "" {
		return cl.email
	}
	return cl.userID.String()
}

// GetUserIDFromContext helper to retrieve the user ID
func GetUserIDFromContext(c echo.Context) (uuid.UUID, error) {
	val := c.Get(string(UserIDKey))
	id, ok := val.(uuid.UUID)
	if !ok {
		return uuid.Nil, errors.New("user ID not found in context")
	}
	return id, nil
}

// ActorFromContext returns who is performing the request, or "system" when
// the route is not authenticated.
func ActorFromContext(c echo.Context) string {
	if actor, ok := c.Get(string(ActorKey)).(string); ok && actor != "" {
		return actor
	}
	return "system"
}
