package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/chatlink/internal/auth"
	"github.com/vovakirdan/chatlink/internal/domain"
)

const (
	// ContextKeyUserID is the context key for storing user ID.
	ContextKeyUserID = "user_id"
	// ContextKeyUserName is the context key for storing the display name.
	ContextKeyUserName = "user_name"
)

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// AuthMiddleware creates a middleware that validates identity tokens.
func AuthMiddleware(jwtConfig *auth.JWTConfig, logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			logger.Debug().Msg("missing or malformed authorization header")
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "missing authorization header"})
			return
		}

		claims, err := auth.ValidateToken(jwtConfig, token)
		if err != nil {
			logger.Debug().Err(err).Msg("invalid token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid token"})
			return
		}

		identity := claims.Identity()
		c.Set(ContextKeyUserID, identity.UserID)
		c.Set(ContextKeyUserName, identity.UserName)

		c.Next()
	}
}

// LoggerMiddleware creates a middleware that logs HTTP requests.
func LoggerMiddleware(logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Process request
		c.Next()

		// Log after request
		logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Msg("http request")
	}
}

// bearerToken extracts the token from "Bearer <token>".
func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}

// tokenIdentity returns the identity set by AuthMiddleware, if any.
func tokenIdentity(c *gin.Context) (domain.UserIdentity, bool) {
	userID := c.GetString(ContextKeyUserID)
	if userID == "" {
		return domain.UserIdentity{}, false
	}
	return domain.UserIdentity{UserID: userID, UserName: c.GetString(ContextKeyUserName)}, true
}

// resolveUser picks the user a read is for. With a token the caller may only
// read their own data and an empty value means "me". It writes the error
// response and returns false when the request must stop.
func resolveUser(c *gin.Context, requested string) (string, bool) {
	identity, authed := tokenIdentity(c)
	switch {
	case !authed && requested == "":
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "userId is required"})
		return "", false
	case !authed:
		return requested, true
	case requested == "" || requested == identity.UserID:
		return identity.UserID, true
	default:
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "forbidden"})
		return "", false
	}
}
