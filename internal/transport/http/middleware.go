package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/avoronin/threadcast-server/internal/auth"
	"github.com/avoronin/threadcast-server/internal/provider"
)

const (
	// ContextKeyUserID is the context key for the authenticated user ID.
	ContextKeyUserID = "user_id"
	// ContextKeySession is the context key for the decoded session.
	ContextKeySession = "session"
)

// SessionMiddleware validates the bearer session token and makes sure the
// user's provider account is bound. Binding here restores accounts after a
// server restart without a fresh login.
func SessionMiddleware(sessions *auth.SessionConfig, accounts *provider.Accounts, newProvider provider.Factory, logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			logger.Debug().Msg("missing authorization header")
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "missing authorization header"})
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			logger.Debug().Msg("invalid authorization header format")
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid authorization header format"})
			c.Abort()
			return
		}

		session, err := auth.ParseSession(sessions, parts[1])
		if err != nil {
			logger.Debug().Err(err).Msg("invalid session token")
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid session token"})
			c.Abort()
			return
		}

		if _, ok := accounts.Lookup(session.UserID); !ok {
			pid, err := provider.ParseID(session.ProviderID)
			if err != nil {
				logger.Debug().Err(err).Msg("session names unknown provider")
				c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid session token"})
				c.Abort()
				return
			}
			p, err := newProvider(pid, session.APIKey)
			if err != nil {
				logger.Error().Err(err).Msg("restore provider binding")
				c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
				c.Abort()
				return
			}
			accounts.Bind(session.UserID, p)
		}

		c.Set(ContextKeyUserID, session.UserID)
		c.Set(ContextKeySession, session)
		c.Next()
	}
}

// LoggerMiddleware logs HTTP requests after they complete.
func LoggerMiddleware(logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Msg("http request")
	}
}
