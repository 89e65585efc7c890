// Package http is the request boundary: the REST API the client calls and the
// WebSocket endpoint events are pushed through.
package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/avoronin/threadcast-server/internal/auth"
	"github.com/avoronin/threadcast-server/internal/config"
	"github.com/avoronin/threadcast-server/internal/provider"
)

// NewServer builds the HTTP server with all routes mounted.
func NewServer(
	cfg config.Config,
	handlers *APIHandlers,
	ws *WSHandler,
	sessions *auth.SessionConfig,
	accounts *provider.Accounts,
	newProvider provider.Factory,
	logger *zerolog.Logger,
) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(LoggerMiddleware(logger))

	engine.GET("/health", healthHandler)
	engine.GET("/ws", ws.Handle)

	api := engine.Group("/api")
	api.POST("/login", handlers.Login)
	api.POST("/init", handlers.Init)

	authed := api.Group("")
	authed.Use(SessionMiddleware(sessions, accounts, newProvider, logger))
	authed.POST("/createThread", handlers.CreateThread)
	authed.POST("/getThreads", handlers.GetThreads)
	authed.POST("/getThread", handlers.GetThread)
	authed.POST("/getMessages", handlers.GetMessages)
	authed.POST("/searchUsers", handlers.SearchUsers)
	authed.POST("/sendMessage", handlers.SendMessage)

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           engine,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
