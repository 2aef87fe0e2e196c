package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/Farhan-basha/Star-Systems/internal/auth"
	"github.com/Farhan-basha/Star-Systems/internal/monitoring"
)

// Router builds the gin engine with all routes mounted.
func (a *API) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(a.logger))

	r.GET("/health", a.handleHealth)
	r.GET("/metrics", gin.WrapH(monitoring.Handler()))

	r.POST("/api/register", a.handleRegister)
	r.POST("/api/login", a.handleLogin)

	// Channel listing and creation predate the auth layer and stay open;
	// messages carry a sender and need a verified identity.
	r.GET("/api/channels", a.handleListChannels)
	r.POST("/api/channels", a.handleCreateChannel)
	r.GET("/api/channels/:id", a.handleGetChannel)

	authed := r.Group("/api", auth.ResolveIdentity(a.tokens, a.logger), auth.RequireIdentity())
	{
		authed.GET("/users", a.handleListUsers)
		authed.GET("/users/:id", a.handleGetUser)

		authed.GET("/workspaces", a.handleListWorkspaces)
		authed.POST("/workspaces", a.handleCreateWorkspace)
		authed.GET("/workspaces/:id", a.handleGetWorkspace)
		authed.PUT("/workspaces/:id", a.handleUpdateWorkspace)
		authed.DELETE("/workspaces/:id", a.handleDeleteWorkspace)

		authed.PUT("/channels/:id", a.handleUpdateChannel)
		authed.DELETE("/channels/:id", a.handleDeleteChannel)
		authed.GET("/channels/:id/messages", a.handleListChannelMessages)
		authed.POST("/channels/:id/messages", a.handlePostChannelMessage)

		authed.GET("/dm-groups", a.handleListDMGroups)
		authed.POST("/dm-groups", a.handleCreateDMGroup)
		authed.GET("/dm-groups/:id", a.handleGetDMGroup)
		authed.DELETE("/dm-groups/:id", a.handleDeleteDMGroup)
		authed.GET("/dm-groups/:id/messages", a.handleListDMMessages)
		authed.POST("/dm-groups/:id/messages", a.handlePostDMMessage)

		authed.PUT("/messages/:id", a.handleUpdateMessage)
		authed.DELETE("/messages/:id", a.handleDeleteMessage)
	}

	// Identity resolution is fail-soft here; the relay rejects anonymous
	// sessions itself, after the upgrade, with a close frame.
	ws := r.Group("/ws", auth.ResolveIdentity(a.tokens, a.logger))
	{
		ws.GET("/chat/:room", a.relay.HandleRoom)
	}

	return r
}

func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		// Upgraded connections log through the relay instead.
		if c.Writer.Status() == 101 {
			return
		}

		event := logger.Info()
		if c.Writer.Status() >= 500 {
			event = logger.Error()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	}
}
