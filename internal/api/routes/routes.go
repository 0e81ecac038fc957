package routes

import (
	"collab-service/internal/api/handlers"
	"collab-service/internal/api/middleware"
	"collab-service/internal/auth"
	"collab-service/internal/collab"
	"collab-service/internal/services"
	"time"

	"github.com/gin-gonic/gin"
)

type Router struct {
	engine      *gin.Engine
	wsHandler   *collab.Handler
	noteHandler *handlers.NoteHandler
	authMW      *middleware.AuthMiddleware
}

func NewRouter(
	hub *collab.Hub,
	verifier auth.TokenVerifier,
	noteService *services.NoteService,
	cursorThrottle time.Duration,
) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS())
	engine.Use(middleware.LogAPI())

	return &Router{
		engine:      engine,
		wsHandler:   collab.NewHandler(hub, verifier, cursorThrottle),
		noteHandler: handlers.NewNoteHandler(noteService),
		authMW:      middleware.NewAuthMiddleware(verifier),
	}
}

func (r *Router) SetupRoutes() {
	r.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	api := r.engine.Group("/api/v1")

	// The collaboration namespace: one long-lived bidirectional connection
	// per client. The gate authenticates during the HTTP handshake.
	api.GET("/collaboration/ws", r.wsHandler.ServeWS)

	// Durable note surface. The editor saves through here on its own
	// debounce; the realtime subsystem never writes note content.
	notes := api.Group("/notes")
	notes.Use(r.authMW.RequireAuth())
	{
		notes.GET("/:id", r.noteHandler.GetNote)
		notes.PUT("/:id", r.noteHandler.SaveNote)
	}
}

func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
