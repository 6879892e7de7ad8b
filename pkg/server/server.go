// Package server exposes the engine over HTTP.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tempograph/tempograph"
	"github.com/tempograph/tempograph/pkg/config"
	"github.com/tempograph/tempograph/pkg/server/handlers"
)

// Server is the HTTP front of the engine.
type Server struct {
	config *config.Config
	router *gin.Engine
	engine tempograph.Engine
	server *http.Server
}

// New creates a new server instance.
func New(cfg *config.Config, engine tempograph.Engine) *Server {
	return &Server{
		config: cfg,
		engine: engine,
	}
}

// Setup sets up the server routes and middleware.
func (s *Server) Setup() {
	gin.SetMode(s.config.Server.Mode)

	s.router = gin.New()
	s.router.Use(gin.Logger())
	s.router.Use(gin.Recovery())
	s.router.Use(corsMiddleware())

	s.setupRoutes()

	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}
}

// setupRoutes sets up all the routes.
func (s *Server) setupRoutes() {
	adminHandler := handlers.NewAdminHandler(s.engine)
	episodeHandler := handlers.NewEpisodeHandler(s.engine)
	searchHandler := handlers.NewSearchHandler(s.engine)
	nodeHandler := handlers.NewNodeHandler(s.engine)

	s.router.GET("/health", adminHandler.Health)

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/episodes", episodeHandler.Add)
		v1.GET("/episodes/:id", episodeHandler.Get)

		v1.POST("/search", searchHandler.Search)

		v1.POST("/nodes", nodeHandler.Add)
		v1.GET("/nodes/:id", nodeHandler.Get)
		v1.PATCH("/nodes/:id", nodeHandler.Update)
		v1.DELETE("/nodes/:id", nodeHandler.Delete)

		v1.POST("/relationships", nodeHandler.AddRelationship)

		v1.GET("/stats", adminHandler.Stats)
		v1.GET("/reviews", adminHandler.Reviews)
	}
}

// Router returns the underlying router, for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start starts the server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the server gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// corsMiddleware adds CORS headers.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, PATCH, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
