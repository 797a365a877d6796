// Package api is the HTTP and WebSocket surface of the orchestrator.
package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/renderloom/loom/pkg/backend"
	"github.com/renderloom/loom/pkg/catalog"
	"github.com/renderloom/loom/pkg/config"
	"github.com/renderloom/loom/pkg/database"
	"github.com/renderloom/loom/pkg/events"
	"github.com/renderloom/loom/pkg/index"
	"github.com/renderloom/loom/pkg/intent"
	"github.com/renderloom/loom/pkg/jobs"
	"github.com/renderloom/loom/pkg/narrative"
	"github.com/renderloom/loom/pkg/organizer"
)

// Classifier is the slice of the intent classifier the generate handler needs.
type Classifier interface {
	Classify(ctx context.Context, userPrompt, userID string) *intent.Classification
}

// Server wires every service into the echo router.
type Server struct {
	cfg         *config.Config
	dbClient    *database.Client
	store       *catalog.Store
	manager     *jobs.Manager
	classifier  Classifier
	connector   *backend.Connector
	organizer   *organizer.Organizer
	engine      *narrative.Engine
	hooks       *narrative.Hooks
	connManager *events.ConnectionManager
	rebuilder   *index.Rebuilder
	logger      *slog.Logger

	echo *echo.Echo
	http *http.Server
}

// NewServer creates the API server and registers all routes.
func NewServer(cfg *config.Config, dbClient *database.Client, store *catalog.Store, manager *jobs.Manager, classifier Classifier, connector *backend.Connector, org *organizer.Organizer, engine *narrative.Engine, hooks *narrative.Hooks, connManager *events.ConnectionManager, rebuilder *index.Rebuilder, logger *slog.Logger) *Server {
	s := &Server{
		cfg:         cfg,
		dbClient:    dbClient,
		store:       store,
		manager:     manager,
		classifier:  classifier,
		connector:   connector,
		organizer:   org,
		engine:      engine,
		hooks:       hooks,
		connManager: connManager,
		rebuilder:   rebuilder,
		logger:      logger,
	}
	s.echo = echo.New()
	s.echo.Use(securityHeaders())
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	e := s.echo

	e.POST("/generate", s.generateHandler)
	e.GET("/jobs", s.listJobsHandler)
	e.GET("/jobs/:id", s.getJobHandler)
	e.DELETE("/jobs/:id", s.cancelJobHandler)
	e.GET("/health", s.healthHandler)
	e.GET("/ws/:job_id", s.wsHandler)

	e.POST("/api/anime/projects", s.createProjectHandler)
	e.GET("/api/anime/projects", s.listProjectsHandler)
	e.GET("/api/anime/projects/:id", s.getProjectHandler)
	e.GET("/api/anime/projects/:id/stats", s.projectStatsHandler)

	e.POST("/api/anime/characters", s.createCharacterHandler)
	e.GET("/api/anime/characters/:id", s.getCharacterHandler)
	e.GET("/api/anime/characters/:id/bible", s.characterBibleHandler)
	e.PATCH("/api/story/characters/:slug", s.patchCharacterHandler)
	e.GET("/api/story/characters/:slug/detail", s.characterDetailHandler)

	e.GET("/api/narrative/state/:scene_id", s.sceneStatesHandler)
	e.GET("/api/narrative/state/:scene_id/:slug", s.getStateHandler)
	e.PUT("/api/narrative/state/:scene_id/:slug", s.putStateHandler)
	e.DELETE("/api/narrative/state/:scene_id/:slug", s.deleteStateHandler)
	e.POST("/api/narrative/state/:scene_id/initialize", s.initializeStatesHandler)
	e.POST("/api/narrative/state/:scene_id/propagate", s.propagateStatesHandler)
	e.GET("/api/narrative/timeline/:project_id/:slug", s.timelineHandler)
	e.GET("/api/narrative/regeneration-queue/:project_id", s.regenerationQueueHandler)

	e.POST("/api/index/rebuild", s.rebuildIndexHandler)
	e.GET("/api/quality/:job_id", s.qualityHandler)
}

// Start listens on addr and serves until Shutdown.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.http.ListenAndServe()
}

// StartWithListener serves on an existing listener. Used by tests that need a
// random port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.http = &http.Server{
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.http.Serve(ln)
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
