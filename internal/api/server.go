package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"vigil-worker-go/internal/api/handlers"
	"vigil-worker-go/internal/api/middleware"
	"vigil-worker-go/internal/config"
	"vigil-worker-go/internal/registry"
	"vigil-worker-go/internal/services/pipeline"
	"vigil-worker-go/internal/store"
)

type Server struct {
	config *config.Config
	router *gin.Engine
	server *http.Server

	healthHandler   *handlers.HealthHandler
	cameraHandler   *handlers.CameraHandler
	eventsHandler   *handlers.EventsHandler
	subjectsHandler *handlers.SubjectsHandler
	systemHandler   *handlers.SystemHandler
}

func NewServer(cfg *config.Config, sup handlers.CameraSupervisor, st *store.Store, reg *registry.Registry, pipe *pipeline.Pipeline, connected func() bool) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		config:          cfg,
		router:          gin.New(),
		healthHandler:   handlers.NewHealthHandler(cfg.WorkerID, cfg.Version),
		cameraHandler:   handlers.NewCameraHandler(sup),
		eventsHandler:   handlers.NewEventsHandler(st),
		subjectsHandler: handlers.NewSubjectsHandler(reg),
		systemHandler:   handlers.NewSystemHandler(cfg.WorkerID, pipe, st, connected),
	}

	s.setupMiddleware()
	s.setupRoutes()
	s.setupSwagger()

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: s.router,
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recovery())
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Logger())
	s.router.Use(middleware.CORS())
}

func (s *Server) Start() error {
	log.Info().Int("port", s.config.Port).Msg("Starting API server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Stopping API server")
	return s.server.Shutdown(ctx)
}
