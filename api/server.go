package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"example.com/backstage/services/irrigation/api/middleware"
	"example.com/backstage/services/irrigation/api/routes"
	"example.com/backstage/services/irrigation/config"
	"example.com/backstage/services/irrigation/internal/service"
	"example.com/backstage/services/irrigation/internal/telemetry"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/sirupsen/logrus"
)

// Server represents the HTTP server
type Server struct {
	router     *gin.Engine
	config     *config.Config
	httpServer *http.Server
	log        *logrus.Logger
}

// Dependencies are the collaborators the HTTP layer is built on
type Dependencies struct {
	Service  service.Service
	Verifier middleware.TokenVerifier
	Metrics  *telemetry.Metrics
	NewRelic *newrelic.Application
}

// NewServer creates a new HTTP server
func NewServer(cfg *config.Config, log *logrus.Logger, deps Dependencies) *Server {
	gin.SetMode(cfg.Server.Mode)

	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.Logger(log))
	if deps.Metrics != nil {
		router.Use(middleware.Metrics(deps.Metrics))
	}
	if deps.NewRelic != nil {
		router.Use(middleware.NewRelicMiddleware(deps.NewRelic))
	}
	router.Use(middleware.Timeout(cfg.Server.RequestTimeout))

	routes.SetupRoutes(router, deps.Service, routes.Options{
		Verifier:    deps.Verifier,
		Database:    deps.Service,
		Metrics:     deps.Metrics,
		Environment: cfg.Server.Environment,
		Production:  cfg.IsProduction(),
	}, log)

	return &Server{
		router: router,
		config: cfg,
		log:    log,
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Handler exposes the router for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Infof("Starting server on port %d", s.config.Server.Port)
	return s.httpServer.ListenAndServe()
}

// Shutdown stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
