// Package api exposes beamforged's thin HTTP/WebSocket job surface: submit a
// job, cancel it, and stream its events. All beam-search logic lives in
// internal/orchestrator; this package only wires requests to it.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/beamforge/beamforge/internal/auth"
	"github.com/beamforge/beamforge/internal/config"
	"github.com/beamforge/beamforge/internal/eventbus"
	"github.com/beamforge/beamforge/internal/jobstore"
	"github.com/beamforge/beamforge/internal/limiter"
	"github.com/beamforge/beamforge/internal/orchestrator"
)

// Server is the HTTP/WebSocket job surface.
type Server struct {
	cfg        *config.Config
	logger     *slog.Logger
	authMgr    *auth.Manager
	bus        *eventbus.Bus
	store      jobstore.Store
	limiters   *limiter.Registry
	registry   *jobRegistry
	httpServer *http.Server
}

// NewServer wires a Server over the given config and dependencies. factory
// builds a fresh Orchestrator per job (so each job gets its own capability
// instances while sharing one limiter registry); limiters is the same registry
// the factory's orchestrators share, exposed read-only via /limiters.
func NewServer(cfg *config.Config, logger *slog.Logger, authMgr *auth.Manager, bus *eventbus.Bus, store jobstore.Store, limiters *limiter.Registry, factory OrchestratorFactory) *Server {
	return &Server{
		cfg:      cfg,
		logger:   logger,
		authMgr:  authMgr,
		bus:      bus,
		store:    store,
		limiters: limiters,
		registry: newJobRegistry(factory, bus, store, logger),
	}
}

// OrchestratorFactory builds an orchestrator for a new job. Production
// callers supply real capability-backed orchestrators; local/demo callers
// supply one built over internal/capability/mock.
type OrchestratorFactory func() *orchestrator.Orchestrator

// Start runs the HTTP server until ctx is cancelled or ListenAndServe fails.
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRouter()

	s.httpServer = &http.Server{
		Addr:         s.cfg.Server.Listen,
		Handler:      router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	s.logger.Info("starting job surface", "address", s.cfg.Server.Listen)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serving http: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the HTTP server, waiting for in-flight
// requests to finish (but not for running jobs, which continue under their
// own context until cancelled or complete).
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping job surface")
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) setupRouter() *gin.Engine {
	if s.cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(s.loggingMiddleware())
	router.Use(gin.Recovery())
	router.Use(s.corsMiddleware())

	router.GET("/healthz", s.healthHandler)
	router.POST("/auth/token", s.issueTokenHandler)

	limiters := router.Group("/limiters")
	limiters.Use(s.authMgr.RequireAuth())
	limiters.GET("", s.limiterStatusHandler)

	jobs := router.Group("/jobs")
	jobs.Use(s.authMgr.RequireAuth())
	{
		jobs.POST("", s.startJobHandler)
		jobs.GET("/:id", s.getJobHandler)
		jobs.POST("/:id/cancel", s.cancelJobHandler)
		jobs.GET("/:id/events", s.eventsHandler)
	}

	return router
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return gin.LoggerWithFormatter(func(p gin.LogFormatterParams) string {
		s.logger.Info("http request",
			"method", p.Method,
			"path", p.Path,
			"status", p.StatusCode,
			"latency", p.Latency,
			"client_ip", p.ClientIP,
		)
		return ""
	})
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	origins := s.cfg.Server.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
