package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/platformbuilds/atalaya/internal/api/handlers"
	"github.com/platformbuilds/atalaya/internal/api/middleware"
	"github.com/platformbuilds/atalaya/internal/api/websocket"
	"github.com/platformbuilds/atalaya/internal/config"
	"github.com/platformbuilds/atalaya/internal/monitoring"
	"github.com/platformbuilds/atalaya/internal/services"
	"github.com/platformbuilds/atalaya/pkg/cache"
	"github.com/platformbuilds/atalaya/pkg/logger"
)

// Dependencies bundles the collaborators the HTTP surface exposes. Search,
// Index and Stream may be nil when the corresponding backend is not
// configured; handlers answer 503 for surfaces whose backend is absent.
type Dependencies struct {
	Cache    cache.ValkeyCache
	Pipeline *services.IngestPipelineService
	Realtime *services.RealtimeCacheService
	Stats    *services.IngestStatsService
	Rules    *services.AlertRulesService
	Engine   *services.AlertEngineService
	Search   *services.SearchService
	Recent   *services.RecentSearchService
	Index    *services.SearchIndexService
	Stream   *services.StreamConsumerService
	Hub      *websocket.Hub
}

type Server struct {
	config     *config.Config
	logger     logger.Logger
	deps       Dependencies
	router     *gin.Engine
	httpServer *http.Server
}

func NewServer(cfg *config.Config, log logger.Logger, deps Dependencies) *Server {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	server := &Server{
		config: cfg,
		logger: log,
		deps:   deps,
		router: router,
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(middleware.CORSMiddleware(s.config.CORS))
	s.router.Use(middleware.RequestLogger(s.logger))
	s.router.Use(monitoring.HTTPMetricsMiddleware())
	s.router.Use(middleware.RateLimiter(s.deps.Cache))

	metricsPath := s.config.Monitoring.MetricsPath
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	monitoring.SetupPrometheusMetrics(s.router, metricsPath)
}

func (s *Server) setupRoutes() {
	healthHandler := handlers.NewHealthHandler(s.deps.Cache, s.deps.Index, s.deps.Recent, s.deps.Stream, s.logger)

	s.router.GET("/health", healthHandler.HealthCheck)
	s.router.GET("/ready", healthHandler.ReadinessCheck)

	s.router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service": config.ServiceName,
			"version": config.ServiceVersion,
			"api":     "/api/" + config.APIVersion,
		})
	})

	// WebSocket live streams (logs, alerts)
	if s.deps.Hub != nil {
		s.router.GET("/ws", s.deps.Hub.HandleConnection)
	}

	v1 := s.router.Group("/api/v1")

	v1.GET("/health", healthHandler.HealthCheck)
	v1.GET("/ready", healthHandler.ReadinessCheck)

	// Ingestion and realtime views
	logsHandler := handlers.NewLogsHandler(s.deps.Pipeline, s.deps.Realtime, s.logger)
	v1.POST("/logs", logsHandler.Ingest)
	v1.POST("/logs/bulk", logsHandler.IngestBulk)
	v1.GET("/logs/recent", logsHandler.Recent)
	v1.GET("/logs/recent/errors", logsHandler.RecentErrors)
	v1.GET("/logs/stats", logsHandler.RealtimeStats)

	// Structural search
	searchHandler := handlers.NewSearchHandler(s.deps.Search, s.deps.Recent, s.logger)
	v1.POST("/search", searchHandler.Search)
	v1.POST("/search/recent", searchHandler.SearchRecent)

	// Alert rules and instances
	alertHandler := handlers.NewAlertHandler(s.deps.Rules, s.deps.Engine, s.logger)
	v1.GET("/alerts/rules", alertHandler.ListRules)
	v1.POST("/alerts/rules", alertHandler.CreateRule)
	v1.GET("/alerts/rules/:id", alertHandler.GetRule)
	v1.PUT("/alerts/rules/:id", alertHandler.UpdateRule)
	v1.DELETE("/alerts/rules/:id", alertHandler.DeleteRule)
	v1.GET("/alerts", alertHandler.ListAlerts)
	v1.GET("/alerts/:id", alertHandler.GetAlert)
	v1.POST("/alerts/:id/acknowledge", alertHandler.AcknowledgeAlert)
	v1.POST("/alerts/:id/resolve", alertHandler.ResolveAlert)

	// Ingestion counters
	statsHandler := handlers.NewStatsHandler(s.deps.Stats, s.deps.Pipeline, s.logger)
	v1.GET("/stats", statsHandler.GetStats)
}

func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("REST API server starting", "service", config.ServiceName, "port", s.config.Port)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
		s.logger.Info("Shutting down REST API server gracefully")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.DefaultShutdownTimeout*time.Millisecond)
	defer cancel()

	return s.httpServer.Shutdown(shutdownCtx)
}

// Handler returns the underlying Gin engine so tests (or embedders) can mount it.
func (s *Server) Handler() http.Handler {
	return s.router
}
