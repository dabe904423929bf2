package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/platformbuilds/atalaya/internal/api"
	"github.com/platformbuilds/atalaya/internal/api/websocket"
	"github.com/platformbuilds/atalaya/internal/config"
	"github.com/platformbuilds/atalaya/internal/discovery"
	"github.com/platformbuilds/atalaya/internal/models"
	"github.com/platformbuilds/atalaya/internal/repo"
	"github.com/platformbuilds/atalaya/internal/security/cabundle"
	"github.com/platformbuilds/atalaya/internal/services"
	"github.com/platformbuilds/atalaya/internal/storage/mysql"
	"github.com/platformbuilds/atalaya/internal/tracing"
	"github.com/platformbuilds/atalaya/pkg/cache"
	"github.com/platformbuilds/atalaya/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger := logger.New(cfg.LogLevel, cfg.LogFormat)
	logger.Info("Starting atalaya", "version", config.ServiceVersion, "environment", cfg.Environment)

	// Tracing is optional; without an exporter all spans are no-ops.
	var tracerProvider *tracing.TracerProvider
	if cfg.Monitoring.TracingEnabled && cfg.Monitoring.OTLPEndpoint != "" {
		tp, err := tracing.NewTracerProvider(config.ServiceName, config.ServiceVersion, cfg.Monitoring.OTLPEndpoint)
		if err != nil {
			logger.Warn("Tracing disabled: OTLP exporter init failed", "error", err)
		} else {
			tracerProvider = tp
			tracing.InitGlobalTracer(config.ServiceName)
			logger.Info("Tracing enabled", "endpoint", cfg.Monitoring.OTLPEndpoint)
		}
	}

	// Valkey cache; falls back to in-memory and swaps over when reachable.
	valkeyCache := buildCache(cfg, logger)

	// Alert store: MySQL when configured, in-memory otherwise.
	var store repo.AlertStore
	var mysqlClient *mysql.Client
	if cfg.Database.MySQL.Enabled {
		mysqlClient, err = mysql.Connect(cfg.Database.MySQL)
		if err != nil {
			logger.Fatal("Failed to connect to MySQL alert store", "error", err)
		}
		store = repo.NewAlertRepo(mysqlClient.DB)
		logger.Info("MySQL alert store initialized",
			"host", cfg.Database.MySQL.Host, "database", cfg.Database.MySQL.Database)
	} else {
		store = repo.NewMemoryAlertStore()
		logger.Info("In-memory alert store initialized (alerts do not survive restarts)")
	}

	bootCtx, cancelBoot := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelBoot()

	// Core services
	stats := services.NewIngestStatsService()
	realtime := services.NewRealtimeCacheService(valkeyCache, cfg, logger)

	rules := services.NewAlertRulesService(store, cfg, logger)
	if err := rules.Load(bootCtx); err != nil {
		logger.Fatal("Failed to load alert rules", "error", err)
	}

	var engine *services.AlertEngineService
	if cfg.Alerting.Enabled {
		engine = services.NewAlertEngineService(rules, store, realtime, cfg, logger)
	} else {
		logger.Warn("Alerting is DISABLED by configuration; records are not evaluated")
	}

	// External search index
	index := services.NewSearchIndexService(cfg.Index, logger)
	var caBundle *cabundle.Manager
	if cfg.Index.TLS.CABundlePath != "" || cfg.Index.TLS.InsecureSkipVerify {
		caBundle, err = cabundle.NewManager(cfg.Index.TLS.CABundlePath, logger, func() {
			index.ConfigureTLS(caBundle.TLSConfig(cfg.Index.TLS.InsecureSkipVerify))
		})
		if err != nil {
			logger.Fatal("Failed to load index CA bundle", "path", cfg.Index.TLS.CABundlePath, "error", err)
		}
		index.ConfigureTLS(caBundle.TLSConfig(cfg.Index.TLS.InsecureSkipVerify))
	}
	if err := index.EnsureIndex(bootCtx); err != nil {
		logger.Warn("Log index not ready; indexing degrades until it comes back", "error", err)
	}
	searchService := services.NewSearchService(index, cfg.Search, logger)

	// In-process recent index
	var recent *services.RecentSearchService
	if cfg.Search.Recent.Enabled {
		recent, err = services.NewRecentSearchService(cfg, logger)
		if err != nil {
			logger.Fatal("Failed to build recent search index", "error", err)
		}
	}

	pipeline := services.NewIngestPipelineService(cfg, realtime, engine, index, recent, stats, logger)

	// Live push hub
	var hub *websocket.Hub
	if cfg.WebSocket.Enabled {
		hub = websocket.NewHub(cfg.WebSocket, logger)
		pipeline.SetBroadcaster(hub)
	}

	// Alert notifications and live alert push
	notifier := services.NewNotificationService(cfg.Integrations, logger)
	if engine != nil {
		engine.OnAlert(notifier.HandleAlertEvent)
		if hub != nil {
			engine.OnAlert(func(event *models.AlertEvent) {
				hub.Broadcast(services.TopicAlerts, event)
			})
		}
	}

	// Stream intake (NATS JetStream)
	var stream *services.StreamConsumerService
	if cfg.Stream.Enabled {
		stream = services.NewStreamConsumerService(cfg.Stream, pipeline, logger)
		if err := stream.Connect(); err != nil {
			logger.Error("Stream intake unavailable; continuing without it", "error", err)
		}
	}

	apiServer := api.NewServer(cfg, logger, api.Dependencies{
		Cache:    valkeyCache,
		Pipeline: pipeline,
		Realtime: realtime,
		Stats:    stats,
		Rules:    rules,
		Engine:   engine,
		Search:   searchService,
		Recent:   recent,
		Index:    index,
		Stream:   stream,
		Hub:      hub,
	})

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		logger.Info("Shutdown signal received")
		cancel()
	}()

	g, runCtx := errgroup.WithContext(ctx)

	if cfg.Index.Discovery.Enabled {
		resolver := discovery.NewResolver(discovery.Config{
			Service:        cfg.Index.Discovery.Service,
			Port:           cfg.Index.Discovery.Port,
			Scheme:         cfg.Index.Discovery.Scheme,
			RefreshSeconds: cfg.Index.Discovery.RefreshSeconds,
			UseSRV:         cfg.Index.Discovery.UseSRV,
		}, index, logger)
		g.Go(func() error { return resolver.Run(runCtx) })
	}

	pipeline.Start(runCtx)

	g.Go(func() error { return apiServer.Start(runCtx) })

	if engine != nil {
		g.Go(func() error { return engine.RunSweeper(runCtx) })
	}

	g.Go(func() error {
		// A missing seed file only disables hot reload, never the service.
		if err := rules.Watch(runCtx); err != nil {
			logger.Warn("Rule seed watching unavailable", "error", err)
		}
		return nil
	})

	if hub != nil {
		g.Go(func() error {
			hub.Run(runCtx)
			return nil
		})
	}

	if stream != nil && stream.Connected() {
		g.Go(func() error { return stream.Run(runCtx) })
	}

	if err := g.Wait(); err != nil {
		logger.Error("Component failed", "error", err)
	}

	// Shutdown order: stop intake, drain workers, then close the rest.
	if stream != nil {
		stream.Close()
	}
	pipeline.Drain()
	if recent != nil {
		if err := recent.Close(); err != nil {
			logger.Warn("Recent index close failed", "error", err)
		}
	}
	if caBundle != nil {
		if err := caBundle.Close(); err != nil {
			logger.Warn("CA bundle watcher close failed", "error", err)
		}
	}
	if mysqlClient != nil {
		if err := mysqlClient.Close(); err != nil {
			logger.Warn("MySQL close failed", "error", err)
		}
	}
	if tracerProvider != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Tracer shutdown failed", "error", err)
		}
		cancelShutdown()
	}

	logger.Info("atalaya shutdown complete")
}

// buildCache dials Valkey per configuration. When the first dial fails the
// process starts on the in-memory fallback and a background connector swaps
// in the real client once it becomes reachable.
func buildCache(cfg *config.Config, log logger.Logger) cache.ValkeyCache {
	ttl := time.Duration(cfg.Cache.TTL) * time.Second

	if cfg.Cache.Mode == "cluster" {
		c, err := cache.NewValkeyCluster(cfg.Cache.Nodes, cfg.Cache.Password, ttl, log)
		if err == nil {
			log.Info("Valkey cluster cache initialized", "nodes", len(cfg.Cache.Nodes))
			return c
		}
		log.Warn("Valkey cluster unreachable; starting on in-memory fallback", "error", err)
		return cache.NewAutoSwapForCluster(cfg.Cache.Nodes, cfg.Cache.Password, ttl, log, cache.NewNoopValkeyCache(log))
	}

	addr := cfg.Cache.Nodes[0]
	c, err := cache.NewValkeySingle(addr, cfg.Cache.DB, cfg.Cache.Password, ttl, log)
	if err == nil {
		log.Info("Valkey cache initialized", "addr", addr)
		return c
	}
	log.Warn("Valkey unreachable; starting on in-memory fallback", "addr", addr, "error", err)
	return cache.NewAutoSwapForSingle(addr, cfg.Cache.DB, cfg.Cache.Password, ttl, log, cache.NewNoopValkeyCache(log))
}
