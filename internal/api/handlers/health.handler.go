package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/platformbuilds/atalaya/internal/config"
	"github.com/platformbuilds/atalaya/internal/services"
	"github.com/platformbuilds/atalaya/pkg/cache"
	"github.com/platformbuilds/atalaya/pkg/logger"
)

// HealthHandler reports liveness and readiness. External collaborators
// (Valkey, the search index, the stream broker) only degrade readiness:
// ingestion keeps working without them. The in-process recent index is the
// one component whose failure marks the service unready.
type HealthHandler struct {
	cache  cache.ValkeyCache
	index  *services.SearchIndexService
	recent *services.RecentSearchService
	stream *services.StreamConsumerService
	logger logger.Logger
}

func NewHealthHandler(
	valkeyCache cache.ValkeyCache,
	index *services.SearchIndexService,
	recent *services.RecentSearchService,
	stream *services.StreamConsumerService,
	log logger.Logger,
) *HealthHandler {
	return &HealthHandler{
		cache:  valkeyCache,
		index:  index,
		recent: recent,
		stream: stream,
		logger: log,
	}
}

// GET /health - Quick liveness check
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   config.ServiceName,
		"version":   config.ServiceVersion,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// GET /ready - Component readiness check
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]interface{})
	degraded := false
	unready := false

	if h.cache != nil {
		if err := h.cache.HealthCheck(ctx); err != nil {
			checks["valkey"] = gin.H{"status": "degraded", "error": err.Error()}
			degraded = true
		} else {
			checks["valkey"] = gin.H{"status": "healthy"}
		}
	}

	if h.index != nil {
		if err := h.index.HealthCheck(ctx); err != nil {
			checks["search_index"] = gin.H{"status": "degraded", "error": err.Error()}
			degraded = true
		} else {
			checks["search_index"] = gin.H{"status": "healthy"}
		}
	} else {
		checks["search_index"] = gin.H{"status": "disabled"}
	}

	if h.recent != nil {
		if err := h.recent.HealthCheck(ctx); err != nil {
			checks["recent_index"] = gin.H{"status": "unhealthy", "error": err.Error()}
			unready = true
		} else {
			checks["recent_index"] = gin.H{"status": "healthy"}
		}
	} else {
		checks["recent_index"] = gin.H{"status": "disabled"}
	}

	if h.stream != nil {
		if h.stream.Connected() {
			checks["stream"] = gin.H{"status": "healthy"}
		} else {
			checks["stream"] = gin.H{"status": "degraded", "error": "not connected"}
			degraded = true
		}
	} else {
		checks["stream"] = gin.H{"status": "disabled"}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if degraded {
		status = "degraded"
	}
	if unready {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{
		"status":    status,
		"service":   config.ServiceName,
		"version":   config.ServiceVersion,
		"checks":    checks,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}
