package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/platformbuilds/atalaya/internal/services"
	"github.com/platformbuilds/atalaya/pkg/logger"
)

// StatsHandler serves process-wide ingestion counters. These are independent
// of the realtime cache, so they stay accurate when Valkey degrades.
type StatsHandler struct {
	stats    *services.IngestStatsService
	pipeline *services.IngestPipelineService
	logger   logger.Logger
}

func NewStatsHandler(stats *services.IngestStatsService, pipeline *services.IngestPipelineService, log logger.Logger) *StatsHandler {
	return &StatsHandler{
		stats:    stats,
		pipeline: pipeline,
		logger:   log,
	}
}

// GET /api/v1/stats
func (h *StatsHandler) GetStats(c *gin.Context) {
	snapshot := h.stats.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"ingest":     snapshot,
		"queueDepth": h.pipeline.QueueDepth(),
	})
}
