package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/platformbuilds/atalaya/internal/models"
	"github.com/platformbuilds/atalaya/internal/services"
	"github.com/platformbuilds/atalaya/pkg/logger"
)

// LogsHandler exposes log ingestion and the realtime views backed by the
// cache. Ingestion is synchronous: the record in the response already went
// through parse, enrich, cache and alert evaluation.
type LogsHandler struct {
	pipeline *services.IngestPipelineService
	realtime *services.RealtimeCacheService
	logger   logger.Logger

	maxBulkLines   int
	maxRecentLimit int
}

func NewLogsHandler(pipeline *services.IngestPipelineService, realtime *services.RealtimeCacheService, log logger.Logger) *LogsHandler {
	return &LogsHandler{
		pipeline:       pipeline,
		realtime:       realtime,
		logger:         log,
		maxBulkLines:   5000,
		maxRecentLimit: 1000,
	}
}

// POST /api/v1/logs - ingest a single raw line
func (h *LogsHandler) Ingest(c *gin.Context) {
	var req models.IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "line is required"})
		return
	}

	record := h.pipeline.Process(c.Request.Context(), req.Line, req.Source)
	c.JSON(http.StatusAccepted, models.IngestResponse{
		Accepted: 1,
		Records:  []*models.LogRecord{record},
	})
}

// POST /api/v1/logs/bulk - ingest a batch of raw lines
func (h *LogsHandler) IngestBulk(c *gin.Context) {
	var req models.BulkIngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lines are required"})
		return
	}
	if len(req.Lines) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lines are required"})
		return
	}
	if len(req.Lines) > h.maxBulkLines {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error":     "too many lines in one batch",
			"max_lines": h.maxBulkLines,
		})
		return
	}

	records := h.pipeline.ProcessBulk(c.Request.Context(), req.Lines, req.Source)
	c.JSON(http.StatusAccepted, models.IngestResponse{
		Accepted: len(records),
		Records:  records,
	})
}

// GET /api/v1/logs/recent?limit= - newest records from the realtime cache
func (h *LogsHandler) Recent(c *gin.Context) {
	limit := h.parseLimit(c, 100)
	records := h.realtime.GetRecent(c.Request.Context(), limit)
	c.JSON(http.StatusOK, gin.H{
		"count":   len(records),
		"records": records,
	})
}

// GET /api/v1/logs/recent/errors?limit= - newest error-level records
func (h *LogsHandler) RecentErrors(c *gin.Context) {
	limit := h.parseLimit(c, 100)
	records := h.realtime.GetRecentErrors(c.Request.Context(), limit)
	c.JSON(http.StatusOK, gin.H{
		"count":   len(records),
		"records": records,
	})
}

// GET /api/v1/logs/stats - aggregate view derived from the realtime cache
func (h *LogsHandler) RealtimeStats(c *gin.Context) {
	stats := h.realtime.GetStats(c.Request.Context())
	c.JSON(http.StatusOK, stats)
}

func (h *LogsHandler) parseLimit(c *gin.Context, def int) int {
	raw := c.Query("limit")
	if raw == "" {
		return def
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return def
	}
	if limit > h.maxRecentLimit {
		return h.maxRecentLimit
	}
	return limit
}
