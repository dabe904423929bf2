package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/platformbuilds/atalaya/internal/models"
	"github.com/platformbuilds/atalaya/internal/services"
	"github.com/platformbuilds/atalaya/pkg/logger"
)

// SearchHandler serves structural log search. /search translates the request
// for the external index; /search/recent runs against the in-process index of
// the latest records and works even when the external index is down.
type SearchHandler struct {
	search *services.SearchService
	recent *services.RecentSearchService
	logger logger.Logger
}

func NewSearchHandler(search *services.SearchService, recent *services.RecentSearchService, log logger.Logger) *SearchHandler {
	return &SearchHandler{
		search: search,
		recent: recent,
		logger: log,
	}
}

// POST /api/v1/search - full search against the external index
func (h *SearchHandler) Search(c *gin.Context) {
	if h.search == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "search index is not configured"})
		return
	}

	var req models.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid search request: " + err.Error()})
		return
	}

	resp, err := h.search.Search(c.Request.Context(), &req)
	if err != nil {
		h.logger.Error("search failed", "query", req.Query, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "search failed"})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// POST /api/v1/search/recent - search the in-process live-tail index
func (h *SearchHandler) SearchRecent(c *gin.Context) {
	if h.recent == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "recent search is disabled"})
		return
	}

	var req models.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid search request: " + err.Error()})
		return
	}

	resp, err := h.recent.Search(c.Request.Context(), &req)
	if err != nil {
		h.logger.Error("recent search failed", "query", req.Query, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "recent search failed"})
		return
	}

	c.JSON(http.StatusOK, resp)
}
