package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/platformbuilds/atalaya/internal/models"
	"github.com/platformbuilds/atalaya/internal/repo"
	"github.com/platformbuilds/atalaya/internal/services"
	"github.com/platformbuilds/atalaya/pkg/logger"
)

// AlertHandler manages alert rules and the lifecycle of triggered alert
// instances (open -> acknowledged -> resolved).
type AlertHandler struct {
	rules  *services.AlertRulesService
	engine *services.AlertEngineService
	logger logger.Logger
}

func NewAlertHandler(rules *services.AlertRulesService, engine *services.AlertEngineService, log logger.Logger) *AlertHandler {
	return &AlertHandler{
		rules:  rules,
		engine: engine,
		logger: log,
	}
}

// GET /api/v1/alerts/rules
func (h *AlertHandler) ListRules(c *gin.Context) {
	rules, err := h.rules.ListRules(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to list alert rules", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list alert rules"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count": len(rules),
		"rules": rules,
	})
}

// GET /api/v1/alerts/rules/:id
func (h *AlertHandler) GetRule(c *gin.Context) {
	rule, err := h.rules.GetRule(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "alert rule not found"})
			return
		}
		h.logger.Error("failed to get alert rule", "rule_id", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get alert rule"})
		return
	}
	c.JSON(http.StatusOK, rule)
}

// POST /api/v1/alerts/rules
func (h *AlertHandler) CreateRule(c *gin.Context) {
	var rule models.AlertRule
	if err := c.ShouldBindJSON(&rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid alert rule: " + err.Error()})
		return
	}

	created, err := h.rules.CreateRule(c.Request.Context(), &rule)
	if err != nil {
		if errors.Is(err, services.ErrRuleExists) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, created)
}

// PUT /api/v1/alerts/rules/:id
func (h *AlertHandler) UpdateRule(c *gin.Context) {
	var rule models.AlertRule
	if err := c.ShouldBindJSON(&rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid alert rule: " + err.Error()})
		return
	}

	updated, err := h.rules.UpdateRule(c.Request.Context(), c.Param("id"), &rule)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "alert rule not found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, updated)
}

// DELETE /api/v1/alerts/rules/:id
func (h *AlertHandler) DeleteRule(c *gin.Context) {
	if err := h.rules.DeleteRule(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "alert rule not found"})
			return
		}
		h.logger.Error("failed to delete alert rule", "rule_id", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete alert rule"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted", "id": c.Param("id")})
}

// GET /api/v1/alerts?status=&severity=&rule=&limit=
func (h *AlertHandler) ListAlerts(c *gin.Context) {
	q := repo.InstanceQuery{
		Status:   c.Query("status"),
		Severity: c.Query("severity"),
		RuleID:   c.Query("rule"),
	}
	if raw := c.Query("limit"); raw != "" {
		if limit, err := strconv.Atoi(raw); err == nil && limit > 0 {
			q.Limit = limit
		}
	}

	alerts, err := h.engine.ListAlerts(c.Request.Context(), q)
	if err != nil {
		h.logger.Error("failed to list alerts", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list alerts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count":  len(alerts),
		"alerts": alerts,
	})
}

// GET /api/v1/alerts/:id
func (h *AlertHandler) GetAlert(c *gin.Context) {
	alert, err := h.engine.GetAlert(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "alert not found"})
			return
		}
		h.logger.Error("failed to get alert", "alert_id", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get alert"})
		return
	}
	c.JSON(http.StatusOK, alert)
}

// POST /api/v1/alerts/:id/acknowledge
func (h *AlertHandler) AcknowledgeAlert(c *gin.Context) {
	alert, err := h.engine.Acknowledge(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondTransitionError(c, err)
		return
	}
	c.JSON(http.StatusOK, alert)
}

// POST /api/v1/alerts/:id/resolve
func (h *AlertHandler) ResolveAlert(c *gin.Context) {
	alert, err := h.engine.Resolve(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondTransitionError(c, err)
		return
	}
	c.JSON(http.StatusOK, alert)
}

func (h *AlertHandler) respondTransitionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repo.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "alert not found"})
	case errors.Is(err, repo.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.logger.Error("alert transition failed", "alert_id", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "alert transition failed"})
	}
}
