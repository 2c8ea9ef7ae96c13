package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sngor/bayon-realtime/internal/hub"
)

// MonitorHandler handles monitoring API endpoints
type MonitorHandler interface {
	GetHubStats(c *gin.Context)
}

type monitorHandler struct {
	monitorService *hub.MonitorService
	logger         *zap.Logger
}

// NewMonitorHandler creates a new monitor handler
func NewMonitorHandler(monitorService *hub.MonitorService, logger *zap.Logger) MonitorHandler {
	return &monitorHandler{
		monitorService: monitorService,
		logger:         logger,
	}
}

// GetHubStats returns connection and room statistics reconstructed from
// the durable registry.
func (h *monitorHandler) GetHubStats(c *gin.Context) {
	stats, err := h.monitorService.GetStats(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to gather hub stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to gather stats"})
		return
	}

	c.JSON(http.StatusOK, stats)
}
