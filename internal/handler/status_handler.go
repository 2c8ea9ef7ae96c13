package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sngor/bayon-realtime/internal/repo"
)

// StatusHandler serves live status read-back: clients that subscribe after
// an update read the current record instead of waiting for the next event.
type StatusHandler interface {
	GetStatus(c *gin.Context)
}

type statusHandler struct {
	statuses repo.StatusRepository
	logger   *zap.Logger
}

// NewStatusHandler creates a new status handler.
func NewStatusHandler(statuses repo.StatusRepository, logger *zap.Logger) StatusHandler {
	return &statusHandler{
		statuses: statuses,
		logger:   logger,
	}
}

func (h *statusHandler) GetStatus(c *gin.Context) {
	resourceType := c.Param("resourceType")
	resourceID := c.Param("resourceId")

	status, err := h.statuses.GetStatus(c.Request.Context(), resourceType, resourceID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "status not found"})
			return
		}
		if errors.Is(err, repo.ErrInvalidResource) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("failed to get live status",
			zap.Error(err),
			zap.String("resource_type", resourceType),
			zap.String("resource_id", resourceID),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	c.JSON(http.StatusOK, status)
}
