package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sngor/bayon-realtime/internal/repo"
)

// MessageHandler serves chat history reads.
type MessageHandler interface {
	GetRoomMessages(c *gin.Context)
}

type messageHandler struct {
	messages repo.MessageRepository
	logger   *zap.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(messages repo.MessageRepository, logger *zap.Logger) MessageHandler {
	return &messageHandler{
		messages: messages,
		logger:   logger,
	}
}

func (h *messageHandler) GetRoomMessages(c *gin.Context) {
	roomID := c.Param("roomId")
	if roomID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing roomId"})
		return
	}

	limit, err := strconv.ParseInt(c.DefaultQuery("limit", "50"), 10, 64)
	if err != nil || limit < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}

	var before time.Time
	if raw := c.Query("before"); raw != "" {
		before, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid before timestamp"})
			return
		}
	}

	msgs, err := h.messages.ListByRoom(c.Request.Context(), roomID, limit, before)
	if err != nil {
		h.logger.Error("failed to list room messages", zap.Error(err), zap.String("room_id", roomID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get messages"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}
