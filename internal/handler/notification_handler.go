package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sngor/bayon-realtime/internal/model"
	"github.com/sngor/bayon-realtime/internal/repo"
	"github.com/sngor/bayon-realtime/internal/scheduler"
)

// NotificationHandler is the producer-facing dispatch API for the delivery
// pipeline.
type NotificationHandler interface {
	Dispatch(c *gin.Context)
	GetStatus(c *gin.Context)
}

type notificationHandler struct {
	notifications repo.NotificationRepository
	deliveries    repo.DeliveryRepository
	retries       *scheduler.RetryScheduler
	validator     *validator.Validate
	logger        *zap.Logger
}

// NewNotificationHandler creates a new notification handler.
func NewNotificationHandler(
	notifications repo.NotificationRepository,
	deliveries repo.DeliveryRepository,
	retries *scheduler.RetryScheduler,
	v *validator.Validate,
	logger *zap.Logger,
) NotificationHandler {
	return &notificationHandler{
		notifications: notifications,
		deliveries:    deliveries,
		retries:       retries,
		validator:     v,
		logger:        logger,
	}
}

type dispatchTarget struct {
	Channel   string `json:"channel" validate:"required,oneof=websocket email telegram"`
	Recipient string `json:"recipient" validate:"required"`
}

type dispatchRequest struct {
	Title     string            `json:"title" validate:"required"`
	Body      string            `json:"body"`
	Kind      string            `json:"kind"`
	ExpiresAt *time.Time        `json:"expiresAt"`
	Metadata  map[string]string `json:"metadata"`
	Targets   []dispatchTarget  `json:"targets" validate:"required,min=1,dive"`
}

// Dispatch creates the notification, one delivery record per target, and
// performs the first delivery attempt inline. Attempt failures do not fail
// the request; the retry scheduler owns them from here.
func (h *notificationHandler) Dispatch(c *gin.Context) {
	var req dispatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := h.validator.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation error: " + err.Error()})
		return
	}

	ctx := c.Request.Context()
	now := time.Now().UTC()

	notification := &model.Notification{
		ID:        uuid.New().String(),
		Title:     req.Title,
		Body:      req.Body,
		Kind:      req.Kind,
		Metadata:  req.Metadata,
		Status:    model.NotificationActive,
		ExpiresAt: req.ExpiresAt,
		CreatedAt: now,
	}

	if err := h.notifications.Create(ctx, notification); err != nil {
		h.logger.Error("failed to create notification", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	for _, target := range req.Targets {
		delivery := &model.Delivery{
			ID:              uuid.New().String(),
			NotificationID:  notification.ID,
			Channel:         target.Channel,
			Recipient:       target.Recipient,
			State:           model.DeliveryPending,
			NextRetryAt:     &now,
			FirstDispatchAt: now,
		}

		if err := h.deliveries.Create(ctx, delivery); err != nil {
			h.logger.Error("failed to create delivery record",
				zap.Error(err),
				zap.String("notification_id", notification.ID),
				zap.String("channel", target.Channel),
			)
			continue
		}

		if err := h.retries.AttemptDelivery(ctx, *delivery, *notification); err != nil {
			h.logger.Warn("first dispatch attempt failed",
				zap.Error(err),
				zap.String("delivery_id", delivery.ID),
			)
		}
	}

	deliveries, err := h.deliveries.ListByNotification(ctx, notification.ID)
	if err != nil {
		h.logger.Error("failed to load delivery states", zap.Error(err))
		deliveries = nil
	}

	c.JSON(http.StatusCreated, gin.H{
		"notification": notification,
		"deliveries":   deliveries,
	})
}

// GetStatus returns the parent record and the state of every delivery.
func (h *notificationHandler) GetStatus(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing id"})
		return
	}

	ctx := c.Request.Context()

	notification, err := h.notifications.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "notification not found"})
			return
		}
		h.logger.Error("failed to get notification", zap.Error(err), zap.String("id", id))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	deliveries, err := h.deliveries.ListByNotification(ctx, id)
	if err != nil {
		h.logger.Error("failed to list deliveries", zap.Error(err), zap.String("id", id))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"notification": notification,
		"deliveries":   deliveries,
	})
}
