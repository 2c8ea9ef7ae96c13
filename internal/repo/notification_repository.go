package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/sngor/bayon-realtime/internal/db"
	"github.com/sngor/bayon-realtime/internal/model"
)

// NotificationRepository stores parent notification records.
type NotificationRepository interface {
	Create(ctx context.Context, n *model.Notification) error
	Get(ctx context.Context, id string) (*model.Notification, error)
	FindExpireDue(ctx context.Context, now time.Time) ([]string, error)
	MarkExpired(ctx context.Context, ids []string) error
	FindPurgeDue(ctx context.Context, cutoff time.Time) ([]string, error)
	DeleteBatch(ctx context.Context, ids []string) error
	FilterExisting(ctx context.Context, ids []string) (map[string]bool, error)
}

type notificationRepository struct {
	mongoRepo *db.Repository[model.Notification]
	logger    *zap.Logger
}

// NewNotificationRepository creates a new notification repository.
func NewNotificationRepository(mongoRepo *db.Repository[model.Notification], logger *zap.Logger) NotificationRepository {
	return &notificationRepository{
		mongoRepo: mongoRepo,
		logger:    logger,
	}
}

func (n *notificationRepository) Create(ctx context.Context, notification *model.Notification) error {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	if _, err := n.mongoRepo.Create(ctx, *notification); err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

func (n *notificationRepository) Get(ctx context.Context, id string) (*model.Notification, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	notification, err := n.mongoRepo.FindOne(ctx, db.NewFilter().Eq("_id", id).Build())
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get notification %s: %w", id, err)
	}
	return notification, nil
}

// FindExpireDue returns ids of active notifications whose validity window
// has passed.
func (n *notificationRepository) FindExpireDue(ctx context.Context, now time.Time) ([]string, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := db.NewFilter().
		Eq("status", model.NotificationActive).
		Lte("expires_at", now).
		Build()

	return n.findIDs(ctx, filter)
}

func (n *notificationRepository) MarkExpired(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	filter := db.NewFilter().In("_id", ids).Build()
	if _, err := n.mongoRepo.UpdateMany(ctx, filter, map[string]any{"status": model.NotificationExpired}); err != nil {
		return fmt.Errorf("mark notifications expired: %w", err)
	}
	return nil
}

// FindPurgeDue returns ids of expired notifications past the grace period.
func (n *notificationRepository) FindPurgeDue(ctx context.Context, cutoff time.Time) ([]string, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := db.NewFilter().
		Eq("status", model.NotificationExpired).
		Lte("expires_at", cutoff).
		Build()

	return n.findIDs(ctx, filter)
}

func (n *notificationRepository) DeleteBatch(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	anyIDs := make([]any, len(ids))
	for i, id := range ids {
		anyIDs[i] = id
	}
	if _, err := n.mongoRepo.DeleteByIDs(ctx, anyIDs); err != nil {
		return fmt.Errorf("delete notifications: %w", err)
	}
	return nil
}

// FilterExisting reports which of the given ids still have a parent record.
func (n *notificationRepository) FilterExisting(ctx context.Context, ids []string) (map[string]bool, error) {
	if len(ids) == 0 {
		return map[string]bool{}, nil
	}

	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	found, err := n.findIDs(ctx, db.NewFilter().In("_id", ids).Build())
	if err != nil {
		return nil, err
	}

	existing := make(map[string]bool, len(found))
	for _, id := range found {
		existing[id] = true
	}
	return existing, nil
}

func (n *notificationRepository) findIDs(ctx context.Context, filter map[string]any) ([]string, error) {
	values, err := n.mongoRepo.Distinct(ctx, "_id", filter)
	if err != nil {
		return nil, fmt.Errorf("find notification ids: %w", err)
	}

	ids := make([]string, 0, len(values))
	for _, v := range values {
		if id, ok := v.(string); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
