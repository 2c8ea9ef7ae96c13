package repo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"github.com/sngor/bayon-realtime/internal/db"
	"github.com/sngor/bayon-realtime/internal/model"
)

// DeliveryRepository stores per-(channel, recipient) delivery records.
// State transitions only move records out of pending, so re-applying a
// transition after a partial run is a no-op.
type DeliveryRepository interface {
	Create(ctx context.Context, d *model.Delivery) error
	ListByNotification(ctx context.Context, notificationID string) ([]model.Delivery, error)
	FindDue(ctx context.Context, now time.Time) ([]model.Delivery, error)
	MarkDelivered(ctx context.Context, id string, at time.Time) error
	MarkRetry(ctx context.Context, id string, attempts int, nextRetryAt time.Time, lastErr string) error
	MarkDeadLettered(ctx context.Context, id string, attempts int, lastErr string) error
	FindOlderThan(ctx context.Context, cutoff time.Time) ([]string, error)
	DeleteBatch(ctx context.Context, ids []string) error
	DistinctNotificationIDs(ctx context.Context) ([]string, error)
	FindDispatchedBetween(ctx context.Context, from, to time.Time) ([]model.Delivery, error)
}

type deliveryRepository struct {
	mongoRepo *db.Repository[model.Delivery]
	logger    *zap.Logger
}

// NewDeliveryRepository creates a new delivery repository.
func NewDeliveryRepository(mongoRepo *db.Repository[model.Delivery], logger *zap.Logger) DeliveryRepository {
	return &deliveryRepository{
		mongoRepo: mongoRepo,
		logger:    logger,
	}
}

func (r *deliveryRepository) Create(ctx context.Context, d *model.Delivery) error {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	if _, err := r.mongoRepo.Create(ctx, *d); err != nil {
		return fmt.Errorf("create delivery: %w", err)
	}
	return nil
}

func (r *deliveryRepository) ListByNotification(ctx context.Context, notificationID string) ([]model.Delivery, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	deliveries, err := r.mongoRepo.FindAll(ctx, db.NewFilter().Eq("notification_id", notificationID).Build())
	if err != nil {
		return nil, fmt.Errorf("list deliveries for notification %s: %w", notificationID, err)
	}
	return deliveries, nil
}

// FindDue returns pending deliveries whose retry time has arrived.
func (r *deliveryRepository) FindDue(ctx context.Context, now time.Time) ([]model.Delivery, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := db.NewFilter().
		Eq("state", model.DeliveryPending).
		Lte("next_retry_at", now).
		Build()

	deliveries, err := r.mongoRepo.FindAll(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("find due deliveries: %w", err)
	}
	return deliveries, nil
}

func (r *deliveryRepository) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	return r.transition(ctx, id, bson.M{
		"state":        model.DeliveryDelivered,
		"delivered_at": at,
		"last_error":   "",
	})
}

func (r *deliveryRepository) MarkRetry(ctx context.Context, id string, attempts int, nextRetryAt time.Time, lastErr string) error {
	return r.transition(ctx, id, bson.M{
		"state":         model.DeliveryPending,
		"attempts":      attempts,
		"next_retry_at": nextRetryAt,
		"last_error":    lastErr,
	})
}

func (r *deliveryRepository) MarkDeadLettered(ctx context.Context, id string, attempts int, lastErr string) error {
	return r.transition(ctx, id, bson.M{
		"state":      model.DeliveryDeadLettered,
		"attempts":   attempts,
		"last_error": lastErr,
	})
}

// transition updates a record that is still pending. Terminal records never
// match the filter, which makes re-marking after a resumed run harmless.
func (r *deliveryRepository) transition(ctx context.Context, id string, set bson.M) error {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	filter := db.NewFilter().
		Eq("_id", id).
		Eq("state", model.DeliveryPending).
		Build()

	if _, err := r.mongoRepo.Update(ctx, filter, set); err != nil {
		return fmt.Errorf("transition delivery %s: %w", id, err)
	}
	return nil
}

// FindOlderThan returns ids of deliveries first dispatched before cutoff.
func (r *deliveryRepository) FindOlderThan(ctx context.Context, cutoff time.Time) ([]string, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := db.NewFilter().Lt("first_dispatch_at", cutoff).Build()
	return r.findIDs(ctx, filter)
}

func (r *deliveryRepository) DeleteBatch(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	anyIDs := make([]any, len(ids))
	for i, id := range ids {
		anyIDs[i] = id
	}
	if _, err := r.mongoRepo.DeleteByIDs(ctx, anyIDs); err != nil {
		return fmt.Errorf("delete deliveries: %w", err)
	}
	return nil
}

func (r *deliveryRepository) DistinctNotificationIDs(ctx context.Context) ([]string, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	values, err := r.mongoRepo.Distinct(ctx, "notification_id", db.Empty())
	if err != nil {
		return nil, fmt.Errorf("distinct notification ids: %w", err)
	}

	ids := make([]string, 0, len(values))
	for _, v := range values {
		if id, ok := v.(string); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// FindDispatchedBetween returns deliveries first dispatched in [from, to),
// the input of the daily rollup.
func (r *deliveryRepository) FindDispatchedBetween(ctx context.Context, from, to time.Time) ([]model.Delivery, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := bson.M{"first_dispatch_at": bson.M{"$gte": from, "$lt": to}}
	deliveries, err := r.mongoRepo.FindAll(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("find deliveries in window: %w", err)
	}
	return deliveries, nil
}

func (r *deliveryRepository) findIDs(ctx context.Context, filter bson.M) ([]string, error) {
	values, err := r.mongoRepo.Distinct(ctx, "_id", filter)
	if err != nil {
		return nil, fmt.Errorf("find delivery ids: %w", err)
	}

	ids := make([]string, 0, len(values))
	for _, v := range values {
		if id, ok := v.(string); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
