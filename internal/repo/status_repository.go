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

var ErrInvalidResource = errors.New("invalid resource: type and id are required")

// StatusRepository stores live status records, one per (resource type,
// resource id). Writes overwrite in place; latest wins.
type StatusRepository interface {
	UpsertStatus(ctx context.Context, status *model.LiveStatus) error
	GetStatus(ctx context.Context, resourceType, resourceID string) (*model.LiveStatus, error)
}

type statusRepository struct {
	mongoRepo *db.Repository[model.LiveStatus]
	logger    *zap.Logger
}

// NewStatusRepository creates a new live status repository.
func NewStatusRepository(mongoRepo *db.Repository[model.LiveStatus], logger *zap.Logger) StatusRepository {
	return &statusRepository{
		mongoRepo: mongoRepo,
		logger:    logger,
	}
}

func (s *statusRepository) UpsertStatus(ctx context.Context, status *model.LiveStatus) error {
	if status == nil || status.ResourceType == "" || status.ResourceID == "" {
		return ErrInvalidResource
	}

	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	filter := db.NewFilter().
		Eq("resource_type", status.ResourceType).
		Eq("resource_id", status.ResourceID).
		Build()

	if _, err := s.mongoRepo.Upsert(ctx, filter, *status); err != nil {
		s.logger.Error("failed to upsert live status",
			zap.Error(err),
			zap.String("resource_type", status.ResourceType),
			zap.String("resource_id", status.ResourceID),
		)
		return fmt.Errorf("upsert live status: %w", err)
	}
	return nil
}

// GetStatus reads the record back for late subscribers. The TTL monitor
// removes expired rows lazily, so the filter excludes them itself.
func (s *statusRepository) GetStatus(ctx context.Context, resourceType, resourceID string) (*model.LiveStatus, error) {
	if resourceType == "" || resourceID == "" {
		return nil, ErrInvalidResource
	}

	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := db.NewFilter().
		Eq("resource_type", resourceType).
		Eq("resource_id", resourceID).
		Gt("expires_at", time.Now().UTC()).
		Build()

	status, err := s.mongoRepo.FindOne(ctx, filter)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get live status: %w", err)
	}
	return status, nil
}
