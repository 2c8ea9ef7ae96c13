package repo

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/sngor/bayon-realtime/internal/db"
	"github.com/sngor/bayon-realtime/internal/model"
)

// RollupRepository stores daily delivery rollups, keyed by day so a re-run
// of the cleanup job overwrites rather than duplicates.
type RollupRepository interface {
	Save(ctx context.Context, rollup *model.DeliveryRollup) error
}

type rollupRepository struct {
	mongoRepo *db.Repository[model.DeliveryRollup]
	logger    *zap.Logger
}

// NewRollupRepository creates a new rollup repository.
func NewRollupRepository(mongoRepo *db.Repository[model.DeliveryRollup], logger *zap.Logger) RollupRepository {
	return &rollupRepository{
		mongoRepo: mongoRepo,
		logger:    logger,
	}
}

func (r *rollupRepository) Save(ctx context.Context, rollup *model.DeliveryRollup) error {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	filter := db.NewFilter().Eq("_id", rollup.Day).Build()
	if _, err := r.mongoRepo.Upsert(ctx, filter, *rollup); err != nil {
		return fmt.Errorf("save rollup for %s: %w", rollup.Day, err)
	}
	return nil
}
