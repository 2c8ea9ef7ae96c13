package scheduler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/sngor/bayon-realtime/internal/metrics"
	"github.com/sngor/bayon-realtime/internal/model"
)

const (
	// deleteBatchSize matches the underlying store's batch write limit.
	deleteBatchSize = 25

	// purgeGracePeriod keeps expired notifications around for a week.
	purgeGracePeriod = 7 * 24 * time.Hour

	// deliveryRetention bounds how long delivery records are kept.
	deliveryRetention = 30 * 24 * time.Hour

	topFailureReasons = 5
)

// NotificationMaintenance is the maintenance slice of the notification
// repository.
type NotificationMaintenance interface {
	FindExpireDue(ctx context.Context, now time.Time) ([]string, error)
	MarkExpired(ctx context.Context, ids []string) error
	FindPurgeDue(ctx context.Context, cutoff time.Time) ([]string, error)
	DeleteBatch(ctx context.Context, ids []string) error
	FilterExisting(ctx context.Context, ids []string) (map[string]bool, error)
}

// DeliveryMaintenance is the maintenance slice of the delivery repository.
type DeliveryMaintenance interface {
	FindOlderThan(ctx context.Context, cutoff time.Time) ([]string, error)
	DeleteBatch(ctx context.Context, ids []string) error
	DistinctNotificationIDs(ctx context.Context) ([]string, error)
	ListByNotification(ctx context.Context, notificationID string) ([]model.Delivery, error)
	FindDispatchedBetween(ctx context.Context, from, to time.Time) ([]model.Delivery, error)
}

// RollupStore persists daily rollups.
type RollupStore interface {
	Save(ctx context.Context, rollup *model.DeliveryRollup) error
}

// Cleanup runs the daily retention and aggregation pass: five tasks, each
// isolated so one failing never prevents the rest. Dry-run computes every
// candidate set without mutating anything.
type Cleanup struct {
	notifications NotificationMaintenance
	deliveries    DeliveryMaintenance
	rollups       RollupStore
	timeout       time.Duration
	now           func() time.Time
	logger        *zap.Logger
}

// NewCleanup creates the aggregator. timeout caps one run's wall clock.
func NewCleanup(
	notifications NotificationMaintenance,
	deliveries DeliveryMaintenance,
	rollups RollupStore,
	timeout time.Duration,
	logger *zap.Logger,
) *Cleanup {
	return &Cleanup{
		notifications: notifications,
		deliveries:    deliveries,
		rollups:       rollups,
		timeout:       timeout,
		now:           time.Now,
		logger:        logger,
	}
}

// Run executes all five tasks and reports per-task outcomes.
func (c *Cleanup) Run(ctx context.Context, dryRun bool) model.JobReport {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	report := model.JobReport{Errors: []string{}, DryRun: dryRun}

	tasks := []struct {
		name string
		fn   func(context.Context, bool) error
	}{
		{"expire_notifications", c.expireNotifications},
		{"purge_expired_notifications", c.purgeExpiredNotifications},
		{"purge_old_deliveries", c.purgeOldDeliveries},
		{"daily_rollup", c.dailyRollup},
		{"purge_orphaned_deliveries", c.purgeOrphanedDeliveries},
	}

	for _, task := range tasks {
		err := task.fn(ctx, dryRun)
		if err != nil {
			err = fmt.Errorf("%s: %w", task.name, err)
			c.logger.Error("cleanup task failed", zap.String("task", task.name), zap.Error(err))
		}
		report.Record(err)
	}

	result := "ok"
	if report.Failed > 0 {
		result = "partial"
	}
	metrics.JobRuns.WithLabelValues("cleanup", result).Inc()

	c.logger.Info("cleanup run finished",
		zap.Bool("dry_run", dryRun),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
	)
	return report
}

// expireNotifications marks active notifications past their validity
// window.
func (c *Cleanup) expireNotifications(ctx context.Context, dryRun bool) error {
	ids, err := c.notifications.FindExpireDue(ctx, c.now().UTC())
	if err != nil {
		return err
	}

	c.logger.Info("notifications due for expiry", zap.Int("count", len(ids)), zap.Bool("dry_run", dryRun))
	if dryRun || len(ids) == 0 {
		return nil
	}
	return c.notifications.MarkExpired(ctx, ids)
}

// purgeExpiredNotifications deletes expired notifications past the grace
// period.
func (c *Cleanup) purgeExpiredNotifications(ctx context.Context, dryRun bool) error {
	ids, err := c.notifications.FindPurgeDue(ctx, c.now().UTC().Add(-purgeGracePeriod))
	if err != nil {
		return err
	}

	c.logger.Info("expired notifications due for purge", zap.Int("count", len(ids)), zap.Bool("dry_run", dryRun))
	if dryRun {
		return nil
	}
	return deleteInBatches(ctx, c.notifications.DeleteBatch, ids)
}

// purgeOldDeliveries deletes delivery records past retention.
func (c *Cleanup) purgeOldDeliveries(ctx context.Context, dryRun bool) error {
	ids, err := c.deliveries.FindOlderThan(ctx, c.now().UTC().Add(-deliveryRetention))
	if err != nil {
		return err
	}

	c.logger.Info("deliveries due for purge", zap.Int("count", len(ids)), zap.Bool("dry_run", dryRun))
	if dryRun {
		return nil
	}
	return deleteInBatches(ctx, c.deliveries.DeleteBatch, ids)
}

// dailyRollup aggregates the previous UTC day's delivery records.
func (c *Cleanup) dailyRollup(ctx context.Context, dryRun bool) error {
	now := c.now().UTC()
	dayEnd := now.Truncate(24 * time.Hour)
	dayStart := dayEnd.Add(-24 * time.Hour)

	deliveries, err := c.deliveries.FindDispatchedBetween(ctx, dayStart, dayEnd)
	if err != nil {
		return err
	}

	rollup := ComputeRollup(dayStart, deliveries)
	rollup.ComputedAt = now
	c.logger.Info("daily rollup computed",
		zap.String("day", rollup.Day),
		zap.Int("sent", rollup.Sent),
		zap.Float64("delivery_rate", rollup.DeliveryRate),
	)

	if dryRun {
		return nil
	}
	return c.rollups.Save(ctx, rollup)
}

// purgeOrphanedDeliveries removes deliveries whose parent notification no
// longer exists.
func (c *Cleanup) purgeOrphanedDeliveries(ctx context.Context, dryRun bool) error {
	notificationIDs, err := c.deliveries.DistinctNotificationIDs(ctx)
	if err != nil {
		return err
	}
	if len(notificationIDs) == 0 {
		return nil
	}

	existing, err := c.notifications.FilterExisting(ctx, notificationIDs)
	if err != nil {
		return err
	}

	var orphanIDs []string
	for _, notificationID := range notificationIDs {
		if existing[notificationID] {
			continue
		}
		orphans, err := c.deliveries.ListByNotification(ctx, notificationID)
		if err != nil {
			return err
		}
		for _, d := range orphans {
			orphanIDs = append(orphanIDs, d.ID)
		}
	}

	c.logger.Info("orphaned deliveries found", zap.Int("count", len(orphanIDs)), zap.Bool("dry_run", dryRun))
	if dryRun {
		return nil
	}
	return deleteInBatches(ctx, c.deliveries.DeleteBatch, orphanIDs)
}

// ComputeRollup derives the delivery-rate, latency and failure-reason
// aggregates for one day's records. Pure; exported for tests and tooling.
func ComputeRollup(day time.Time, deliveries []model.Delivery) *model.DeliveryRollup {
	rollup := &model.DeliveryRollup{
		Day:            day.Format("2006-01-02"),
		Sent:           len(deliveries),
		FailureReasons: []model.FailureReason{},
	}

	var latencySum time.Duration
	reasonCounts := make(map[string]int)

	for _, d := range deliveries {
		if d.State == model.DeliveryDelivered && d.DeliveredAt != nil {
			rollup.Delivered++
			latencySum += d.DeliveredAt.Sub(d.FirstDispatchAt)
			continue
		}
		if d.LastError != "" {
			reasonCounts[d.LastError]++
		}
	}

	if rollup.Sent > 0 {
		rollup.DeliveryRate = float64(rollup.Delivered) / float64(rollup.Sent) * 100
	}
	if rollup.Delivered > 0 {
		rollup.AvgLatencyMs = (latencySum / time.Duration(rollup.Delivered)).Milliseconds()
	}

	for reason, count := range reasonCounts {
		rollup.FailureReasons = append(rollup.FailureReasons, model.FailureReason{Reason: reason, Count: count})
	}
	sort.Slice(rollup.FailureReasons, func(i, j int) bool {
		if rollup.FailureReasons[i].Count != rollup.FailureReasons[j].Count {
			return rollup.FailureReasons[i].Count > rollup.FailureReasons[j].Count
		}
		return rollup.FailureReasons[i].Reason < rollup.FailureReasons[j].Reason
	})
	if len(rollup.FailureReasons) > topFailureReasons {
		rollup.FailureReasons = rollup.FailureReasons[:topFailureReasons]
	}

	return rollup
}

// deleteInBatches issues ceil(len(ids)/deleteBatchSize) delete calls so the
// store's batch limit is respected. A batch failure stops the task; already
// deleted batches stay deleted, and re-deleting them later is a no-op.
func deleteInBatches(ctx context.Context, deleteFn func(context.Context, []string) error, ids []string) error {
	for start := 0; start < len(ids); start += deleteBatchSize {
		end := start + deleteBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		if err := deleteFn(ctx, ids[start:end]); err != nil {
			return err
		}
	}
	return nil
}
