package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sngor/bayon-realtime/internal/metrics"
	"github.com/sngor/bayon-realtime/internal/model"
)

// DeliveryStore is the slice of the delivery repository the scheduler
// needs. All transitions are idempotent: terminal records never match the
// pending filter, so resuming a partial run is safe.
type DeliveryStore interface {
	FindDue(ctx context.Context, now time.Time) ([]model.Delivery, error)
	MarkDelivered(ctx context.Context, id string, at time.Time) error
	MarkRetry(ctx context.Context, id string, attempts int, nextRetryAt time.Time, lastErr string) error
	MarkDeadLettered(ctx context.Context, id string, attempts int, lastErr string) error
}

// NotificationStore resolves the parent record of a delivery.
type NotificationStore interface {
	Get(ctx context.Context, id string) (*model.Notification, error)
}

// RetryScheduler re-attempts failed notification deliveries with bounded
// exponential backoff, escalating to dead-letter after MaxAttempts failures
// or MaxAge of total age.
type RetryScheduler struct {
	deliveries    DeliveryStore
	notifications NotificationStore
	dispatcher    *Dispatcher
	timeout       time.Duration
	now           func() time.Time
	logger        *zap.Logger
}

// NewRetryScheduler creates a scheduler. timeout caps one run's wall clock.
func NewRetryScheduler(
	deliveries DeliveryStore,
	notifications NotificationStore,
	dispatcher *Dispatcher,
	timeout time.Duration,
	logger *zap.Logger,
) *RetryScheduler {
	return &RetryScheduler{
		deliveries:    deliveries,
		notifications: notifications,
		dispatcher:    dispatcher,
		timeout:       timeout,
		now:           time.Now,
		logger:        logger,
	}
}

// Run selects every due pending record and re-attempts it. One record's
// failure never aborts the batch.
func (s *RetryScheduler) Run(ctx context.Context) model.JobReport {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	report := model.JobReport{Errors: []string{}}

	due, err := s.deliveries.FindDue(ctx, s.now().UTC())
	if err != nil {
		report.Failed++
		report.Errors = append(report.Errors, fmt.Sprintf("find due deliveries: %v", err))
		metrics.JobRuns.WithLabelValues("retry", "error").Inc()
		return report
	}

	for _, delivery := range due {
		report.Record(s.process(ctx, delivery))
	}

	result := "ok"
	if report.Failed > 0 {
		result = "partial"
	}
	metrics.JobRuns.WithLabelValues("retry", result).Inc()

	s.logger.Info("retry run finished",
		zap.Int("processed", report.Processed),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
	)
	return report
}

func (s *RetryScheduler) process(ctx context.Context, delivery model.Delivery) error {
	now := s.now().UTC()

	// Age escalation happens before any further attempt.
	if now.Sub(delivery.FirstDispatchAt) >= MaxAge {
		if err := s.deliveries.MarkDeadLettered(ctx, delivery.ID, delivery.Attempts, "exceeded max age"); err != nil {
			return fmt.Errorf("dead-letter aged delivery %s: %w", delivery.ID, err)
		}
		s.logger.Warn("delivery dead-lettered: exceeded max age",
			zap.String("delivery_id", delivery.ID),
			zap.Int("attempts", delivery.Attempts),
		)
		return nil
	}

	notification, err := s.notifications.Get(ctx, delivery.NotificationID)
	if err != nil {
		return s.applyFailure(ctx, delivery, fmt.Errorf("load notification %s: %w", delivery.NotificationID, err))
	}

	return s.AttemptDelivery(ctx, delivery, *notification)
}

// AttemptDelivery performs one attempt and applies the state machine:
// success → delivered (terminal); failure below MaxAttempts → pending with
// next-retry-at pushed by Delay; failure at MaxAttempts → dead-lettered
// (terminal). Also used for the inline first dispatch.
func (s *RetryScheduler) AttemptDelivery(ctx context.Context, delivery model.Delivery, notification model.Notification) error {
	err := s.dispatcher.Dispatch(ctx, delivery, notification)
	if err == nil {
		metrics.DeliveryAttempts.WithLabelValues(delivery.Channel, "delivered").Inc()
		if markErr := s.deliveries.MarkDelivered(ctx, delivery.ID, s.now().UTC()); markErr != nil {
			return fmt.Errorf("mark delivered %s: %w", delivery.ID, markErr)
		}
		return nil
	}

	metrics.DeliveryAttempts.WithLabelValues(delivery.Channel, "failed").Inc()
	return s.applyFailure(ctx, delivery, err)
}

func (s *RetryScheduler) applyFailure(ctx context.Context, delivery model.Delivery, cause error) error {
	attempts := delivery.Attempts + 1

	if attempts >= MaxAttempts {
		if err := s.deliveries.MarkDeadLettered(ctx, delivery.ID, attempts, cause.Error()); err != nil {
			return fmt.Errorf("dead-letter delivery %s: %w", delivery.ID, err)
		}
		s.logger.Warn("delivery dead-lettered: retries exhausted",
			zap.String("delivery_id", delivery.ID),
			zap.Int("attempts", attempts),
			zap.String("last_error", cause.Error()),
		)
		return fmt.Errorf("delivery %s dead-lettered: %w", delivery.ID, cause)
	}

	nextRetryAt := s.now().UTC().Add(Delay(attempts - 1))
	if err := s.deliveries.MarkRetry(ctx, delivery.ID, attempts, nextRetryAt, cause.Error()); err != nil {
		return fmt.Errorf("schedule retry for %s: %w", delivery.ID, err)
	}
	return fmt.Errorf("delivery %s attempt %d failed: %w", delivery.ID, attempts, cause)
}
