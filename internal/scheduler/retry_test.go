package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sngor/bayon-realtime/internal/model"
)

type retryMark struct {
	attempts    int
	nextRetryAt time.Time
	lastErr     string
}

type deadMark struct {
	attempts int
	lastErr  string
}

type fakeDeliveryStore struct {
	due       []model.Delivery
	findErr   error
	delivered map[string]time.Time
	retried   map[string]retryMark
	dead      map[string]deadMark
}

func newFakeDeliveryStore(due ...model.Delivery) *fakeDeliveryStore {
	return &fakeDeliveryStore{
		due:       due,
		delivered: make(map[string]time.Time),
		retried:   make(map[string]retryMark),
		dead:      make(map[string]deadMark),
	}
}

func (f *fakeDeliveryStore) FindDue(context.Context, time.Time) ([]model.Delivery, error) {
	return f.due, f.findErr
}

func (f *fakeDeliveryStore) MarkDelivered(_ context.Context, id string, at time.Time) error {
	f.delivered[id] = at
	return nil
}

func (f *fakeDeliveryStore) MarkRetry(_ context.Context, id string, attempts int, nextRetryAt time.Time, lastErr string) error {
	f.retried[id] = retryMark{attempts: attempts, nextRetryAt: nextRetryAt, lastErr: lastErr}
	return nil
}

func (f *fakeDeliveryStore) MarkDeadLettered(_ context.Context, id string, attempts int, lastErr string) error {
	f.dead[id] = deadMark{attempts: attempts, lastErr: lastErr}
	return nil
}

type fakeNotificationStore struct {
	notifications map[string]model.Notification
}

func (f *fakeNotificationStore) Get(_ context.Context, id string) (*model.Notification, error) {
	n, ok := f.notifications[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return &n, nil
}

type scriptedSender struct {
	errs  []error
	calls int
}

func (s *scriptedSender) Send(context.Context, model.Delivery, model.Notification) error {
	err := s.errs[s.calls%len(s.errs)]
	s.calls++
	return err
}

func newTestScheduler(store *fakeDeliveryStore, notifications *fakeNotificationStore, sender ChannelSender, at time.Time) *RetryScheduler {
	dispatcher := NewDispatcher(zap.NewNop())
	dispatcher.Register(model.ChannelWebsocket, sender)
	s := NewRetryScheduler(store, notifications, dispatcher, time.Minute, zap.NewNop())
	s.now = func() time.Time { return at }
	return s
}

func pendingDelivery(id string, attempts int, firstDispatchAt time.Time) model.Delivery {
	return model.Delivery{
		ID:              id,
		NotificationID:  "n1",
		Channel:         model.ChannelWebsocket,
		Recipient:       "user-1",
		Attempts:        attempts,
		State:           model.DeliveryPending,
		FirstDispatchAt: firstDispatchAt,
	}
}

func singleNotification() *fakeNotificationStore {
	return &fakeNotificationStore{notifications: map[string]model.Notification{
		"n1": {ID: "n1", Title: "hi", Status: model.NotificationActive},
	}}
}

func TestRetrySuccessMarksDelivered(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeDeliveryStore(pendingDelivery("d1", 2, now.Add(-time.Hour)))
	sched := newTestScheduler(store, singleNotification(), &scriptedSender{errs: []error{nil}}, now)

	report := sched.Run(context.Background())

	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 0, report.Failed)
	assert.Contains(t, store.delivered, "d1")
	assert.Empty(t, store.retried)
	assert.Empty(t, store.dead)
}

func TestRetryFailureSchedulesExponentialBackoff(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sender := &scriptedSender{errs: []error{errors.New("smtp timeout")}}

	// attempts goes 0 -> 1, so the wait is Delay(0) = 1 minute.
	store := newFakeDeliveryStore(pendingDelivery("d1", 0, now.Add(-time.Minute)))
	sched := newTestScheduler(store, singleNotification(), sender, now)

	report := sched.Run(context.Background())

	require.Contains(t, store.retried, "d1")
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, store.retried["d1"].attempts)
	assert.Equal(t, now.Add(1*time.Minute), store.retried["d1"].nextRetryAt)
	assert.Equal(t, "smtp timeout", store.retried["d1"].lastErr)
}

func TestRetryBackoffGrowsWithAttempts(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for _, tc := range []struct {
		attempts int
		wait     time.Duration
	}{
		{0, 1 * time.Minute},
		{1, 2 * time.Minute},
		{2, 4 * time.Minute},
		{3, 8 * time.Minute},
		{4, 16 * time.Minute},
	} {
		store := newFakeDeliveryStore(pendingDelivery("d1", tc.attempts, now.Add(-time.Hour)))
		sched := newTestScheduler(store, singleNotification(), &scriptedSender{errs: []error{errors.New("boom")}}, now)

		sched.Run(context.Background())

		require.Contains(t, store.retried, "d1", "attempts=%d", tc.attempts)
		assert.Equal(t, now.Add(tc.wait), store.retried["d1"].nextRetryAt, "attempts=%d", tc.attempts)
	}
}

func TestRetrySixthFailureDeadLetters(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Five failures already recorded; this failure is the sixth and final.
	store := newFakeDeliveryStore(pendingDelivery("d1", 5, now.Add(-time.Hour)))
	sched := newTestScheduler(store, singleNotification(), &scriptedSender{errs: []error{errors.New("still down")}}, now)

	report := sched.Run(context.Background())

	assert.Equal(t, 1, report.Failed)
	assert.Empty(t, store.retried, "a dead-lettered record must not be rescheduled")
	require.Contains(t, store.dead, "d1")
	assert.Equal(t, MaxAttempts, store.dead["d1"].attempts)
	assert.Equal(t, "still down", store.dead["d1"].lastErr)
}

func TestRetryAgedRecordDeadLettersWithoutAttempt(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sender := &scriptedSender{errs: []error{nil}}

	store := newFakeDeliveryStore(pendingDelivery("d1", 2, now.Add(-MaxAge)))
	sched := newTestScheduler(store, singleNotification(), sender, now)

	report := sched.Run(context.Background())

	assert.Equal(t, 0, sender.calls, "no send once the record is past max age")
	assert.Equal(t, 1, report.Succeeded, "age escalation is a successful outcome for the job")
	require.Contains(t, store.dead, "d1")
	assert.Equal(t, "exceeded max age", store.dead["d1"].lastErr)
}

func TestRetryOneFailureDoesNotAbortBatch(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sender := &scriptedSender{errs: []error{errors.New("boom"), nil}}

	store := newFakeDeliveryStore(
		pendingDelivery("d1", 0, now.Add(-time.Minute)),
		pendingDelivery("d2", 0, now.Add(-time.Minute)),
	)
	sched := newTestScheduler(store, singleNotification(), sender, now)

	report := sched.Run(context.Background())

	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	assert.Contains(t, store.retried, "d1")
	assert.Contains(t, store.delivered, "d2")
}

func TestRetryUnknownChannelCountsAsFailure(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	delivery := pendingDelivery("d1", 0, now.Add(-time.Minute))
	delivery.Channel = "carrier-pigeon"
	store := newFakeDeliveryStore(delivery)
	sched := newTestScheduler(store, singleNotification(), &scriptedSender{errs: []error{nil}}, now)

	report := sched.Run(context.Background())

	assert.Equal(t, 1, report.Failed)
	require.Contains(t, store.retried, "d1")
	assert.Contains(t, store.retried["d1"].lastErr, "unknown delivery channel")
}
