package reactor

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/sngor/bayon-realtime/internal/event"
	"github.com/sngor/bayon-realtime/internal/hub"
	"github.com/sngor/bayon-realtime/internal/model"
	"github.com/sngor/bayon-realtime/internal/repo"
)

// Broadcaster fans an event out to connection ids.
type Broadcaster interface {
	Broadcast(ctx context.Context, targets []string, ev event.Outbound) map[string]hub.Outcome
}

const (
	feedRetryMin = time.Second
	feedRetryMax = 30 * time.Second
)

// Reactor consumes the registry mutation feed and derives presence
// notifications. It only ever reads the registry, so reprocessing a
// mutation after an at-least-once redelivery can duplicate a notification
// but never corrupt state.
type Reactor struct {
	registry    repo.ConnectionRegistry
	resolver    CollaboratorResolver
	broadcaster Broadcaster
	logger      *zap.Logger

	// feed reopen backoff bounds; overridable in tests
	retryMin time.Duration
	retryMax time.Duration
}

// New creates a reactor over the registry, the injected collaborator
// policy, and a broadcaster.
func New(registry repo.ConnectionRegistry, resolver CollaboratorResolver, broadcaster Broadcaster, logger *zap.Logger) *Reactor {
	return &Reactor{
		registry:    registry,
		resolver:    resolver,
		broadcaster: broadcaster,
		logger:      logger,
		retryMin:    feedRetryMin,
		retryMax:    feedRetryMax,
	}
}

// Run supervises the mutation feed until ctx is done. A failed feed is
// closed and reopened with capped backoff, so presence derivation survives
// transient source errors; mutations emitted while the feed was down are
// lost, reconciled by the next registry change for the same user.
func (r *Reactor) Run(ctx context.Context, open FeedOpener) {
	retry := r.retryMin
	for {
		feed, err := open(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Error("failed to open mutation feed",
				zap.Error(err),
				zap.Duration("retry_in", retry),
			)
			if !sleep(ctx, retry) {
				return
			}
			retry = r.nextRetry(retry)
			continue
		}
		retry = r.retryMin

		err = r.drain(ctx, feed)
		if cerr := feed.Close(context.Background()); cerr != nil {
			r.logger.Warn("failed to close mutation feed", zap.Error(cerr))
		}
		if err == nil {
			return
		}

		r.logger.Error("mutation feed failed",
			zap.Error(err),
			zap.Duration("retry_in", retry),
		)
		if !sleep(ctx, retry) {
			return
		}
		retry = r.nextRetry(retry)
	}
}

// drain consumes the feed until ctx is done (nil) or the feed fails (the
// feed error). Entry-level apply failures are logged and the loop
// continues; presence derivation never escalates to callers.
func (r *Reactor) drain(ctx context.Context, feed Feed) error {
	for {
		mutation, err := feed.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}

		if err := r.Apply(ctx, mutation); err != nil {
			r.logger.Error("failed to apply mutation",
				zap.Error(err),
				zap.String("op", mutation.Op.String()),
			)
		}
	}
}

func (r *Reactor) nextRetry(d time.Duration) time.Duration {
	d *= 2
	if d > r.retryMax {
		return r.retryMax
	}
	return d
}

// sleep waits for d, reporting false when ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Apply dispatches one mutation to its handler.
func (r *Reactor) Apply(ctx context.Context, m Mutation) error {
	switch m.Op {
	case OpCreated:
		return r.onCreated(ctx, m.After)
	case OpRemoved:
		return r.onRemoved(ctx, m.Before)
	case OpModified:
		return r.onModified(ctx, m.Before, m.After)
	default:
		r.logger.Warn("unknown mutation op", zap.Int("op", int(m.Op)))
		return nil
	}
}

// onCreated emits user-online when this is the user's first live
// connection. Multi-session users only appear online once.
func (r *Reactor) onCreated(ctx context.Context, after *model.Connection) error {
	if after == nil {
		return nil
	}

	conns, err := r.registry.QueryByUser(ctx, after.UserID)
	if err != nil {
		return err
	}
	for _, conn := range conns {
		if conn.ID != after.ID {
			// Another session is already live; no transition happened.
			return nil
		}
	}

	return r.notifyCollaborators(ctx, after.UserID, event.TypeUserOnline)
}

// onRemoved emits user-offline only when the removed connection was the
// user's last one.
func (r *Reactor) onRemoved(ctx context.Context, before *model.Connection) error {
	if before == nil {
		return nil
	}

	conns, err := r.registry.QueryByUser(ctx, before.UserID)
	if err != nil {
		return err
	}
	for _, conn := range conns {
		if conn.ID != before.ID {
			// The user still has a live session; stay online.
			return nil
		}
	}

	return r.notifyCollaborators(ctx, before.UserID, event.TypeUserOffline)
}

// onModified derives room membership events from a room-field change:
// leave for the old room first, then join for the new one, never merged.
// A rejoin of the same room re-emits the join (room_joined_at changes).
func (r *Reactor) onModified(ctx context.Context, before, after *model.Connection) error {
	if before == nil || after == nil {
		return nil
	}

	oldRoom, newRoom := before.RoomID, after.RoomID

	if oldRoom == newRoom {
		if newRoom != "" && roomJoinedChanged(before, after) {
			r.notifyRoom(ctx, after, newRoom, after.RoomType, event.TypeUserJoined)
		}
		return nil
	}

	if oldRoom != "" {
		r.notifyRoom(ctx, after, oldRoom, before.RoomType, event.TypeUserLeft)
	}
	if newRoom != "" {
		r.notifyRoom(ctx, after, newRoom, after.RoomType, event.TypeUserJoined)
	}
	return nil
}

func roomJoinedChanged(before, after *model.Connection) bool {
	switch {
	case before.RoomJoinedAt == nil:
		return after.RoomJoinedAt != nil
	case after.RoomJoinedAt == nil:
		return true
	default:
		return !before.RoomJoinedAt.Equal(*after.RoomJoinedAt)
	}
}

// notifyRoom fans a membership event out to the room's current members,
// excluding the connection that moved.
func (r *Reactor) notifyRoom(ctx context.Context, subject *model.Connection, roomID, roomType, eventType string) {
	members, err := r.registry.QueryByRoom(ctx, roomID)
	if err != nil {
		r.logger.Error("failed to query room members",
			zap.Error(err),
			zap.String("room_id", roomID),
		)
		return
	}

	targets := make([]string, 0, len(members))
	for _, member := range members {
		if member.ID == subject.ID {
			continue
		}
		targets = append(targets, member.ID)
	}

	payload := event.PresencePayload{
		UserID:    subject.UserID,
		RoomID:    roomID,
		RoomType:  roomType,
		Timestamp: time.Now().Unix(),
	}
	r.broadcaster.Broadcast(ctx, targets, event.NewOutbound(eventType, payload))
}

// notifyCollaborators resolves the injected collaborator set and fans the
// presence transition out to each collaborator's live connections.
func (r *Reactor) notifyCollaborators(ctx context.Context, userID, eventType string) error {
	collaborators, err := r.resolver.Collaborators(ctx, userID)
	if err != nil {
		return err
	}

	var targets []string
	for _, collaboratorID := range collaborators {
		conns, err := r.registry.QueryByUser(ctx, collaboratorID)
		if err != nil {
			r.logger.Warn("failed to resolve collaborator connections",
				zap.Error(err),
				zap.String("user_id", collaboratorID),
			)
			continue
		}
		for _, conn := range conns {
			targets = append(targets, conn.ID)
		}
	}

	payload := event.PresencePayload{
		UserID:    userID,
		Timestamp: time.Now().Unix(),
	}
	r.broadcaster.Broadcast(ctx, targets, event.NewOutbound(eventType, payload))
	return nil
}
