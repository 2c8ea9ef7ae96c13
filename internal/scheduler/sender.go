package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sngor/bayon-realtime/internal/event"
	"github.com/sngor/bayon-realtime/internal/hub"
	"github.com/sngor/bayon-realtime/internal/model"
	"github.com/sngor/bayon-realtime/internal/repo"
)

var ErrUnknownChannel = errors.New("unknown delivery channel")

// ChannelSender performs one delivery attempt over a concrete channel.
type ChannelSender interface {
	Send(ctx context.Context, delivery model.Delivery, notification model.Notification) error
}

// Dispatcher routes a delivery to the sender registered for its channel.
type Dispatcher struct {
	senders map[string]ChannelSender
	logger  *zap.Logger
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		senders: make(map[string]ChannelSender),
		logger:  logger,
	}
}

// Register binds a sender to a channel name.
func (d *Dispatcher) Register(channel string, sender ChannelSender) {
	d.senders[channel] = sender
}

// Dispatch performs one attempt.
func (d *Dispatcher) Dispatch(ctx context.Context, delivery model.Delivery, notification model.Notification) error {
	sender, ok := d.senders[delivery.Channel]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownChannel, delivery.Channel)
	}
	return sender.Send(ctx, delivery, notification)
}

// Broadcaster is the fan-out primitive the websocket sender delivers with.
type Broadcaster interface {
	Broadcast(ctx context.Context, targets []string, ev event.Outbound) map[string]hub.Outcome
}

// WebsocketSender delivers a notification to the recipient's live
// connections. No live connection, or no successful target, is a transient
// failure: the retry scheduler will try again.
type WebsocketSender struct {
	registry    repo.ConnectionRegistry
	broadcaster Broadcaster
}

// NewWebsocketSender wires the websocket channel over the registry and a
// broadcaster.
func NewWebsocketSender(registry repo.ConnectionRegistry, broadcaster Broadcaster) *WebsocketSender {
	return &WebsocketSender{
		registry:    registry,
		broadcaster: broadcaster,
	}
}

func (s *WebsocketSender) Send(ctx context.Context, delivery model.Delivery, notification model.Notification) error {
	conns, err := s.registry.QueryByUser(ctx, delivery.Recipient)
	if err != nil {
		return fmt.Errorf("resolve recipient %s: %w", delivery.Recipient, err)
	}
	if len(conns) == 0 {
		return fmt.Errorf("recipient %s has no active connections", delivery.Recipient)
	}

	targets := make([]string, 0, len(conns))
	for _, conn := range conns {
		targets = append(targets, conn.ID)
	}

	payload := event.NotificationPayload{
		NotificationID: notification.ID,
		Title:          notification.Title,
		Body:           notification.Body,
		Kind:           notification.Kind,
		Metadata:       notification.Metadata,
		Timestamp:      time.Now().Unix(),
	}
	results := s.broadcaster.Broadcast(ctx, targets, event.NewOutbound(event.TypeNotification, payload))

	for _, outcome := range results {
		if outcome == hub.OutcomeDelivered {
			return nil
		}
	}
	return fmt.Errorf("no connection of %s accepted the notification", delivery.Recipient)
}
