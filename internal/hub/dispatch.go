package hub

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sngor/bayon-realtime/internal/event"
	"github.com/sngor/bayon-realtime/internal/model"
	"github.com/sngor/bayon-realtime/internal/repo"
)

const handleTimeout = 10 * time.Second

// handleInbound dispatches one client envelope. Failures on this path
// degrade to an error event back to the sender; the connection stays open.
func (h *Hub) handleInbound(envelope event.Inbound, c *Client) {
	ctx, cancel := context.WithTimeout(h.ctx, handleTimeout)
	defer cancel()

	// Any inbound traffic counts as activity for passive expiry.
	if err := h.registry.Touch(ctx, c.ID); err != nil {
		h.logger.Warn("failed to touch connection", zap.Error(err), zap.String("connection_id", c.ID))
	}

	switch envelope.Action {
	case event.ActionSendMessage:
		h.handleSendMessage(ctx, envelope, c)
	case event.ActionJoinRoom:
		h.handleJoinRoom(ctx, envelope, c)
	case event.ActionLeaveRoom:
		h.handleLeaveRoom(ctx, c)
	case event.ActionUpdateStatus:
		h.handleUpdateStatus(ctx, envelope, c)
	default:
		h.logger.Debug("unrecognized action",
			zap.String("action", envelope.Action),
			zap.String("connection_id", c.ID),
		)
		c.Send(event.NewOutbound(event.TypeError, event.ErrorPayload{
			Code:         "UNKNOWN_ACTION",
			Message:      "unrecognized action: " + envelope.Action,
			ValidActions: event.ValidActions,
		}))
	}
}

// handleSendMessage persists the message, fans it out to the room excluding
// the sender, and confirms to the sender instead of echoing.
func (h *Hub) handleSendMessage(ctx context.Context, envelope event.Inbound, c *Client) {
	if envelope.RoomID == "" || envelope.Message == nil || envelope.Message.Body == "" {
		c.Send(event.NewOutbound(event.TypeError, event.ErrorPayload{
			Code:    "INVALID_MESSAGE",
			Message: "sendMessage requires roomId and message.body",
		}))
		return
	}

	now := time.Now().UTC()
	msg := &model.Message{
		MessageID: uuid.New().String(),
		RoomID:    envelope.RoomID,
		SenderID:  c.userID,
		Type:      envelope.Message.Type,
		Body:      envelope.Message.Body,
		Metadata: model.MessageMetadata{
			ReplyTo:    envelope.Message.ReplyTo,
			Mentions:   envelope.Message.Mentions,
			ClientType: envelope.Message.ClientType,
		},
		CreatedAt: now,
	}

	if _, err := h.messages.InsertMessage(ctx, msg); err != nil {
		h.logger.Error("failed to persist message", zap.Error(err), zap.String("room_id", msg.RoomID))
		c.Send(event.NewOutbound(event.TypeError, event.ErrorPayload{
			Code:    "MESSAGE_NOT_SAVED",
			Message: "message could not be saved",
		}))
		return
	}

	members, err := h.registry.QueryByRoom(ctx, envelope.RoomID)
	if err != nil {
		h.logger.Error("failed to query room members", zap.Error(err), zap.String("room_id", envelope.RoomID))
		members = nil
	}

	targets := connectionIDs(members, c.ID)
	payload := event.ChatMessagePayload{
		MessageID: msg.MessageID,
		RoomID:    msg.RoomID,
		SenderID:  msg.SenderID,
		Message:   msg.Body,
		Type:      msg.Type,
		Metadata:  envelope.Metadata,
		Timestamp: now.Unix(),
	}
	h.Broadcast(ctx, targets, event.NewOutbound(event.TypeChatMessage, payload))

	c.Send(event.NewOutbound(event.TypeMessageConfirmation, event.MessageConfirmationPayload{
		MessageID: msg.MessageID,
		RoomID:    msg.RoomID,
		Timestamp: now.Unix(),
	}))
}

// handleJoinRoom sets the room fields on the registry record. A switch is
// a single registry write; the reactor derives leave-then-join from it.
// Rejoining the same room still rewrites room_joined_at so it re-emits.
func (h *Hub) handleJoinRoom(ctx context.Context, envelope event.Inbound, c *Client) {
	if envelope.RoomID == "" {
		c.Send(event.NewOutbound(event.TypeError, event.ErrorPayload{
			Code:    "INVALID_ROOM",
			Message: "joinRoom requires roomId",
		}))
		return
	}

	if err := h.registry.SetRoom(ctx, c.ID, envelope.RoomID, envelope.RoomType); err != nil {
		h.logger.Error("failed to join room",
			zap.Error(err),
			zap.String("connection_id", c.ID),
			zap.String("room_id", envelope.RoomID),
		)
		c.Send(event.NewOutbound(event.TypeError, event.ErrorPayload{
			Code:    "JOIN_FAILED",
			Message: "could not join room",
		}))
		return
	}

	c.Send(event.NewOutbound(event.TypeRoomJoined, event.RoomChangePayload{
		RoomID:    envelope.RoomID,
		RoomType:  envelope.RoomType,
		Timestamp: time.Now().Unix(),
	}))
}

// handleLeaveRoom clears the room fields; a no-op when roomless.
func (h *Hub) handleLeaveRoom(ctx context.Context, c *Client) {
	record, err := h.registry.Lookup(ctx, c.ID)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			h.logger.Error("failed to look up connection on leave",
				zap.Error(err),
				zap.String("connection_id", c.ID),
			)
		}
		// Nothing to leave from the client's view; the room fields, if
		// any, stay for a later leave or passive expiry.
		c.Send(event.NewOutbound(event.TypeRoomLeft, event.RoomChangePayload{
			Timestamp: time.Now().Unix(),
		}))
		return
	}
	if !record.InRoom() {
		c.Send(event.NewOutbound(event.TypeRoomLeft, event.RoomChangePayload{
			Timestamp: time.Now().Unix(),
		}))
		return
	}

	if err := h.registry.ClearRoom(ctx, c.ID); err != nil {
		h.logger.Error("failed to leave room",
			zap.Error(err),
			zap.String("connection_id", c.ID),
			zap.String("room_id", record.RoomID),
		)
		c.Send(event.NewOutbound(event.TypeError, event.ErrorPayload{
			Code:    "LEAVE_FAILED",
			Message: "could not leave room",
		}))
		return
	}

	c.Send(event.NewOutbound(event.TypeRoomLeft, event.RoomChangePayload{
		RoomID:    record.RoomID,
		RoomType:  record.RoomType,
		Timestamp: time.Now().Unix(),
	}))
}

// handleUpdateStatus persists the live status first, then fans out to the
// resolved targets. Zero resolved targets is not an error; the record is
// the source of truth and late subscribers read it back.
func (h *Hub) handleUpdateStatus(ctx context.Context, envelope event.Inbound, c *Client) {
	if envelope.ResourceType == "" || envelope.ResourceID == "" {
		c.Send(event.NewOutbound(event.TypeError, event.ErrorPayload{
			Code:    "INVALID_STATUS",
			Message: "updateStatus requires resourceType and resourceId",
		}))
		return
	}

	now := time.Now().UTC()
	status := &model.LiveStatus{
		ResourceType: envelope.ResourceType,
		ResourceID:   envelope.ResourceID,
		Status:       envelope.Status,
		Progress:     envelope.Progress,
		Metadata:     envelope.Metadata,
		UpdatedBy:    c.userID,
		UpdatedAt:    now,
		ExpiresAt:    now.Add(h.statusTTL),
	}

	if err := h.statuses.UpsertStatus(ctx, status); err != nil {
		h.logger.Error("failed to persist live status",
			zap.Error(err),
			zap.String("resource_type", envelope.ResourceType),
			zap.String("resource_id", envelope.ResourceID),
		)
		c.Send(event.NewOutbound(event.TypeError, event.ErrorPayload{
			Code:    "STATUS_NOT_SAVED",
			Message: "status could not be saved",
		}))
		return
	}

	targets := h.resolveStatusTargets(ctx, envelope, c.userID)
	payload := event.LiveUpdatePayload{
		ResourceType: status.ResourceType,
		ResourceID:   status.ResourceID,
		Status:       status.Status,
		Progress:     status.Progress,
		Metadata:     status.Metadata,
		UpdatedBy:    status.UpdatedBy,
		Timestamp:    now.Unix(),
	}
	h.Broadcast(ctx, targets, event.NewOutbound(event.TypeLiveUpdate, payload))

	c.Send(event.NewOutbound(event.TypeUpdateConfirmation, payload))
}

// resolveStatusTargets applies the live-status targeting precedence:
// explicit recipient users, then explicit rooms, then the owner's own
// connections as the fallback.
func (h *Hub) resolveStatusTargets(ctx context.Context, envelope event.Inbound, ownerID string) []string {
	if len(envelope.Recipients) > 0 {
		var targets []string
		for _, userID := range envelope.Recipients {
			conns, err := h.registry.QueryByUser(ctx, userID)
			if err != nil {
				h.logger.Warn("failed to resolve recipient", zap.Error(err), zap.String("user_id", userID))
				continue
			}
			targets = append(targets, connectionIDs(conns, "")...)
		}
		return targets
	}

	if len(envelope.Rooms) > 0 {
		var targets []string
		for _, roomID := range envelope.Rooms {
			conns, err := h.registry.QueryByRoom(ctx, roomID)
			if err != nil {
				h.logger.Warn("failed to resolve room", zap.Error(err), zap.String("room_id", roomID))
				continue
			}
			targets = append(targets, connectionIDs(conns, "")...)
		}
		return targets
	}

	conns, err := h.registry.QueryByUser(ctx, ownerID)
	if err != nil {
		h.logger.Warn("failed to resolve owner connections", zap.Error(err), zap.String("user_id", ownerID))
		return nil
	}
	return connectionIDs(conns, "")
}

// connectionIDs extracts ids from registry records, skipping exclude.
func connectionIDs(conns []model.Connection, exclude string) []string {
	ids := make([]string, 0, len(conns))
	for _, conn := range conns {
		if conn.ID == exclude {
			continue
		}
		ids = append(ids, conn.ID)
	}
	return ids
}
