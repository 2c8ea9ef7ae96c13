package model

import (
	"time"
)

// ConnectionActive is the status stamped on newly registered sessions.
const ConnectionActive = "active"

// Connection represents an active realtime session document in MongoDB.
// Exactly one document exists per connection id; the TTL index on
// expires_at removes abandoned sessions that never sent a close frame.
type Connection struct {
	ID           string            `json:"connectionId" bson:"_id"`
	UserID       string            `json:"userId" bson:"user_id"`
	RoomID       string            `json:"roomId,omitempty" bson:"room_id,omitempty"`
	RoomType     string            `json:"roomType,omitempty" bson:"room_type,omitempty"`
	RoomJoinedAt *time.Time        `json:"roomJoinedAt,omitempty" bson:"room_joined_at,omitempty"`
	Meta         map[string]string `json:"meta,omitempty" bson:"meta,omitempty"`
	Status       string            `json:"status" bson:"status"`
	ConnectedAt  time.Time         `json:"connectedAt" bson:"connected_at"`
	LastActivity time.Time         `json:"lastActivity" bson:"last_activity"`
	ExpiresAt    time.Time         `json:"expiresAt" bson:"expires_at"`
}

// InRoom reports whether the connection currently belongs to a room.
func (c *Connection) InRoom() bool {
	return c.RoomID != ""
}
