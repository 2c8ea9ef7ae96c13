package event

// Payload shapes for outbound envelopes. Kept as plain structs so the hub
// and reactor can build them without touching storage types.

// ConnectionConfirmedPayload acknowledges a completed handshake.
type ConnectionConfirmedPayload struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
	Timestamp    int64  `json:"timestamp"`
}

// ChatMessagePayload fans a chat message out to room members.
type ChatMessagePayload struct {
	MessageID string            `json:"messageId"`
	RoomID    string            `json:"roomId"`
	SenderID  string            `json:"senderId"`
	Message   string            `json:"message"`
	Type      string            `json:"type"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp int64             `json:"timestamp"`
}

// MessageConfirmationPayload is returned to the sender instead of an echo.
type MessageConfirmationPayload struct {
	MessageID string `json:"messageId"`
	RoomID    string `json:"roomId"`
	Timestamp int64  `json:"timestamp"`
}

// PresencePayload backs userOnline/userOffline/userJoined/userLeft events.
type PresencePayload struct {
	UserID    string `json:"userId"`
	RoomID    string `json:"roomId,omitempty"`
	RoomType  string `json:"roomType,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// RoomChangePayload backs roomJoined/roomLeft confirmations to the actor.
type RoomChangePayload struct {
	RoomID    string `json:"roomId"`
	RoomType  string `json:"roomType,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// LiveUpdatePayload backs liveUpdate fan-out and updateConfirmation.
type LiveUpdatePayload struct {
	ResourceType string            `json:"resourceType"`
	ResourceID   string            `json:"resourceId"`
	Status       string            `json:"status"`
	Progress     int               `json:"progress"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	UpdatedBy    string            `json:"updatedBy"`
	Timestamp    int64             `json:"timestamp"`
}

// NotificationPayload delivers a dispatched notification over a websocket
// channel delivery.
type NotificationPayload struct {
	NotificationID string            `json:"notificationId"`
	Title          string            `json:"title"`
	Body           string            `json:"body"`
	Kind           string            `json:"kind,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Timestamp      int64             `json:"timestamp"`
}

// ErrorPayload is the structured error sent to a client; the connection
// stays open after it.
type ErrorPayload struct {
	Code         string   `json:"code"`
	Message      string   `json:"message"`
	ValidActions []string `json:"validActions,omitempty"`
}
