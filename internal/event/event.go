package event

import "encoding/json"

// Inbound actions a client may send over the socket.
const (
	ActionSendMessage  = "sendMessage"
	ActionJoinRoom     = "joinRoom"
	ActionLeaveRoom    = "leaveRoom"
	ActionUpdateStatus = "updateStatus"
)

// ValidActions is reported back to clients on an unrecognized action.
var ValidActions = []string{
	ActionSendMessage,
	ActionJoinRoom,
	ActionLeaveRoom,
	ActionUpdateStatus,
}

// Outbound event types.
const (
	TypeConnectionConfirmed = "connectionConfirmed"
	TypeChatMessage         = "chatMessage"
	TypeMessageConfirmation = "messageConfirmation"
	TypeUserJoined          = "userJoined"
	TypeUserLeft            = "userLeft"
	TypeUserOnline          = "userOnline"
	TypeUserOffline         = "userOffline"
	TypeRoomJoined          = "roomJoined"
	TypeRoomLeft            = "roomLeft"
	TypeLiveUpdate          = "liveUpdate"
	TypeUpdateConfirmation  = "updateConfirmation"
	TypeError               = "error"

	// TypeNotification carries a dispatched notification record delivered
	// over the websocket channel.
	TypeNotification = "notification"
)

// Inbound is the envelope clients send. Unused fields stay empty for a
// given action; the hub dispatch validates per-action requirements.
type Inbound struct {
	Action       string            `json:"action"`
	RoomID       string            `json:"roomId,omitempty"`
	RoomType     string            `json:"roomType,omitempty"`
	Message      *InboundMessage   `json:"message,omitempty"`
	Status       string            `json:"status,omitempty"`
	Progress     int               `json:"progress,omitempty"`
	ResourceType string            `json:"resourceType,omitempty"`
	ResourceID   string            `json:"resourceId,omitempty"`
	Recipients   []string          `json:"recipients,omitempty"`
	Rooms        []string          `json:"rooms,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// InboundMessage is the chat payload of a sendMessage action.
type InboundMessage struct {
	Body       string   `json:"body"`
	Type       string   `json:"type"`
	ReplyTo    *string  `json:"replyTo,omitempty"`
	Mentions   []string `json:"mentions,omitempty"`
	ClientType string   `json:"clientType,omitempty"`
}

// Outbound is the envelope delivered to clients: {type, data}.
type Outbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// NewOutbound marshals data into an outbound envelope. Marshal errors are
// impossible for the payload types used here, so they degrade to an empty
// data object rather than failing the send path.
func NewOutbound(eventType string, data any) Outbound {
	raw, err := json.Marshal(data)
	if err != nil {
		raw = []byte("{}")
	}
	return Outbound{Type: eventType, Data: raw}
}
