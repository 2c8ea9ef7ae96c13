package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Message represents a chat message in MongoDB. Messages are immutable
// after insert and fall out of the collection via the retention TTL index.
type Message struct {
	ID        primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	MessageID string             `json:"messageId" bson:"message_id"`
	RoomID    string             `json:"roomId" bson:"room_id"`
	SenderID  string             `json:"senderId" bson:"sender_id"`
	Type      string             `json:"type" bson:"type"`
	Body      string             `json:"body" bson:"body"`
	Metadata  MessageMetadata    `json:"metadata" bson:"metadata"`
	CreatedAt time.Time          `json:"createdAt" bson:"created_at"`
}

// MessageMetadata carries optional client-provided context for a message
type MessageMetadata struct {
	ReplyTo    *string  `json:"replyTo" bson:"reply_to"`
	Mentions   []string `json:"mentions" bson:"mentions"`
	ClientType string   `json:"clientType" bson:"client_type"`
}
