package model

import (
	"time"
)

// Delivery channels
const (
	ChannelWebsocket = "websocket"
	ChannelEmail     = "email"
	ChannelTelegram  = "telegram"
)

// Delivery states
const (
	DeliveryPending      = "pending"
	DeliveryDelivered    = "delivered"
	DeliveryDeadLettered = "dead_lettered"
)

// Notification statuses
const (
	NotificationActive  = "active"
	NotificationExpired = "expired"
)

// Notification is the parent record a producer dispatches. Individual
// per-recipient attempts live in Delivery rows referencing it.
type Notification struct {
	ID        string            `json:"id" bson:"_id"`
	Title     string            `json:"title" bson:"title"`
	Body      string            `json:"body" bson:"body"`
	Kind      string            `json:"kind" bson:"kind"`
	Metadata  map[string]string `json:"metadata,omitempty" bson:"metadata,omitempty"`
	Status    string            `json:"status" bson:"status"`
	ExpiresAt *time.Time        `json:"expiresAt,omitempty" bson:"expires_at,omitempty"`
	CreatedAt time.Time         `json:"createdAt" bson:"created_at"`
}

// Delivery tracks one (channel, recipient) attempt chain for a notification.
// Terminal states are delivered and dead_lettered; everything else stays
// eligible for the retry scheduler.
type Delivery struct {
	ID               string     `json:"id" bson:"_id"`
	NotificationID   string     `json:"notificationId" bson:"notification_id"`
	Channel          string     `json:"channel" bson:"channel"`
	Recipient        string     `json:"recipient" bson:"recipient"`
	Attempts         int        `json:"attempts" bson:"attempts"`
	State            string     `json:"state" bson:"state"`
	NextRetryAt      *time.Time `json:"nextRetryAt,omitempty" bson:"next_retry_at,omitempty"`
	LastError        string     `json:"lastError,omitempty" bson:"last_error,omitempty"`
	FirstDispatchAt  time.Time  `json:"firstDispatchAt" bson:"first_dispatch_at"`
	DeliveredAt      *time.Time `json:"deliveredAt,omitempty" bson:"delivered_at,omitempty"`
}

// Terminal reports whether the delivery can never be attempted again.
func (d *Delivery) Terminal() bool {
	return d.State == DeliveryDelivered || d.State == DeliveryDeadLettered
}

// DeliveryRollup is a daily aggregate over delivery records.
type DeliveryRollup struct {
	Day            string           `json:"day" bson:"_id"`
	Sent           int              `json:"sent" bson:"sent"`
	Delivered      int              `json:"delivered" bson:"delivered"`
	DeliveryRate   float64          `json:"deliveryRate" bson:"delivery_rate"`
	AvgLatencyMs   int64            `json:"avgLatencyMs" bson:"avg_latency_ms"`
	FailureReasons []FailureReason  `json:"failureReasons" bson:"failure_reasons"`
	ComputedAt     time.Time        `json:"computedAt" bson:"computed_at"`
}

// FailureReason is one entry of the top-failure-reasons rollup.
type FailureReason struct {
	Reason string `json:"reason" bson:"reason"`
	Count  int    `json:"count" bson:"count"`
}
