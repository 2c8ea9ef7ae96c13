package model

import "time"

// LiveStatus is the progress record for a long-running resource, keyed by
// (resource type, resource id). Writes overwrite in place, latest wins; a
// TTL index on expires_at bounds stale rows.
type LiveStatus struct {
	ResourceType string            `json:"resourceType" bson:"resource_type"`
	ResourceID   string            `json:"resourceId" bson:"resource_id"`
	Status       string            `json:"status" bson:"status"`
	Progress     int               `json:"progress" bson:"progress"`
	Metadata     map[string]string `json:"metadata,omitempty" bson:"metadata,omitempty"`
	UpdatedBy    string            `json:"updatedBy" bson:"updated_by"`
	UpdatedAt    time.Time         `json:"updatedAt" bson:"updated_at"`
	ExpiresAt    time.Time         `json:"expiresAt" bson:"expires_at"`
}

// StatusKey is the composite identity of a live status record.
func (s *LiveStatus) StatusKey() string {
	return s.ResourceType + ":" + s.ResourceID
}
