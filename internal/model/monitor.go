package model

// -----------------------------------------------------------------
// Monitor API Response Models
// -----------------------------------------------------------------

// MonitorResponse is the main response for the monitor API. All counts are
// reconstructed from the durable registry on every request, never from
// in-process caches.
type MonitorResponse struct {
	Status      string          `json:"status"` // "healthy", "degraded", "unhealthy"
	Connections ConnectionStats `json:"connections"`
	Rooms       RoomStats       `json:"rooms"`
	Sessions    []SessionInfo   `json:"sessions"`
}

// ConnectionStats holds connection-related statistics
type ConnectionStats struct {
	TotalConnected int `json:"totalConnected"` // Registered sessions in the store
	TotalLocal     int `json:"totalLocal"`     // Sessions served by this process
	DistinctUsers  int `json:"distinctUsers"`
}

// RoomStats holds room membership statistics
type RoomStats struct {
	TotalRooms  int        `json:"totalRooms"`
	RoomDetails []RoomInfo `json:"roomDetails"`
}

// RoomInfo contains information about a single room
type RoomInfo struct {
	RoomID       string   `json:"roomId"`
	RoomType     string   `json:"roomType"`
	TotalMembers int      `json:"totalMembers"`
	MemberIDs    []string `json:"memberIds"`
}

// SessionInfo contains information about a registered session
type SessionInfo struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
	RoomID       string `json:"roomId,omitempty"`
	ConnectedAt  string `json:"connectedAt"` // ISO timestamp
}
