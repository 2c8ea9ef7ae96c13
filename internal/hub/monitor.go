package hub

import (
	"context"
	"time"

	"github.com/sngor/bayon-realtime/internal/model"
)

// MonitorService gathers hub statistics. Everything is reconstructed from
// the durable registry on each call; only the local session count comes
// from this process.
type MonitorService struct {
	hub *Hub
}

// NewMonitorService creates a new monitor service
func NewMonitorService(hub *Hub) *MonitorService {
	return &MonitorService{hub: hub}
}

// GetStats gathers and returns registry-wide statistics.
func (ms *MonitorService) GetStats(ctx context.Context) (model.MonitorResponse, error) {
	conns, err := ms.hub.registry.All(ctx)
	if err != nil {
		return model.MonitorResponse{Status: "unhealthy"}, err
	}

	users := make(map[string]bool)
	rooms := make(map[string]*model.RoomInfo)
	sessions := make([]model.SessionInfo, 0, len(conns))

	for _, conn := range conns {
		users[conn.UserID] = true
		sessions = append(sessions, model.SessionInfo{
			ConnectionID: conn.ID,
			UserID:       conn.UserID,
			RoomID:       conn.RoomID,
			ConnectedAt:  conn.ConnectedAt.Format(time.RFC3339),
		})

		if !conn.InRoom() {
			continue
		}
		info, ok := rooms[conn.RoomID]
		if !ok {
			info = &model.RoomInfo{RoomID: conn.RoomID, RoomType: conn.RoomType}
			rooms[conn.RoomID] = info
		}
		info.TotalMembers++
		info.MemberIDs = append(info.MemberIDs, conn.UserID)
	}

	roomDetails := make([]model.RoomInfo, 0, len(rooms))
	for _, info := range rooms {
		roomDetails = append(roomDetails, *info)
	}

	status := "healthy"
	if len(conns) > 0 && ms.hub.localCount() == 0 {
		// Registry has sessions but none are served here; another instance
		// may own them, or records have gone stale.
		status = "degraded"
	}

	return model.MonitorResponse{
		Status: status,
		Connections: model.ConnectionStats{
			TotalConnected: len(conns),
			TotalLocal:     ms.hub.localCount(),
			DistinctUsers:  len(users),
		},
		Rooms: model.RoomStats{
			TotalRooms:  len(rooms),
			RoomDetails: roomDetails,
		},
		Sessions: sessions,
	}, nil
}
