package approuters

import (
	"github.com/gin-gonic/gin"

	"github.com/sngor/bayon-realtime/internal/configuration"
)

// MessageRouters sets up chat history routes
func MessageRouters(router *gin.Engine, container *configuration.Container) {
	roomGroup := router.Group("/rt/api/rooms")
	{
		// GET /rt/api/rooms/:roomId/messages?limit=50&before=<RFC3339>
		roomGroup.GET("/:roomId/messages", container.MessageHandler.GetRoomMessages)
	}
}
