package approuters

import (
	"github.com/gin-gonic/gin"

	"github.com/sngor/bayon-realtime/internal/configuration"
)

// NotificationRouters sets up the reliable-delivery API routes
func NotificationRouters(router *gin.Engine, container *configuration.Container) {
	notificationGroup := router.Group("/rt/api/notifications")
	{
		// POST /rt/api/notifications - create a notification and attempt first dispatch
		notificationGroup.POST("", container.NotificationHandler.Dispatch)
		// GET /rt/api/notifications/:id - notification with per-target delivery states
		notificationGroup.GET("/:id", container.NotificationHandler.GetStatus)
	}
}
