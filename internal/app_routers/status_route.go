package approuters

import (
	"github.com/gin-gonic/gin"

	"github.com/sngor/bayon-realtime/internal/configuration"
)

// StatusRouters sets up live status read-back routes
func StatusRouters(router *gin.Engine, container *configuration.Container) {
	statusGroup := router.Group("/rt/api/statuses")
	{
		// GET /rt/api/statuses/:resourceType/:resourceId - current live status
		statusGroup.GET("/:resourceType/:resourceId", container.StatusHandler.GetStatus)
	}
}
