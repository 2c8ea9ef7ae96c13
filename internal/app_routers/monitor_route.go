package approuters

import (
	"github.com/gin-gonic/gin"

	"github.com/sngor/bayon-realtime/internal/configuration"
)

// MonitorRouters sets up monitoring API routes
func MonitorRouters(router *gin.Engine, container *configuration.Container) {
	monitorGroup := router.Group("/rt/api/monitor")
	{
		// GET /rt/api/monitor/stats - registry-wide connection statistics
		monitorGroup.GET("/stats", container.MonitorHandler.GetHubStats)
	}
}
