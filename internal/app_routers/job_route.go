package approuters

import (
	"github.com/gin-gonic/gin"

	"github.com/sngor/bayon-realtime/internal/configuration"
)

// JobRouters exposes manual triggers for the background jobs. The same code
// paths run on the cron schedule; these endpoints exist for operators.
func JobRouters(router *gin.Engine, container *configuration.Container) {
	jobGroup := router.Group("/rt/api/jobs")
	{
		jobGroup.POST("/retry", container.JobsHandler.RunRetry)
		jobGroup.POST("/cleanup", container.JobsHandler.RunCleanup)
	}
}
