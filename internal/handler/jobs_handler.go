package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sngor/bayon-realtime/internal/scheduler"
)

// JobsHandler triggers the scheduled jobs on demand. The response status
// maps the run report: 200 all succeeded, 207 partial, 500 nothing
// succeeded.
type JobsHandler interface {
	RunRetry(c *gin.Context)
	RunCleanup(c *gin.Context)
}

type jobsHandler struct {
	retries *scheduler.RetryScheduler
	cleanup *scheduler.Cleanup
	logger  *zap.Logger
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(retries *scheduler.RetryScheduler, cleanup *scheduler.Cleanup, logger *zap.Logger) JobsHandler {
	return &jobsHandler{
		retries: retries,
		cleanup: cleanup,
		logger:  logger,
	}
}

func (h *jobsHandler) RunRetry(c *gin.Context) {
	report := h.retries.Run(c.Request.Context())
	c.JSON(report.HTTPStatus(), report)
}

func (h *jobsHandler) RunCleanup(c *gin.Context) {
	dryRun := c.Query("dryRun") == "1" || c.Query("dryRun") == "true"
	report := h.cleanup.Run(c.Request.Context(), dryRun)
	c.JSON(report.HTTPStatus(), report)
}
