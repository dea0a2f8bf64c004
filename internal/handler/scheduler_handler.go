package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// StartScheduler starts the report scheduler
func (h *Handlers) StartScheduler(c *gin.Context) {
	if err := h.scheduler.Start(); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "scheduler_error",
			Message: "Failed to start scheduler: " + err.Error(),
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Scheduler started successfully",
		"status":  "running",
	})
}

// StopScheduler stops the report scheduler
func (h *Handlers) StopScheduler(c *gin.Context) {
	if err := h.scheduler.Stop(); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "scheduler_error",
			Message: "Failed to stop scheduler",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Scheduler stopped successfully",
		"status":  "stopped",
	})
}

// RunOnce submits a full report immediately
func (h *Handlers) RunOnce(c *gin.Context) {
	id, err := h.scheduler.RunOnce()
	if err != nil {
		respondError(c, err, "Failed to submit report")
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message": "Report generation started",
		"job_id":  id,
	})
}

// GetSchedulerStatus returns the current scheduler status
func (h *Handlers) GetSchedulerStatus(c *gin.Context) {
	st := h.scheduler.Status()

	status := "stopped"
	if st.Running {
		status = "running"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":      status,
		"cron":        st.Cron,
		"next_run":    st.NextRun,
		"last_run":    st.LastRun,
		"last_job_id": st.LastJobID,
		"last_error":  st.LastError,
	})
}
