package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"forwarding-audit-go/internal/report"
)

// SubmitReport queues a report described by the JSON body
func (h *Handlers) SubmitReport(c *gin.Context) {
	var req ReportRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "validation_error", "Invalid request body")
			return
		}
	}

	variant, err := report.ParseVariant(req.Variant)
	if err != nil {
		badRequest(c, "invalid_variant", err.Error())
		return
	}

	h.submit(c, report.Request{Variant: variant, Name: req.Name})
}

// submitVariant queues a fixed report variant; the file name comes from
// the report_name query parameter.
func (h *Handlers) submitVariant(variant report.Variant) gin.HandlerFunc {
	return func(c *gin.Context) {
		h.submit(c, report.Request{Variant: variant, Name: c.Query("report_name")})
	}
}

func (h *Handlers) submit(c *gin.Context, req report.Request) {
	id, err := h.reports.Submit(req)
	if err != nil {
		respondError(c, err, "Failed to submit report")
		return
	}

	c.JSON(http.StatusAccepted, JobAcceptedResponse{
		JobID:   id,
		Variant: string(req.Variant),
		Message: "Report generation started (job id: " + id + ")",
	})
}

// ListReportJobs returns every remembered report job
func (h *Handlers) ListReportJobs(c *gin.Context) {
	c.JSON(http.StatusOK, h.reports.Jobs())
}

// GetReportJob returns one report job
func (h *Handlers) GetReportJob(c *gin.Context) {
	job, err := h.reports.Job(c.Param("id"))
	if err != nil {
		respondError(c, err, "Failed to fetch job")
		return
	}
	c.JSON(http.StatusOK, job)
}
