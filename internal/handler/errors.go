package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"forwarding-audit-go/internal/importer"
	"forwarding-audit-go/internal/jobs"
	"forwarding-audit-go/internal/report"
	"forwarding-audit-go/internal/repository"
)

// respondError maps a store or job error onto its status code.
func respondError(c *gin.Context, err error, message string) {
	status, code := http.StatusInternalServerError, "internal_error"

	switch {
	case errors.Is(err, repository.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, repository.ErrUnknownRule):
		status, code = http.StatusNotFound, "unknown_rule"
	case errors.Is(err, jobs.ErrJobNotFound):
		status, code = http.StatusNotFound, "job_not_found"
	case errors.Is(err, repository.ErrDuplicateEmail):
		status, code = http.StatusBadRequest, "duplicate_email"
	case errors.Is(err, repository.ErrInvalidRule):
		status, code = http.StatusBadRequest, "invalid_rule"
	case errors.Is(err, importer.ErrInvalidRecord):
		status, code = http.StatusBadRequest, "invalid_record"
	case errors.Is(err, report.ErrInvalidName):
		status, code = http.StatusBadRequest, "invalid_name"
	case errors.Is(err, report.ErrUnknownVariant):
		status, code = http.StatusBadRequest, "invalid_variant"
	case errors.Is(err, jobs.ErrQueueFull), errors.Is(err, jobs.ErrPoolStopped):
		status, code = http.StatusServiceUnavailable, "queue_unavailable"
	case errors.Is(err, repository.ErrStorage):
		code = "storage_error"
	}

	if status == http.StatusInternalServerError {
		logrus.WithError(err).Error(message)
	}

	c.JSON(status, ErrorResponse{
		Error:   code,
		Message: message + ": " + err.Error(),
		Code:    status,
	})
}

func badRequest(c *gin.Context, code, message string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error:   code,
		Message: message,
		Code:    http.StatusBadRequest,
	})
}
