package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"forwarding-audit-go/internal/importer"
)

// ImportRecords upserts a JSON list of rule records
func (h *Handlers) ImportRecords(c *gin.Context) {
	var records []importer.Record
	if err := c.ShouldBindJSON(&records); err != nil {
		badRequest(c, "validation_error", "Request body must be a list of records")
		return
	}

	res, err := h.importer.ImportAll(c.Request.Context(), records)
	if h.metrics != nil {
		h.metrics.ImportedRecords.Add(float64(res.Records()))
	}
	if err != nil {
		respondError(c, err, "Import failed")
		return
	}

	c.JSON(http.StatusOK, res)
}
