package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"forwarding-audit-go/internal/model"
	"forwarding-audit-go/internal/repository"
)

const defaultListLimit = 100

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		badRequest(c, "invalid_id", "Invalid rule ID")
		return 0, false
	}
	return uint(id), true
}

func queryInt(c *gin.Context, key string, def int) (int, bool) {
	raw, ok := c.GetQuery(key)
	if !ok || raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		badRequest(c, "invalid_query", "Invalid "+key+" parameter")
		return 0, false
	}
	return v, true
}

// withFilters pairs each rule with its filter for the response.
func (h *Handlers) withFilters(c *gin.Context, rules []model.Rule) ([]RuleResponse, error) {
	responses := make([]RuleResponse, 0, len(rules))
	for _, rule := range rules {
		var f *model.Filter
		if rule.HasForwardingFilters {
			var err error
			f, err = h.filters.GetForRule(c.Request.Context(), rule.ID)
			if err != nil {
				return nil, err
			}
		}
		responses = append(responses, toRuleResponse(rule, f))
	}
	return responses, nil
}

// GetRules returns a page of rules
func (h *Handlers) GetRules(c *gin.Context) {
	skip, ok := queryInt(c, "skip", 0)
	if !ok {
		return
	}
	limit, ok := queryInt(c, "limit", defaultListLimit)
	if !ok {
		return
	}

	rules, err := h.rules.List(c.Request.Context(), skip, limit)
	if err != nil {
		respondError(c, err, "Failed to fetch rules")
		return
	}

	responses, err := h.withFilters(c, rules)
	if err != nil {
		respondError(c, err, "Failed to fetch filters")
		return
	}

	c.JSON(http.StatusOK, responses)
}

// CreateRule creates a new rule
func (h *Handlers) CreateRule(c *gin.Context) {
	var req CreateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "validation_error", "Invalid request body")
		return
	}

	rule, err := h.rules.Create(c.Request.Context(), model.Rule{
		Email:             req.Email,
		Name:              req.Name,
		ForwardingEmail:   req.ForwardingEmail,
		Disposition:       req.Disposition,
		Error:             req.Error,
		InvestigationNote: req.InvestigationNote,
	})
	if err != nil {
		respondError(c, err, "Failed to create rule")
		return
	}

	c.JSON(http.StatusCreated, toRuleResponse(*rule, nil))
}

// GetRule returns a specific rule with its filter
func (h *Handlers) GetRule(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	rule, err := h.rules.GetByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "Failed to fetch rule")
		return
	}

	f, err := h.filters.GetForRule(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "Failed to fetch filter")
		return
	}

	c.JSON(http.StatusOK, toRuleResponse(*rule, f))
}

// UpdateInvestigationNote amends the reviewer note of a rule
func (h *Handlers) UpdateInvestigationNote(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req InvestigationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "validation_error", "Invalid request body")
		return
	}

	ctx := c.Request.Context()
	var (
		rule *model.Rule
		err  error
	)
	if req.InvestigationNote == nil {
		rule, err = h.rules.GetByID(ctx, id)
	} else {
		rule, err = h.rules.Update(ctx, id, model.RuleUpdate{InvestigationNote: req.InvestigationNote})
	}
	if err != nil {
		respondError(c, err, "Failed to update rule")
		return
	}

	f, err := h.filters.GetForRule(ctx, id)
	if err != nil {
		respondError(c, err, "Failed to fetch filter")
		return
	}

	c.JSON(http.StatusOK, toRuleResponse(*rule, f))
}

// DeleteRule deletes a rule after removing its filter
func (h *Handlers) DeleteRule(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	if _, err := h.rules.GetByID(ctx, id); err != nil {
		respondError(c, err, "Failed to fetch rule")
		return
	}

	if _, err := h.filters.DeleteForRule(ctx, id); err != nil {
		respondError(c, err, "Failed to delete filter")
		return
	}

	if err := h.rules.Delete(ctx, id); err != nil {
		respondError(c, err, "Failed to delete rule")
		return
	}

	c.Status(http.StatusNoContent)
}

// SearchRules filters rules by email substring and filter presence
func (h *Handlers) SearchRules(c *gin.Context) {
	var query repository.SearchQuery

	if email, ok := c.GetQuery("email"); ok && email != "" {
		query.EmailContains = &email
	}
	if raw, ok := c.GetQuery("has_filters"); ok && raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			badRequest(c, "invalid_query", "Invalid has_filters parameter")
			return
		}
		query.HasFilters = &v
	}

	rules, err := h.rules.Search(c.Request.Context(), query)
	if err != nil {
		respondError(c, err, "Failed to search rules")
		return
	}

	responses, err := h.withFilters(c, rules)
	if err != nil {
		respondError(c, err, "Failed to fetch filters")
		return
	}

	c.JSON(http.StatusOK, responses)
}

// GetRuleFilter returns the filter of a rule
func (h *Handlers) GetRuleFilter(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	if _, err := h.rules.GetByID(ctx, id); err != nil {
		respondError(c, err, "Failed to fetch rule")
		return
	}

	f, err := h.filters.GetForRule(ctx, id)
	if err != nil {
		respondError(c, err, "Failed to fetch filter")
		return
	}
	if f == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: "Filter not found",
			Code:    http.StatusNotFound,
		})
		return
	}

	c.JSON(http.StatusOK, toFilterResponse(f))
}

// GetStatistics returns the store counts
func (h *Handlers) GetStatistics(c *gin.Context) {
	stats, err := h.rules.Statistics(c.Request.Context())
	if err != nil {
		respondError(c, err, "Failed to compute statistics")
		return
	}

	if h.metrics != nil {
		h.metrics.ObserveStatistics(stats)
	}

	c.JSON(http.StatusOK, stats)
}
