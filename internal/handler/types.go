package handler

import (
	"time"

	"forwarding-audit-go/internal/model"
)

// CreateRuleRequest represents the request structure for creating rules
type CreateRuleRequest struct {
	Email             string `json:"email" binding:"required,email"`
	Name              string `json:"name" binding:"required"`
	ForwardingEmail   string `json:"forwarding_email"`
	Disposition       string `json:"disposition"`
	Error             string `json:"error"`
	InvestigationNote string `json:"investigation_note"`
}

// InvestigationRequest carries a reviewer's note. A null or absent note
// leaves the rule unchanged.
type InvestigationRequest struct {
	InvestigationNote *string `json:"investigation_note"`
}

// FilterResponse represents the response structure for filters
type FilterResponse struct {
	ID        uint                   `json:"id"`
	RuleID    uint                   `json:"forwarding_id"`
	Criteria  map[string]interface{} `json:"criteria"`
	Action    map[string]interface{} `json:"action"`
	CreatedAt *string                `json:"created_at"`
}

// RuleResponse represents the response structure for rules. Empty optional
// fields are rendered as null.
type RuleResponse struct {
	ID                   uint            `json:"id"`
	Email                string          `json:"email"`
	Name                 string          `json:"name"`
	ForwardingEmail      *string         `json:"forwarding_email"`
	Disposition          *string         `json:"disposition"`
	HasForwardingFilters bool            `json:"has_forwarding_filters"`
	Error                *string         `json:"error"`
	InvestigationNote    *string         `json:"investigation_note"`
	Filter               *FilterResponse `json:"filter"`
}

// ReportRequest is the optional body of a report submission
type ReportRequest struct {
	Variant string `json:"variant"`
	Name    string `json:"name"`
}

// JobAcceptedResponse is returned once a report job is queued
type JobAcceptedResponse struct {
	JobID   string `json:"job_id"`
	Variant string `json:"variant"`
	Message string `json:"message"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Storage   string            `json:"storage"`
	Backend   string            `json:"backend"`
	Metrics   map[string]string `json:"metrics,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func toFilterResponse(f *model.Filter) *FilterResponse {
	if f == nil {
		return nil
	}
	return &FilterResponse{
		ID:        f.ID,
		RuleID:    f.RuleID,
		Criteria:  f.Criteria,
		Action:    f.Action,
		CreatedAt: optional(f.CreatedAt),
	}
}

func toRuleResponse(r model.Rule, f *model.Filter) RuleResponse {
	return RuleResponse{
		ID:                   r.ID,
		Email:                r.Email,
		Name:                 r.Name,
		ForwardingEmail:      optional(r.ForwardingEmail),
		Disposition:          optional(r.Disposition),
		HasForwardingFilters: r.HasForwardingFilters,
		Error:                optional(r.Error),
		InvestigationNote:    optional(r.InvestigationNote),
		Filter:               toFilterResponse(f),
	}
}
