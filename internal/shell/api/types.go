package api

import (
	"time"

	"github.com/artpar/promoter/internal/core/domain"
)

// =============================================================================
// Request Types
// =============================================================================

// SubmitTemplateRequest is the request body for submitting a template.
type SubmitTemplateRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	ContentRef  string `json:"content_ref"`
}

// RejectTemplateRequest is the request body for the administrative
// rejection override.
type RejectTemplateRequest struct {
	Reason string `json:"reason"`
}

// =============================================================================
// Response Types
// =============================================================================

// TemplateResponse is the response for template operations.
type TemplateResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Description string    `json:"description"`
	ContentRef  string    `json:"content_ref"`
	State       string    `json:"state"`
	Category    string    `json:"category,omitempty"`
	SubmittedBy string    `json:"submitted_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TransitionResponse is the response for a transition attempt and for
// history entries.
type TransitionResponse struct {
	ID         string    `json:"id"`
	TemplateID string    `json:"template_id"`
	FromState  string    `json:"from_state"`
	ToState    string    `json:"to_state"`
	Actor      string    `json:"actor"`
	Outcome    string    `json:"outcome"`
	Reason     string    `json:"reason,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// HistoryResponse is the response for a template's transition history.
type HistoryResponse struct {
	TemplateID  string               `json:"template_id"`
	Transitions []TransitionResponse `json:"transitions"`
}

// ListTemplatesResponse is the response for template listings.
type ListTemplatesResponse struct {
	Templates []TemplateResponse `json:"templates"`
	Limit     int                `json:"limit"`
	Offset    int                `json:"offset"`
}

// StatsResponse is the oversight dashboard summary.
type StatsResponse struct {
	Applied          int            `json:"applied"`
	Rejected         int            `json:"rejected"`
	RejectedByReason map[string]int `json:"rejected_by_reason"`
	TemplatesByState map[string]int `json:"templates_by_state"`
}

// GuardrailsResponse lists the configured guardrail rules in evaluation
// order.
type GuardrailsResponse struct {
	Rules []string `json:"rules"`
}

// ErrorResponse is the error response format.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HealthResponse is the health check response.
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse is the readiness check response.
type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// =============================================================================
// Converters
// =============================================================================

func templateToResponse(t *domain.Template) TemplateResponse {
	return TemplateResponse{
		ID:          t.ID,
		Name:        t.Name,
		Slug:        t.Slug,
		Description: t.Description,
		ContentRef:  t.ContentRef,
		State:       string(t.State),
		Category:    string(t.Category),
		SubmittedBy: t.SubmittedBy,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

func transitionToResponse(r *domain.TransitionRecord) TransitionResponse {
	return TransitionResponse{
		ID:         r.ID,
		TemplateID: r.TemplateID,
		FromState:  string(r.FromState),
		ToState:    string(r.ToState),
		Actor:      r.Actor,
		Outcome:    string(r.Outcome),
		Reason:     r.Reason,
		Detail:     r.Detail,
		CreatedAt:  r.CreatedAt,
	}
}
