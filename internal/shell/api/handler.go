// Package api provides HTTP handlers for the promoter API.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/artpar/promoter/internal/core/domain"
	"github.com/artpar/promoter/internal/core/guardrail"
	"github.com/artpar/promoter/internal/core/validation"
	"github.com/artpar/promoter/internal/shell/api/middleware"
	"github.com/artpar/promoter/internal/shell/api/openapi"
	"github.com/artpar/promoter/internal/shell/dashboard"
	"github.com/artpar/promoter/internal/shell/promotion"
	"github.com/artpar/promoter/internal/shell/store"
)

// =============================================================================
// Handler
// =============================================================================

// DeployerHealth reports the last observed deployer availability. The
// gateway prober satisfies it; readiness reads the cached answer instead
// of making a live round-trip to the deployer.
type DeployerHealth interface {
	Healthy() bool
}

// Handler provides HTTP handlers for the API.
type Handler struct {
	machine   *promotion.Machine
	dashboard *dashboard.Service
	checker   *guardrail.Checker
	store     store.Store
	health    DeployerHealth
	auth      *middleware.AuthMiddleware
	logger    *slog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(machine *promotion.Machine, dash *dashboard.Service, checker *guardrail.Checker, s store.Store, health DeployerHealth, roles *middleware.RoleMap, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		machine:   machine,
		dashboard: dash,
		checker:   checker,
		store:     s,
		health:    health,
		auth:      middleware.NewAuthMiddleware(roles, logger),
		logger:    logger,
	}
}

// Routes returns the router with all routes configured.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(h.jsonContentType)
	r.Use(h.requestIDHeader)
	r.Use(h.auth.Handler)

	// Health endpoints
	r.Get("/health", h.handleHealth)
	r.Get("/ready", h.handleReady)
	r.Get("/openapi.json", h.handleOpenAPI)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/templates", func(r chi.Router) {
			r.Get("/", h.handleListTemplates)
			r.Get("/{id}", h.handleGetTemplate)
			r.Get("/{id}/history", h.handleGetHistory)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireActor(h.logger))
				r.Post("/", h.handleSubmitTemplate)
				r.Post("/{id}/advance", h.handleAdvanceTemplate)
			})

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(middleware.RoleAdmin, h.logger))
				r.Post("/{id}/reject", h.handleRejectTemplate)
			})
		})

		r.Get("/approvals/pending", h.handlePendingApprovals)
		r.Get("/guardrails", h.handleGuardrails)
		r.Get("/dashboard/stats", h.handleStats)
	})

	return r
}

// =============================================================================
// Middleware
// =============================================================================

// jsonContentType sets Content-Type header to application/json.
func (h *Handler) jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// requestIDHeader copies the request ID to the response header.
func (h *Handler) requestIDHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reqID := chimw.GetReqID(r.Context()); reqID != "" {
			w.Header().Set("X-Request-ID", reqID)
		}
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// Health Handlers
// =============================================================================

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := http.StatusOK

	if err := h.store.Ping(r.Context()); err != nil {
		checks["database"] = "failed"
		status = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	if h.health.Healthy() {
		checks["deployer"] = "ok"
	} else {
		checks["deployer"] = "failed"
		status = http.StatusServiceUnavailable
	}

	state := "ready"
	if status != http.StatusOK {
		state = "not_ready"
	}
	h.writeJSON(w, status, ReadyResponse{Status: state, Checks: checks})
}

func (h *Handler) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, openapi.Spec())
}

// =============================================================================
// Template Handlers
// =============================================================================

func (h *Handler) handleSubmitTemplate(w http.ResponseWriter, r *http.Request) {
	var req SubmitTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", "validation_error")
		return
	}

	actor := middleware.ActorFromContext(r.Context())
	if field, msg := validation.ValidateSubmitFields(req.Name, req.ContentRef, actor.Email); field != "" {
		h.writeError(w, http.StatusBadRequest, msg, "validation_error")
		return
	}

	template, err := h.machine.Submit(r.Context(), promotion.SubmitInput{
		Name:        req.Name,
		Description: req.Description,
		ContentRef:  req.ContentRef,
		SubmittedBy: actor.Email,
	})
	if err != nil {
		if isValidationError(err) {
			h.writeError(w, http.StatusBadRequest, err.Error(), "validation_error")
			return
		}
		h.logger.Error("failed to submit template", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to submit template", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusCreated, templateToResponse(template))
}

func (h *Handler) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	status, err := h.dashboard.Status(r.Context(), id)
	if err != nil {
		if isNotFound(err) {
			h.writeError(w, http.StatusNotFound, "template not found", "template_not_found")
			return
		}
		h.logger.Error("failed to get template", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get template", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusOK, templateToResponse(&status.Template))
}

func (h *Handler) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	opts := listOptionsFromQuery(r)

	var (
		templates []domain.Template
		err       error
	)
	if stateParam := r.URL.Query().Get("state"); stateParam != "" {
		templates, err = h.dashboard.ListByState(r.Context(), domain.LifecycleState(stateParam), opts)
		if err != nil && errors.Is(err, domain.ErrUnknownState) {
			h.writeError(w, http.StatusBadRequest, "unknown state: "+stateParam, "validation_error")
			return
		}
	} else {
		states := []domain.LifecycleState{
			domain.StateSubmitted, domain.StateInReview, domain.StateSandboxed,
			domain.StateApproved, domain.StateProduction, domain.StateRejected,
		}
		templates, err = h.dashboard.ListByStates(r.Context(), states, opts)
	}
	if err != nil {
		h.logger.Error("failed to list templates", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list templates", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusOK, listToResponse(templates, opts))
}

func (h *Handler) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	status, err := h.dashboard.Status(r.Context(), id)
	if err != nil {
		if isNotFound(err) {
			h.writeError(w, http.StatusNotFound, "template not found", "template_not_found")
			return
		}
		h.logger.Error("failed to get history", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get history", "internal_error")
		return
	}

	resp := HistoryResponse{
		TemplateID:  id,
		Transitions: make([]TransitionResponse, 0, len(status.History)),
	}
	for i := range status.History {
		resp.Transitions = append(resp.Transitions, transitionToResponse(&status.History[i]))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// Transition Handlers
// =============================================================================

func (h *Handler) handleAdvanceTemplate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	actor := middleware.ActorFromContext(r.Context())

	record, err := h.machine.Advance(r.Context(), id, actor.Email)
	if err != nil {
		h.writeTransitionError(w, err)
		return
	}

	// Refused attempts (guardrail, separation of duties, deployer failure)
	// are recorded outcomes, not HTTP errors. 200 with outcome=rejected.
	h.writeJSON(w, http.StatusOK, transitionToResponse(record))
}

func (h *Handler) handleRejectTemplate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	actor := middleware.ActorFromContext(r.Context())

	var req RejectTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", "validation_error")
		return
	}
	if field, msg := validation.ValidateRejectFields(req.Reason); field != "" {
		h.writeError(w, http.StatusBadRequest, msg, "validation_error")
		return
	}

	record, err := h.machine.Reject(r.Context(), id, actor.Email, req.Reason)
	if err != nil {
		h.writeTransitionError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, transitionToResponse(record))
}

// writeTransitionError maps state machine errors to HTTP responses.
func (h *Handler) writeTransitionError(w http.ResponseWriter, err error) {
	switch {
	case isNotFound(err):
		h.writeError(w, http.StatusNotFound, "template not found", "template_not_found")
	case errors.Is(err, promotion.ErrTransitionInProgress):
		h.writeError(w, http.StatusConflict, "a transition is already in progress", "transition_in_progress")
	case errors.Is(err, domain.ErrImmutableState):
		h.writeError(w, http.StatusConflict, "production templates cannot be transitioned", "immutable_state")
	case errors.Is(err, domain.ErrInvalidTransition):
		h.writeError(w, http.StatusConflict, err.Error(), "invalid_transition")
	default:
		h.logger.Error("transition failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "transition failed", "internal_error")
	}
}

// =============================================================================
// Dashboard Handlers
// =============================================================================

func (h *Handler) handlePendingApprovals(w http.ResponseWriter, r *http.Request) {
	opts := listOptionsFromQuery(r)

	templates, err := h.dashboard.PendingApprovals(r.Context(), opts)
	if err != nil {
		h.logger.Error("failed to list pending approvals", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list pending approvals", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusOK, listToResponse(templates, opts))
}

func (h *Handler) handleGuardrails(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, GuardrailsResponse{Rules: h.checker.Rules()})
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.dashboard.Stats(r.Context())
	if err != nil {
		h.logger.Error("failed to compute stats", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to compute stats", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusOK, StatsResponse{
		Applied:          stats.Applied,
		Rejected:         stats.Rejected,
		RejectedByReason: stats.RejectedByReason,
		TemplatesByState: stats.TemplatesByState,
	})
}

// =============================================================================
// Helpers
// =============================================================================

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode JSON", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message, code string) {
	h.writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

func listOptionsFromQuery(r *http.Request) store.ListOptions {
	opts := store.DefaultListOptions()
	if limit := r.URL.Query().Get("limit"); limit != "" {
		if l, err := strconv.Atoi(limit); err == nil {
			opts.Limit = l
		}
	}
	if offset := r.URL.Query().Get("offset"); offset != "" {
		if o, err := strconv.Atoi(offset); err == nil {
			opts.Offset = o
		}
	}
	return opts.Normalize()
}

func listToResponse(templates []domain.Template, opts store.ListOptions) ListTemplatesResponse {
	resp := ListTemplatesResponse{
		Templates: make([]TemplateResponse, 0, len(templates)),
		Limit:     opts.Limit,
		Offset:    opts.Offset,
	}
	for i := range templates {
		resp.Templates = append(resp.Templates, templateToResponse(&templates[i]))
	}
	return resp
}

// isValidationError checks if an error is a template field validation
// error.
func isValidationError(err error) bool {
	for _, sentinel := range []error{
		domain.ErrNameRequired,
		domain.ErrNameTooShort,
		domain.ErrNameTooLong,
		domain.ErrNameInvalidChars,
		domain.ErrContentRefRequired,
		domain.ErrSubmitterRequired,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

// isNotFound checks if an error is a not found error.
func isNotFound(err error) bool {
	var storeErr *store.StoreError
	if errors.As(err, &storeErr) {
		return errors.Is(storeErr.Unwrap(), store.ErrNotFound)
	}
	return errors.Is(err, store.ErrNotFound)
}
