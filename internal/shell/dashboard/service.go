// Package dashboard provides read-only projections of the promotion
// workflow for reviewers and operators. It never writes; all state
// changes go through the promotion machine.
package dashboard

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/artpar/promoter/internal/core/domain"
	"github.com/artpar/promoter/internal/shell/store"
)

// =============================================================================
// Service
// =============================================================================

// Service answers dashboard queries from the store.
type Service struct {
	store  store.Store
	logger *slog.Logger
}

// NewService creates a dashboard service.
func NewService(s store.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  s,
		logger: logger.With("component", "dashboard"),
	}
}

// =============================================================================
// Queries
// =============================================================================

// TemplateStatus bundles a template with its full transition history.
type TemplateStatus struct {
	Template domain.Template           `json:"template"`
	History  []domain.TransitionRecord `json:"history"`
}

// Status returns the template and its complete audit trail, oldest first.
func (s *Service) Status(ctx context.Context, templateID string) (*TemplateStatus, error) {
	template, err := s.store.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}
	history, err := s.store.ListTransitions(ctx, templateID)
	if err != nil {
		return nil, err
	}
	return &TemplateStatus{Template: *template, History: history}, nil
}

// reviewStates are the states where a template waits on a human decision.
var reviewStates = []domain.LifecycleState{
	domain.StateInReview,
	domain.StateSandboxed,
}

// PendingApprovals lists templates awaiting reviewer or approver action,
// ordered by submission time so the oldest waiters surface first.
func (s *Service) PendingApprovals(ctx context.Context, opts store.ListOptions) ([]domain.Template, error) {
	return s.store.ListByStates(ctx, reviewStates, opts)
}

// ListByStates lists templates across several lifecycle states.
func (s *Service) ListByStates(ctx context.Context, states []domain.LifecycleState, opts store.ListOptions) ([]domain.Template, error) {
	return s.store.ListByStates(ctx, states, opts)
}

// ListByState lists templates in a single lifecycle state.
func (s *Service) ListByState(ctx context.Context, state domain.LifecycleState, opts store.ListOptions) ([]domain.Template, error) {
	if !state.IsValid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownState, state)
	}
	return s.store.ListByState(ctx, state, opts)
}

// Stats returns aggregate transition and population counts for the
// oversight view.
func (s *Service) Stats(ctx context.Context) (*store.TransitionStats, error) {
	return s.store.TransitionStats(ctx)
}
