package store

import (
	"context"

	"github.com/artpar/promoter/internal/core/domain"
)

// =============================================================================
// Store Interface
// =============================================================================

// Store defines the persistence interface for the promotion workflow.
// It owns the current state of every template plus the append-only
// transition history.
type Store interface {
	// Template operations
	CreateTemplate(ctx context.Context, template *domain.Template) error
	GetTemplate(ctx context.Context, id string) (*domain.Template, error)
	ListByState(ctx context.Context, state domain.LifecycleState, opts ListOptions) ([]domain.Template, error)
	ListByStates(ctx context.Context, states []domain.LifecycleState, opts ListOptions) ([]domain.Template, error)

	// Transition operations.
	// ApplyTransition updates the template's current state and appends the
	// record atomically - both succeed or both fail.
	// AppendTransition records a rejected attempt without a state change.
	ApplyTransition(ctx context.Context, template *domain.Template, record domain.TransitionRecord) error
	AppendTransition(ctx context.Context, record domain.TransitionRecord) error
	ListTransitions(ctx context.Context, templateID string) ([]domain.TransitionRecord, error)
	TransitionStats(ctx context.Context) (*TransitionStats, error)

	// Transaction support
	WithTx(ctx context.Context, fn func(Store) error) error

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
}

// =============================================================================
// Stats
// =============================================================================

// TransitionStats summarizes the audit trail for the oversight dashboard.
type TransitionStats struct {
	Applied          int            `json:"applied"`
	Rejected         int            `json:"rejected"`
	RejectedByReason map[string]int `json:"rejected_by_reason"`
	TemplatesByState map[string]int `json:"templates_by_state"`
}

// =============================================================================
// Options
// =============================================================================

// ListOptions defines pagination options. State listings are ordered by
// submission timestamp ascending, so Offset makes a listing restartable.
type ListOptions struct {
	Limit  int
	Offset int
}

// DefaultListOptions returns default list options.
func DefaultListOptions() ListOptions {
	return ListOptions{
		Limit:  100,
		Offset: 0,
	}
}

// Normalize ensures list options have valid values.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = 100
	}
	if o.Limit > 1000 {
		o.Limit = 1000
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}
