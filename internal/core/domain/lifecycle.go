package domain

import "errors"

// =============================================================================
// Lifecycle Errors
// =============================================================================

var (
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
	ErrImmutableState    = errors.New("production templates cannot be transitioned")
	ErrUnknownState      = errors.New("unknown lifecycle state")
)

// =============================================================================
// Lifecycle State
// =============================================================================

type LifecycleState string

const (
	StateSubmitted  LifecycleState = "submitted"
	StateInReview   LifecycleState = "in_review"
	StateSandboxed  LifecycleState = "sandboxed"
	StateApproved   LifecycleState = "approved"
	StateProduction LifecycleState = "production"
	StateRejected   LifecycleState = "rejected"
)

// IsValid checks if the lifecycle state is one of the known states.
func (s LifecycleState) IsValid() bool {
	switch s {
	case StateSubmitted, StateInReview, StateSandboxed, StateApproved, StateProduction, StateRejected:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transitions exist from the state.
func (s LifecycleState) IsTerminal() bool {
	return s == StateProduction || s == StateRejected
}

// =============================================================================
// Category
// =============================================================================

// Category is the deployment category tag derived from lifecycle state.
// It is never set independently.
type Category string

const (
	CategoryNone Category = ""
	CategoryDev  Category = "dev"
	CategoryMain Category = "main"
)

// CategoryForState returns the category tag for a lifecycle state.
func CategoryForState(s LifecycleState) Category {
	switch s {
	case StateSandboxed, StateApproved:
		return CategoryDev
	case StateProduction:
		return CategoryMain
	default:
		return CategoryNone
	}
}

// =============================================================================
// State Machine
// =============================================================================

// validTransitions defines the allowed state transitions.
// The rejected targets from sandboxed and approved cover the
// administrative override path; production is immutable.
var validTransitions = map[LifecycleState][]LifecycleState{
	StateSubmitted:  {StateInReview, StateRejected},
	StateInReview:   {StateSandboxed, StateRejected},
	StateSandboxed:  {StateApproved, StateRejected},
	StateApproved:   {StateProduction, StateRejected},
	StateProduction: {}, // Terminal state
	StateRejected:   {}, // Terminal state
}

// ValidateTransition checks if a lifecycle transition is valid.
func ValidateTransition(from, to LifecycleState) error {
	allowed, exists := validTransitions[from]
	if !exists {
		return ErrInvalidTransition
	}

	for _, s := range allowed {
		if s == to {
			return nil
		}
	}

	return ErrInvalidTransition
}

// NextState returns the forward target for an advance from the given state.
// Rejection targets are excluded; those are reached only through guard
// failure or administrative override.
func NextState(from LifecycleState) (LifecycleState, error) {
	switch from {
	case StateSubmitted:
		return StateInReview, nil
	case StateInReview:
		return StateSandboxed, nil
	case StateSandboxed:
		return StateApproved, nil
	case StateApproved:
		return StateProduction, nil
	default:
		return "", ErrInvalidTransition
	}
}
