package domain

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Transition Outcome
// =============================================================================

type TransitionOutcome string

const (
	OutcomeApplied  TransitionOutcome = "applied"
	OutcomeRejected TransitionOutcome = "rejected"
)

// Well-known rejection reasons recorded on transition records.
const (
	ReasonDeploymentFailed   = "deployment_failed"
	ReasonSeparationOfDuties = "separation_of_duties"
	ReasonGuardrailFailed    = "guardrail_failed"
)

// =============================================================================
// Transition Record
// =============================================================================

// TransitionRecord is one immutable audit entry describing an attempted or
// applied state change. Records are append-only and never mutated.
type TransitionRecord struct {
	ID         string            `json:"id"`
	TemplateID string            `json:"template_id"`
	FromState  LifecycleState    `json:"from_state"`
	ToState    LifecycleState    `json:"to_state"`
	Actor      string            `json:"actor"`
	Outcome    TransitionOutcome `json:"outcome"`
	Reason     string            `json:"reason,omitempty"` // Canonical code; present iff Outcome == rejected
	Detail     string            `json:"detail,omitempty"` // Free-form context (guardrail violations, deployer error, override note)
	CreatedAt  time.Time         `json:"created_at"`
}

// NewAppliedTransition creates an applied-outcome transition record.
func NewAppliedTransition(templateID string, from, to LifecycleState, actor string) TransitionRecord {
	return TransitionRecord{
		ID:         uuid.New().String(),
		TemplateID: templateID,
		FromState:  from,
		ToState:    to,
		Actor:      actor,
		Outcome:    OutcomeApplied,
		CreatedAt:  time.Now().UTC(),
	}
}

// NewRejectedTransition creates a rejected-outcome transition record.
// A rejected record usually documents a refused attempt without a state
// change (failed guard, failed deployment); the guardrail-failure path is
// the exception, where the rejected record accompanies the move to the
// rejected state.
func NewRejectedTransition(templateID string, from, to LifecycleState, actor, reason, detail string) TransitionRecord {
	return TransitionRecord{
		ID:         uuid.New().String(),
		TemplateID: templateID,
		FromState:  from,
		ToState:    to,
		Actor:      actor,
		Outcome:    OutcomeRejected,
		Reason:     reason,
		Detail:     detail,
		CreatedAt:  time.Now().UTC(),
	}
}
