// Package promotion implements the promotion state machine: the single
// write path for template lifecycle state. It validates transitions
// against the lifecycle table, runs guardrail checks, invokes the
// deployment gateway, and records every attempt in the store's
// append-only history.
package promotion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/artpar/promoter/internal/core/domain"
	"github.com/artpar/promoter/internal/core/guardrail"
	"github.com/artpar/promoter/internal/shell/deploy"
	"github.com/artpar/promoter/internal/shell/store"
)

// =============================================================================
// Errors
// =============================================================================

// ErrTransitionInProgress is returned when another transition for the same
// template is being evaluated. Callers should back off and retry; the
// machine never queues concurrent attempts.
var ErrTransitionInProgress = errors.New("a transition for this template is already in progress")

// =============================================================================
// Machine
// =============================================================================

// Config configures the state machine.
type Config struct {
	// DeployTimeout bounds each deployment gateway call. The gateway is
	// idempotent, so a timed-out deployment can safely be retried with a
	// later advance. Default: 60 seconds.
	DeployTimeout time.Duration
}

// DefaultConfig returns the default machine configuration.
func DefaultConfig() Config {
	return Config{DeployTimeout: 60 * time.Second}
}

// Machine is the promotion state machine. It holds no state of its own
// beyond the transient per-template locks; everything durable lives in
// the store.
type Machine struct {
	store   store.Store
	checker *guardrail.Checker
	gateway deploy.Gateway
	config  Config
	logger  *slog.Logger
	locks   *keyedLocks
}

// NewMachine creates a promotion state machine.
func NewMachine(s store.Store, checker *guardrail.Checker, gateway deploy.Gateway, cfg Config, logger *slog.Logger) *Machine {
	if cfg.DeployTimeout == 0 {
		cfg.DeployTimeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		store:   s,
		checker: checker,
		gateway: gateway,
		config:  cfg,
		logger:  logger.With("component", "promotion"),
		locks:   newKeyedLocks(),
	}
}

// =============================================================================
// Submit
// =============================================================================

// SubmitInput carries the fields of a template submission.
type SubmitInput struct {
	Name        string
	Description string
	ContentRef  string
	SubmittedBy string
}

// Submit creates a template in the submitted state and immediately
// auto-advances it to in_review, recording the transition. Every call
// creates a fresh identifier; duplicate submissions are deliberately not
// deduplicated, since resubmission after rejection requires a new ID.
func (m *Machine) Submit(ctx context.Context, in SubmitInput) (*domain.Template, error) {
	template, err := domain.NewTemplate(in.Name, in.Description, in.ContentRef, in.SubmittedBy)
	if err != nil {
		return nil, err
	}

	err = m.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.CreateTemplate(ctx, template); err != nil {
			return err
		}
		if err := template.Transition(domain.StateInReview); err != nil {
			return err
		}
		record := domain.NewAppliedTransition(template.ID, domain.StateSubmitted, domain.StateInReview, in.SubmittedBy)
		return tx.ApplyTransition(ctx, template, record)
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("template submitted",
		"template_id", template.ID,
		"name", template.Name,
		"submitted_by", in.SubmittedBy,
	)
	return template, nil
}

// =============================================================================
// Advance
// =============================================================================

// Advance attempts the next legal transition for the template's current
// state. Guard failures and deployment failures are recorded, returned
// as rejected-outcome records, and are not errors; errors indicate
// structural misuse (unknown template, terminal state, contention).
func (m *Machine) Advance(ctx context.Context, templateID, actor string) (*domain.TransitionRecord, error) {
	if !m.locks.TryAcquire(templateID) {
		return nil, fmt.Errorf("%w: %s", ErrTransitionInProgress, templateID)
	}
	defer m.locks.Release(templateID)

	template, err := m.store.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}

	next, err := domain.NextState(template.State)
	if err != nil {
		return nil, fmt.Errorf("%w: no advance from %s", domain.ErrInvalidTransition, template.State)
	}

	logger := m.logger.With("template_id", templateID, "actor", actor, "from", template.State, "to", next)

	switch next {
	case domain.StateInReview:
		// Only reachable if a crash interrupted Submit between creation
		// and the auto-advance; finish the job.
		return m.apply(ctx, template, next, actor, logger)

	case domain.StateSandboxed:
		result := m.checker.Check(*template)
		if !result.Pass {
			return m.rejectGuardrail(ctx, template, actor, result, logger)
		}
		if record, err := m.deployTo(ctx, template, deploy.TargetSandbox, actor, logger); record != nil || err != nil {
			return record, err
		}
		return m.apply(ctx, template, next, actor, logger)

	case domain.StateApproved:
		if actor == template.SubmittedBy {
			record := domain.NewRejectedTransition(templateID, template.State, next, actor,
				domain.ReasonSeparationOfDuties, "approver must differ from submitter")
			if err := m.store.AppendTransition(ctx, record); err != nil {
				return nil, err
			}
			logger.Warn("approval refused", "reason", record.Reason)
			return &record, nil
		}
		return m.apply(ctx, template, next, actor, logger)

	case domain.StateProduction:
		if record, err := m.deployTo(ctx, template, deploy.TargetProduction, actor, logger); record != nil || err != nil {
			return record, err
		}
		return m.apply(ctx, template, next, actor, logger)

	default:
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, template.State, next)
	}
}

// apply moves the template to the target state and records the applied
// transition atomically.
func (m *Machine) apply(ctx context.Context, template *domain.Template, to domain.LifecycleState, actor string, logger *slog.Logger) (*domain.TransitionRecord, error) {
	from := template.State
	if err := template.Transition(to); err != nil {
		return nil, err
	}

	record := domain.NewAppliedTransition(template.ID, from, to, actor)
	if err := m.store.ApplyTransition(ctx, template, record); err != nil {
		return nil, err
	}

	logger.Info("transition applied", "category", template.Category)
	return &record, nil
}

// rejectGuardrail moves the template to rejected and records the failed
// check. This is the one rejected-outcome record that accompanies a state
// change: a template that failed review is terminal and must be
// resubmitted under a new identifier.
func (m *Machine) rejectGuardrail(ctx context.Context, template *domain.Template, actor string, result guardrail.Result, logger *slog.Logger) (*domain.TransitionRecord, error) {
	from := template.State
	if err := template.Transition(domain.StateRejected); err != nil {
		return nil, err
	}

	record := domain.NewRejectedTransition(template.ID, from, domain.StateRejected, actor,
		domain.ReasonGuardrailFailed, result.Reason())
	if err := m.store.ApplyTransition(ctx, template, record); err != nil {
		return nil, err
	}

	logger.Warn("guardrail check failed", "violations", len(result.Violations))
	return &record, nil
}

// deployTo invokes the deployment gateway for the given target. On
// failure it records a rejected-outcome transition, leaves the template
// state untouched, and returns the record; the caller may retry the
// advance later. On success it returns (nil, nil) so the caller proceeds
// to apply the transition.
func (m *Machine) deployTo(ctx context.Context, template *domain.Template, target deploy.Target, actor string, logger *slog.Logger) (*domain.TransitionRecord, error) {
	deployCtx, cancel := context.WithTimeout(ctx, m.config.DeployTimeout)
	defer cancel()

	var ref *deploy.DeploymentRef
	var err error
	switch target {
	case deploy.TargetSandbox:
		ref, err = m.gateway.DeploySandbox(deployCtx, *template)
	case deploy.TargetProduction:
		ref, err = m.gateway.DeployProduction(deployCtx, *template)
	}

	if err != nil {
		next, _ := domain.NextState(template.State)
		record := domain.NewRejectedTransition(template.ID, template.State, next, actor,
			domain.ReasonDeploymentFailed, err.Error())
		if appendErr := m.store.AppendTransition(ctx, record); appendErr != nil {
			return nil, appendErr
		}
		logger.Warn("deployment failed", "target", target, "error", err)
		return &record, nil
	}

	logger.Info("deployment succeeded", "target", target, "deployment_id", ref.ID)
	return nil, nil
}

// =============================================================================
// Reject
// =============================================================================

// Reject is the administrative override to the rejected state. It is
// allowed from any state except production, which is irreversible through
// this path.
func (m *Machine) Reject(ctx context.Context, templateID, actor, reason string) (*domain.TransitionRecord, error) {
	if !m.locks.TryAcquire(templateID) {
		return nil, fmt.Errorf("%w: %s", ErrTransitionInProgress, templateID)
	}
	defer m.locks.Release(templateID)

	template, err := m.store.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}

	from := template.State
	if err := template.Reject(); err != nil {
		return nil, err
	}

	record := domain.NewAppliedTransition(templateID, from, domain.StateRejected, actor)
	record.Detail = reason
	if err := m.store.ApplyTransition(ctx, template, record); err != nil {
		return nil, err
	}

	m.logger.Info("template rejected by override",
		"template_id", templateID,
		"actor", actor,
		"from", from,
	)
	return &record, nil
}

// =============================================================================
// Reads
// =============================================================================

// CurrentState returns the template's current lifecycle state.
func (m *Machine) CurrentState(ctx context.Context, templateID string) (domain.LifecycleState, error) {
	template, err := m.store.GetTemplate(ctx, templateID)
	if err != nil {
		return "", err
	}
	return template.State, nil
}
