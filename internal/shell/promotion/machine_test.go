package promotion

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/promoter/internal/core/domain"
	"github.com/artpar/promoter/internal/core/guardrail"
	"github.com/artpar/promoter/internal/shell/deploy"
	"github.com/artpar/promoter/internal/shell/store"
)

// =============================================================================
// Test Helpers
// =============================================================================

// stubGateway records deployment calls and fails on demand. When block is
// set, DeploySandbox signals started and waits until block is closed,
// which lets tests hold a transition open deterministically.
type stubGateway struct {
	mu           sync.Mutex
	sandboxErr   error
	prodErr      error
	sandboxCalls int
	prodCalls    int

	block   chan struct{}
	started chan struct{}
}

func (g *stubGateway) DeploySandbox(ctx context.Context, template domain.Template) (*deploy.DeploymentRef, error) {
	g.mu.Lock()
	g.sandboxCalls++
	err := g.sandboxErr
	block, started := g.block, g.started
	g.mu.Unlock()

	if block != nil {
		started <- struct{}{}
		<-block
	}
	if err != nil {
		return nil, err
	}
	return &deploy.DeploymentRef{ID: "dep-sbx-" + template.ID, Target: deploy.TargetSandbox}, nil
}

func (g *stubGateway) DeployProduction(ctx context.Context, template domain.Template) (*deploy.DeploymentRef, error) {
	g.mu.Lock()
	g.prodCalls++
	err := g.prodErr
	g.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return &deploy.DeploymentRef{ID: "dep-prod-" + template.ID, Target: deploy.TargetProduction}, nil
}

func (g *stubGateway) Ping(ctx context.Context) error { return nil }

func setupMachine(t *testing.T) (*Machine, *stubGateway, store.Store) {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	gateway := &stubGateway{}
	checker := guardrail.NewChecker(guardrail.DefaultRules()...)
	machine := NewMachine(s, checker, gateway, DefaultConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	return machine, gateway, s
}

func submitTestTemplate(t *testing.T, m *Machine) *domain.Template {
	t.Helper()
	template, err := m.Submit(context.Background(), SubmitInput{
		Name:        "Engine Health",
		Description: "Engine temperature and vibration KPIs",
		ContentRef:  "s3://dashboards/engine-health.json",
		SubmittedBy: "dev@example.com",
	})
	require.NoError(t, err)
	return template
}

// advanceTo drives the template forward until it reaches the wanted state,
// alternating actors so separation of duties never trips.
func advanceTo(t *testing.T, m *Machine, templateID string, want domain.LifecycleState) {
	t.Helper()
	ctx := context.Background()
	actors := map[domain.LifecycleState]string{
		domain.StateSandboxed:  "reviewer@example.com",
		domain.StateApproved:   "approver@example.com",
		domain.StateProduction: "approver@example.com",
	}

	for i := 0; i < 4; i++ {
		state, err := m.CurrentState(ctx, templateID)
		require.NoError(t, err)
		if state == want {
			return
		}
		next, err := domain.NextState(state)
		require.NoError(t, err)

		record, err := m.Advance(ctx, templateID, actors[next])
		require.NoError(t, err)
		require.Equal(t, domain.OutcomeApplied, record.Outcome)
	}
	t.Fatalf("template %s never reached %s", templateID, want)
}

// =============================================================================
// Submit Tests
// =============================================================================

func TestSubmit_LandsInReview(t *testing.T) {
	machine, _, s := setupMachine(t)
	ctx := context.Background()

	template := submitTestTemplate(t, machine)
	assert.Equal(t, domain.StateInReview, template.State)
	assert.Equal(t, domain.CategoryNone, template.Category)

	history, err := s.ListTransitions(ctx, template.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.StateSubmitted, history[0].FromState)
	assert.Equal(t, domain.StateInReview, history[0].ToState)
	assert.Equal(t, domain.OutcomeApplied, history[0].Outcome)
	assert.Equal(t, "dev@example.com", history[0].Actor)
}

func TestSubmit_InvalidInput(t *testing.T) {
	machine, _, _ := setupMachine(t)

	_, err := machine.Submit(context.Background(), SubmitInput{
		Name:        "",
		ContentRef:  "s3://dashboards/x.json",
		SubmittedBy: "dev@example.com",
	})
	require.Error(t, err)
}

func TestSubmit_DuplicateNamesGetDistinctIDs(t *testing.T) {
	machine, _, _ := setupMachine(t)

	first := submitTestTemplate(t, machine)
	second := submitTestTemplate(t, machine)
	assert.NotEqual(t, first.ID, second.ID)
}

// =============================================================================
// Advance Tests
// =============================================================================

func TestAdvance_FullPromotionPath(t *testing.T) {
	machine, gateway, s := setupMachine(t)
	ctx := context.Background()

	template := submitTestTemplate(t, machine)

	record, err := machine.Advance(ctx, template.ID, "reviewer@example.com")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, record.Outcome)
	assert.Equal(t, domain.StateSandboxed, record.ToState)

	sandboxed, err := s.GetTemplate(ctx, template.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CategoryDev, sandboxed.Category)

	record, err = machine.Advance(ctx, template.ID, "approver@example.com")
	require.NoError(t, err)
	assert.Equal(t, domain.StateApproved, record.ToState)

	record, err = machine.Advance(ctx, template.ID, "approver@example.com")
	require.NoError(t, err)
	assert.Equal(t, domain.StateProduction, record.ToState)

	final, err := s.GetTemplate(ctx, template.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateProduction, final.State)
	assert.Equal(t, domain.CategoryMain, final.Category)

	assert.Equal(t, 1, gateway.sandboxCalls)
	assert.Equal(t, 1, gateway.prodCalls)

	history, err := s.ListTransitions(ctx, template.ID)
	require.NoError(t, err)
	require.Len(t, history, 4)
	for _, rec := range history {
		assert.Equal(t, domain.OutcomeApplied, rec.Outcome)
		assert.Empty(t, rec.Reason)
	}
}

func TestAdvance_GuardrailFailureRejects(t *testing.T) {
	machine, gateway, s := setupMachine(t)
	ctx := context.Background()

	template, err := machine.Submit(ctx, SubmitInput{
		Name:        "Bare Dashboard",
		Description: "",
		ContentRef:  "s3://dashboards/bare.json",
		SubmittedBy: "dev@example.com",
	})
	require.NoError(t, err)

	record, err := machine.Advance(ctx, template.ID, "reviewer@example.com")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeRejected, record.Outcome)
	assert.Equal(t, domain.ReasonGuardrailFailed, record.Reason)
	assert.Contains(t, record.Detail, "has_description")
	assert.Equal(t, domain.StateRejected, record.ToState)

	rejected, err := s.GetTemplate(ctx, template.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateRejected, rejected.State)

	// Exactly two records: submission auto-advance plus the rejection.
	history, err := s.ListTransitions(ctx, template.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, domain.OutcomeApplied, history[0].Outcome)
	assert.Equal(t, domain.OutcomeRejected, history[1].Outcome)

	// Rejected templates never reach the deployer.
	assert.Equal(t, 0, gateway.sandboxCalls)

	// rejected is terminal.
	_, err = machine.Advance(ctx, template.ID, "reviewer@example.com")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestAdvance_SeparationOfDuties(t *testing.T) {
	machine, _, s := setupMachine(t)
	ctx := context.Background()

	template := submitTestTemplate(t, machine)
	advanceTo(t, machine, template.ID, domain.StateSandboxed)

	// The submitter cannot approve their own template.
	record, err := machine.Advance(ctx, template.ID, "dev@example.com")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeRejected, record.Outcome)
	assert.Equal(t, domain.ReasonSeparationOfDuties, record.Reason)

	state, err := machine.CurrentState(ctx, template.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateSandboxed, state)

	// A different actor can.
	record, err = machine.Advance(ctx, template.ID, "approver@example.com")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, record.Outcome)
	assert.Equal(t, domain.StateApproved, record.ToState)

	history, err := s.ListTransitions(ctx, template.ID)
	require.NoError(t, err)
	assert.Len(t, history, 4) // submit, sandbox, refused approval, approval
}

func TestAdvance_DeploymentFailureIsRetryable(t *testing.T) {
	machine, gateway, _ := setupMachine(t)
	ctx := context.Background()

	template := submitTestTemplate(t, machine)

	gateway.sandboxErr = fmt.Errorf("%w: deployer returned 503", deploy.ErrDeploymentFailed)
	record, err := machine.Advance(ctx, template.ID, "reviewer@example.com")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeRejected, record.Outcome)
	assert.Equal(t, domain.ReasonDeploymentFailed, record.Reason)
	assert.Contains(t, record.Detail, "503")

	// State unchanged, so the advance can be retried.
	state, err := machine.CurrentState(ctx, template.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateInReview, state)

	gateway.sandboxErr = nil
	record, err = machine.Advance(ctx, template.ID, "reviewer@example.com")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, record.Outcome)
	assert.Equal(t, domain.StateSandboxed, record.ToState)
	assert.Equal(t, 2, gateway.sandboxCalls)
}

func TestAdvance_ProductionDeploymentFailure(t *testing.T) {
	machine, gateway, _ := setupMachine(t)
	ctx := context.Background()

	template := submitTestTemplate(t, machine)
	advanceTo(t, machine, template.ID, domain.StateApproved)

	gateway.prodErr = deploy.ErrDeploymentFailed
	record, err := machine.Advance(ctx, template.ID, "approver@example.com")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeRejected, record.Outcome)
	assert.Equal(t, domain.ReasonDeploymentFailed, record.Reason)

	state, err := machine.CurrentState(ctx, template.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateApproved, state)
}

func TestAdvance_TerminalStates(t *testing.T) {
	machine, _, _ := setupMachine(t)
	ctx := context.Background()

	template := submitTestTemplate(t, machine)
	advanceTo(t, machine, template.ID, domain.StateProduction)

	_, err := machine.Advance(ctx, template.ID, "approver@example.com")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestAdvance_UnknownTemplate(t *testing.T) {
	machine, _, _ := setupMachine(t)

	_, err := machine.Advance(context.Background(), "tmpl_missing", "reviewer@example.com")
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAdvance_ConcurrentAttemptRefused(t *testing.T) {
	machine, gateway, _ := setupMachine(t)
	ctx := context.Background()

	template := submitTestTemplate(t, machine)

	gateway.block = make(chan struct{})
	gateway.started = make(chan struct{})

	type result struct {
		record *domain.TransitionRecord
		err    error
	}
	done := make(chan result, 1)
	go func() {
		record, err := machine.Advance(ctx, template.ID, "reviewer@example.com")
		done <- result{record, err}
	}()

	// Wait until the first advance is inside the deployer call, then try a
	// second advance on the same template.
	<-gateway.started
	_, err := machine.Advance(ctx, template.ID, "other@example.com")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransitionInProgress)

	close(gateway.block)
	first := <-done
	require.NoError(t, first.err)
	assert.Equal(t, domain.OutcomeApplied, first.record.Outcome)

	// The lock is released after the first advance completes.
	gateway.mu.Lock()
	gateway.block, gateway.started = nil, nil
	gateway.mu.Unlock()
	state, err := machine.CurrentState(ctx, template.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateSandboxed, state)
}

// =============================================================================
// Reject Tests
// =============================================================================

func TestReject_Override(t *testing.T) {
	machine, _, s := setupMachine(t)
	ctx := context.Background()

	template := submitTestTemplate(t, machine)
	advanceTo(t, machine, template.ID, domain.StateSandboxed)

	record, err := machine.Reject(ctx, template.ID, "admin@example.com", "supplier contract ended")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, record.Outcome)
	assert.Equal(t, domain.StateSandboxed, record.FromState)
	assert.Equal(t, domain.StateRejected, record.ToState)
	assert.Equal(t, "supplier contract ended", record.Detail)

	rejected, err := s.GetTemplate(ctx, template.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateRejected, rejected.State)
	assert.Equal(t, domain.CategoryNone, rejected.Category)
}

func TestReject_ProductionIsImmutable(t *testing.T) {
	machine, _, _ := setupMachine(t)
	ctx := context.Background()

	template := submitTestTemplate(t, machine)
	advanceTo(t, machine, template.ID, domain.StateProduction)

	_, err := machine.Reject(ctx, template.ID, "admin@example.com", "too late")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrImmutableState)

	state, err := machine.CurrentState(ctx, template.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateProduction, state)
}

// =============================================================================
// Determinism
// =============================================================================

func TestAdvance_GuardrailViolationsAreDeterministic(t *testing.T) {
	machine, _, _ := setupMachine(t)
	ctx := context.Background()

	details := make([]string, 0, 2)
	for i := 0; i < 2; i++ {
		template, err := machine.Submit(ctx, SubmitInput{
			Name:        fmt.Sprintf("Leaky Dashboard %d", i),
			Description: "short",
			ContentRef:  "s3://dashboards/leaky.json",
			SubmittedBy: "dev@example.com",
		})
		require.NoError(t, err)

		record, err := machine.Advance(ctx, template.ID, "reviewer@example.com")
		require.NoError(t, err)
		require.Equal(t, domain.OutcomeRejected, record.Outcome)
		details = append(details, record.Detail)
	}
	assert.Equal(t, details[0], details[1])
}
