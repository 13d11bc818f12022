package dashboard

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/promoter/internal/core/domain"
	"github.com/artpar/promoter/internal/shell/store"
)

func setupService(t *testing.T) (*Service, store.Store) {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return NewService(s, slog.New(slog.NewTextHandler(io.Discard, nil))), s
}

func seedTemplate(t *testing.T, s store.Store, name string, state domain.LifecycleState, offset time.Duration) *domain.Template {
	t.Helper()
	template, err := domain.NewTemplate(name, "Production line KPI view", "s3://dashboards/x.json", "dev@example.com")
	require.NoError(t, err)
	template.State = state
	template.Category = domain.CategoryForState(state)
	template.CreatedAt = template.CreatedAt.Add(offset)
	template.UpdatedAt = template.CreatedAt
	require.NoError(t, s.CreateTemplate(context.Background(), template))
	return template
}

func TestStatus_ReturnsTemplateAndHistory(t *testing.T) {
	svc, s := setupService(t)
	ctx := context.Background()

	template := seedTemplate(t, s, "Engine Health", domain.StateInReview, 0)
	record := domain.NewAppliedTransition(template.ID, domain.StateSubmitted, domain.StateInReview, "dev@example.com")
	require.NoError(t, s.AppendTransition(ctx, record))

	status, err := svc.Status(ctx, template.ID)
	require.NoError(t, err)
	assert.Equal(t, template.ID, status.Template.ID)
	require.Len(t, status.History, 1)
	assert.Equal(t, record.ID, status.History[0].ID)
}

func TestStatus_NotFound(t *testing.T) {
	svc, _ := setupService(t)

	_, err := svc.Status(context.Background(), "tmpl_missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPendingApprovals_OldestFirst(t *testing.T) {
	svc, s := setupService(t)
	ctx := context.Background()

	reviewing := seedTemplate(t, s, "Engine Health", domain.StateInReview, 0)
	sandboxed := seedTemplate(t, s, "CNC Analysis", domain.StateSandboxed, -time.Minute)
	seedTemplate(t, s, "Shipped Overview", domain.StateProduction, -time.Hour)
	seedTemplate(t, s, "Dead Dashboard", domain.StateRejected, -time.Hour)

	pending, err := svc.PendingApprovals(ctx, store.DefaultListOptions())
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, sandboxed.ID, pending[0].ID)
	assert.Equal(t, reviewing.ID, pending[1].ID)
}

func TestListByState(t *testing.T) {
	svc, s := setupService(t)
	ctx := context.Background()

	live := seedTemplate(t, s, "Shipped Overview", domain.StateProduction, 0)
	seedTemplate(t, s, "Engine Health", domain.StateInReview, time.Second)

	templates, err := svc.ListByState(ctx, domain.StateProduction, store.DefaultListOptions())
	require.NoError(t, err)
	require.Len(t, templates, 1)
	assert.Equal(t, live.ID, templates[0].ID)
}

func TestListByState_UnknownState(t *testing.T) {
	svc, _ := setupService(t)

	_, err := svc.ListByState(context.Background(), "archived", store.DefaultListOptions())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnknownState)
	assert.NotErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestStats(t *testing.T) {
	svc, s := setupService(t)
	ctx := context.Background()

	template := seedTemplate(t, s, "Engine Health", domain.StateInReview, 0)
	require.NoError(t, s.AppendTransition(ctx,
		domain.NewAppliedTransition(template.ID, domain.StateSubmitted, domain.StateInReview, "dev@example.com")))
	require.NoError(t, s.AppendTransition(ctx,
		domain.NewRejectedTransition(template.ID, domain.StateInReview, domain.StateSandboxed, "reviewer@example.com", domain.ReasonGuardrailFailed, "has_description: template has no description")))

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Applied)
	assert.Equal(t, 1, stats.Rejected)
	assert.Equal(t, 1, stats.RejectedByReason[domain.ReasonGuardrailFailed])
	assert.Equal(t, 1, stats.TemplatesByState[string(domain.StateInReview)])
}
