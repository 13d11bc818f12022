package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/promoter/internal/core/guardrail"
	"github.com/artpar/promoter/internal/shell/api/middleware"
	"github.com/artpar/promoter/internal/shell/dashboard"
	"github.com/artpar/promoter/internal/shell/deploy"
	"github.com/artpar/promoter/internal/shell/promotion"
	"github.com/artpar/promoter/internal/shell/store"
)

// =============================================================================
// Test Helpers
// =============================================================================

const (
	submitterEmail = "dev@example.com"
	reviewerEmail  = "reviewer@example.com"
	adminEmail     = "admin@example.com"
)

// staticHealth is a fixed DeployerHealth answer for tests.
type staticHealth bool

func (h staticHealth) Healthy() bool { return bool(h) }

func setupHandlerEnv(t *testing.T, health DeployerHealth) (http.Handler, *store.SQLiteStore) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	rolesPath := filepath.Join(t.TempDir(), "roles.yaml")
	require.NoError(t, os.WriteFile(rolesPath, []byte("roles:\n  admin@example.com: admin\n  reviewer@example.com: analyst\n"), 0o600))
	roles, err := middleware.LoadRoleMap(rolesPath)
	require.NoError(t, err)

	checker := guardrail.NewChecker(guardrail.DefaultRules()...)
	machine := promotion.NewMachine(s, checker, deploy.NewNoopGateway(), promotion.DefaultConfig(), logger)
	dash := dashboard.NewService(s, logger)

	return NewHandler(machine, dash, checker, s, health, roles, logger).Routes(), s
}

func setupHandler(t *testing.T) http.Handler {
	t.Helper()
	handler, _ := setupHandlerEnv(t, staticHealth(true))
	return handler
}

func doRequest(t *testing.T, handler http.Handler, method, path, email string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if email != "" {
		req.Header.Set(middleware.HeaderForwardedEmail, email)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func submitValid(t *testing.T, handler http.Handler) TemplateResponse {
	t.Helper()
	rec := doRequest(t, handler, http.MethodPost, "/api/v1/templates", submitterEmail, SubmitTemplateRequest{
		Name:        "Engine Health",
		Description: "Engine temperature and vibration KPIs",
		ContentRef:  "s3://dashboards/engine-health.json",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeJSON[TemplateResponse](t, rec)
}

// =============================================================================
// Submit Tests
// =============================================================================

func TestHandleSubmitTemplate(t *testing.T) {
	handler := setupHandler(t)

	created := submitValid(t, handler)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "in_review", created.State)
	assert.Equal(t, submitterEmail, created.SubmittedBy)
}

func TestHandleSubmitTemplate_RequiresActor(t *testing.T) {
	handler := setupHandler(t)

	rec := doRequest(t, handler, http.MethodPost, "/api/v1/templates", "", SubmitTemplateRequest{
		Name:       "Engine Health",
		ContentRef: "s3://dashboards/engine-health.json",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleSubmitTemplate_Validation(t *testing.T) {
	handler := setupHandler(t)

	rec := doRequest(t, handler, http.MethodPost, "/api/v1/templates", submitterEmail, SubmitTemplateRequest{
		Name: "Missing Content Ref",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	resp := decodeJSON[ErrorResponse](t, rec)
	assert.Equal(t, "validation_error", resp.Code)
}

// =============================================================================
// Read Tests
// =============================================================================

func TestHandleGetTemplate(t *testing.T) {
	handler := setupHandler(t)
	created := submitValid(t, handler)

	rec := doRequest(t, handler, http.MethodGet, "/api/v1/templates/"+created.ID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeJSON[TemplateResponse](t, rec)
	assert.Equal(t, created.ID, got.ID)

	rec = doRequest(t, handler, http.MethodGet, "/api/v1/templates/tmpl_missing", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleListTemplates_StateFilter(t *testing.T) {
	handler := setupHandler(t)
	submitValid(t, handler)

	rec := doRequest(t, handler, http.MethodGet, "/api/v1/templates?state=in_review", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeJSON[ListTemplatesResponse](t, rec)
	assert.Len(t, list.Templates, 1)

	rec = doRequest(t, handler, http.MethodGet, "/api/v1/templates?state=production", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list = decodeJSON[ListTemplatesResponse](t, rec)
	assert.Empty(t, list.Templates)

	rec = doRequest(t, handler, http.MethodGet, "/api/v1/templates?state=bogus", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeJSON[ErrorResponse](t, rec)
	assert.Equal(t, "validation_error", resp.Code)
}

func TestHandleGetHistory(t *testing.T) {
	handler := setupHandler(t)
	created := submitValid(t, handler)

	rec := doRequest(t, handler, http.MethodGet, "/api/v1/templates/"+created.ID+"/history", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decodeJSON[HistoryResponse](t, rec)
	require.Len(t, history.Transitions, 1)
	assert.Equal(t, "submitted", history.Transitions[0].FromState)
	assert.Equal(t, "in_review", history.Transitions[0].ToState)
}

// =============================================================================
// Transition Tests
// =============================================================================

func TestHandleAdvanceTemplate_FullPath(t *testing.T) {
	handler := setupHandler(t)
	created := submitValid(t, handler)

	path := "/api/v1/templates/" + created.ID + "/advance"

	rec := doRequest(t, handler, http.MethodPost, path, reviewerEmail, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	record := decodeJSON[TransitionResponse](t, rec)
	assert.Equal(t, "applied", record.Outcome)
	assert.Equal(t, "sandboxed", record.ToState)

	rec = doRequest(t, handler, http.MethodPost, path, adminEmail, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, handler, http.MethodPost, path, adminEmail, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	record = decodeJSON[TransitionResponse](t, rec)
	assert.Equal(t, "production", record.ToState)

	// production is terminal
	rec = doRequest(t, handler, http.MethodPost, path, adminEmail, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	resp := decodeJSON[ErrorResponse](t, rec)
	assert.Equal(t, "invalid_transition", resp.Code)
}

func TestHandleAdvanceTemplate_SeparationOfDuties(t *testing.T) {
	handler := setupHandler(t)
	created := submitValid(t, handler)

	path := "/api/v1/templates/" + created.ID + "/advance"
	rec := doRequest(t, handler, http.MethodPost, path, reviewerEmail, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Refused attempts are recorded outcomes, not HTTP errors.
	rec = doRequest(t, handler, http.MethodPost, path, submitterEmail, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	record := decodeJSON[TransitionResponse](t, rec)
	assert.Equal(t, "rejected", record.Outcome)
	assert.Equal(t, "separation_of_duties", record.Reason)
}

func TestHandleAdvanceTemplate_NotFound(t *testing.T) {
	handler := setupHandler(t)

	rec := doRequest(t, handler, http.MethodPost, "/api/v1/templates/tmpl_missing/advance", reviewerEmail, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleRejectTemplate_AdminOnly(t *testing.T) {
	handler := setupHandler(t)
	created := submitValid(t, handler)

	path := "/api/v1/templates/" + created.ID + "/reject"

	rec := doRequest(t, handler, http.MethodPost, path, reviewerEmail, RejectTemplateRequest{Reason: "stale"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doRequest(t, handler, http.MethodPost, path, adminEmail, RejectTemplateRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, handler, http.MethodPost, path, adminEmail, RejectTemplateRequest{Reason: "supplier contract ended"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	record := decodeJSON[TransitionResponse](t, rec)
	assert.Equal(t, "applied", record.Outcome)
	assert.Equal(t, "rejected", record.ToState)
	assert.Equal(t, "supplier contract ended", record.Detail)
}

func TestHandleRejectTemplate_AlreadyRejected(t *testing.T) {
	handler := setupHandler(t)
	created := submitValid(t, handler)

	path := "/api/v1/templates/" + created.ID + "/reject"
	rec := doRequest(t, handler, http.MethodPost, path, adminEmail, RejectTemplateRequest{Reason: "stale"})
	require.Equal(t, http.StatusOK, rec.Code)

	// A second override is refused instead of appending a duplicate record.
	rec = doRequest(t, handler, http.MethodPost, path, adminEmail, RejectTemplateRequest{Reason: "still stale"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	resp := decodeJSON[ErrorResponse](t, rec)
	assert.Equal(t, "invalid_transition", resp.Code)

	rec = doRequest(t, handler, http.MethodGet, "/api/v1/templates/"+created.ID+"/history", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decodeJSON[HistoryResponse](t, rec)
	assert.Len(t, history.Transitions, 2)
}

func TestHandleRejectTemplate_ProductionImmutable(t *testing.T) {
	handler := setupHandler(t)
	created := submitValid(t, handler)

	advance := "/api/v1/templates/" + created.ID + "/advance"
	for _, email := range []string{reviewerEmail, adminEmail, adminEmail} {
		rec := doRequest(t, handler, http.MethodPost, advance, email, nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := doRequest(t, handler, http.MethodPost, "/api/v1/templates/"+created.ID+"/reject", adminEmail, RejectTemplateRequest{Reason: "too late"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	resp := decodeJSON[ErrorResponse](t, rec)
	assert.Equal(t, "immutable_state", resp.Code)
}

// =============================================================================
// Dashboard Tests
// =============================================================================

func TestHandlePendingApprovals(t *testing.T) {
	handler := setupHandler(t)
	created := submitValid(t, handler)

	rec := doRequest(t, handler, http.MethodGet, "/api/v1/approvals/pending", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeJSON[ListTemplatesResponse](t, rec)
	require.Len(t, list.Templates, 1)
	assert.Equal(t, created.ID, list.Templates[0].ID)
}

func TestHandleGuardrails(t *testing.T) {
	handler := setupHandler(t)

	rec := doRequest(t, handler, http.MethodGet, "/api/v1/guardrails", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeJSON[GuardrailsResponse](t, rec)
	assert.Equal(t, []string{"has_description", "passes_lint", "no_embedded_secrets"}, resp.Rules)
}

func TestHandleStats(t *testing.T) {
	handler := setupHandler(t)
	submitValid(t, handler)

	rec := doRequest(t, handler, http.MethodGet, "/api/v1/dashboard/stats", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decodeJSON[StatsResponse](t, rec)
	assert.Equal(t, 1, stats.Applied)
	assert.Equal(t, 1, stats.TemplatesByState["in_review"])
}

// =============================================================================
// Health Tests
// =============================================================================

func TestHandleHealth(t *testing.T) {
	handler := setupHandler(t)

	rec := doRequest(t, handler, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	resp := decodeJSON[HealthResponse](t, rec)
	assert.Equal(t, "healthy", resp.Status)
}

func TestHandleReady(t *testing.T) {
	handler := setupHandler(t)

	rec := doRequest(t, handler, http.MethodGet, "/ready", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeJSON[ReadyResponse](t, rec)
	assert.Equal(t, "ready", resp.Status)
	assert.Equal(t, "ok", resp.Checks["deployer"])
	assert.Equal(t, "ok", resp.Checks["database"])
}

func TestHandleReady_DeployerUnreachable(t *testing.T) {
	// Readiness reports the prober's cached answer; no live deployer call.
	handler, _ := setupHandlerEnv(t, staticHealth(false))

	rec := doRequest(t, handler, http.MethodGet, "/ready", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	resp := decodeJSON[ReadyResponse](t, rec)
	assert.Equal(t, "not_ready", resp.Status)
	assert.Equal(t, "failed", resp.Checks["deployer"])
	assert.Equal(t, "ok", resp.Checks["database"])
}

func TestHandleReady_DatabaseDown(t *testing.T) {
	handler, s := setupHandlerEnv(t, staticHealth(true))
	require.NoError(t, s.Close())

	rec := doRequest(t, handler, http.MethodGet, "/ready", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	resp := decodeJSON[ReadyResponse](t, rec)
	assert.Equal(t, "not_ready", resp.Status)
	assert.Equal(t, "failed", resp.Checks["database"])
}

func TestHandleOpenAPI(t *testing.T) {
	handler := setupHandler(t)

	rec := doRequest(t, handler, http.MethodGet, "/openapi.json", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "3.0.3", doc["openapi"])
}
