// Package e2e exercises the whole promotion workflow over real HTTP:
// the full router, a real SQLite store, and the real deployer gateway
// talking to a fake deployer server.
package e2e

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/artpar/promoter/internal/core/guardrail"
	"github.com/artpar/promoter/internal/shell/api"
	"github.com/artpar/promoter/internal/shell/api/middleware"
	"github.com/artpar/promoter/internal/shell/dashboard"
	"github.com/artpar/promoter/internal/shell/deploy"
	"github.com/artpar/promoter/internal/shell/promotion"
	"github.com/artpar/promoter/internal/shell/store"
	"github.com/artpar/promoter/internal/shell/workers"
)

// =============================================================================
// Fake Deployer
// =============================================================================

// deployRequest mirrors the deployer wire format.
type deployRequest struct {
	TemplateID string `json:"template_id"`
	ContentRef string `json:"content_ref"`
	Target     string `json:"target"`
	Category   string `json:"category"`
}

// FakeDeployer is an in-memory deployer service. It records every request
// and deduplicates on the Idempotency-Key header like the real one.
type FakeDeployer struct {
	mu       sync.Mutex
	requests []deployRequest
	keys     map[string]int
	failing  bool
}

func NewFakeDeployer() *FakeDeployer {
	return &FakeDeployer{keys: make(map[string]int)}
}

func (d *FakeDeployer) SetFailing(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failing = v
}

// Requests returns a copy of all deployment requests seen so far.
func (d *FakeDeployer) Requests() []deployRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]deployRequest(nil), d.requests...)
}

// KeyCount returns how many times the given idempotency key was seen.
func (d *FakeDeployer) KeyCount(key string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.keys[key]
}

func (d *FakeDeployer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /api/v1/deployments", func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		defer d.mu.Unlock()

		if d.failing {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}

		var req deployRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		d.requests = append(d.requests, req)
		d.keys[r.Header.Get("Idempotency-Key")]++

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"deployment_id": "dep_" + req.TemplateID + "_" + req.Target,
			"url":           "https://" + req.Target + ".example.com/" + req.TemplateID,
		})
	})
	return mux
}

// =============================================================================
// Test Environment
// =============================================================================

// Env is a fully wired promoter instance listening on a local port.
type Env struct {
	Server   *httptest.Server
	Deployer *FakeDeployer
}

// Setup builds the environment: fake deployer, SQLite store on disk,
// real HTTP gateway, state machine, and API server.
func Setup(t *testing.T) *Env {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	deployer := NewFakeDeployer()
	deployerSrv := httptest.NewServer(deployer.Handler())
	t.Cleanup(deployerSrv.Close)

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "promoter.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	rolesPath := filepath.Join(t.TempDir(), "roles.yaml")
	require.NoError(t, os.WriteFile(rolesPath, []byte(
		"roles:\n  admin@example.com: admin\n  reviewer@example.com: analyst\n"), 0o600))
	roles, err := middleware.LoadRoleMap(rolesPath)
	require.NoError(t, err)

	gateway := deploy.NewHTTPGateway(deploy.Config{BaseURL: deployerSrv.URL})
	checker := guardrail.NewChecker(guardrail.DefaultRules()...)
	machine := promotion.NewMachine(s, checker, gateway, promotion.DefaultConfig(), logger)
	dash := dashboard.NewService(s, logger)

	prober := workers.NewGatewayProber(gateway, workers.DefaultGatewayProberConfig(), logger)
	prober.Start()
	t.Cleanup(prober.Stop)

	handler := api.NewHandler(machine, dash, checker, s, prober, roles, logger)
	apiSrv := httptest.NewServer(handler.Routes())
	t.Cleanup(apiSrv.Close)

	return &Env{Server: apiSrv, Deployer: deployer}
}

// =============================================================================
// HTTP Helpers
// =============================================================================

// Do performs a request as the given actor and decodes the JSON response
// into out (when out is non-nil). It returns the status code.
func (e *Env) Do(t *testing.T, method, path, email string, body, out any) int {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, e.Server.URL+path, reader)
	require.NoError(t, err)
	if email != "" {
		req.Header.Set("X-Forwarded-Email", email)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if out != nil {
		require.NoError(t, json.Unmarshal(data, out), "body: %s", data)
	}
	return resp.StatusCode
}

// Submit submits a template and returns its response.
func (e *Env) Submit(t *testing.T, email string, req api.SubmitTemplateRequest) api.TemplateResponse {
	t.Helper()
	var created api.TemplateResponse
	status := e.Do(t, http.MethodPost, "/api/v1/templates", email, req, &created)
	require.Equal(t, http.StatusCreated, status)
	return created
}

// Advance attempts the next promotion step and returns the recorded
// transition.
func (e *Env) Advance(t *testing.T, templateID, email string) api.TransitionResponse {
	t.Helper()
	var record api.TransitionResponse
	status := e.Do(t, http.MethodPost, "/api/v1/templates/"+templateID+"/advance", email, nil, &record)
	require.Equal(t, http.StatusOK, status)
	return record
}
