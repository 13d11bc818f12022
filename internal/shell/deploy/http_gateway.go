package deploy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/artpar/promoter/internal/core/domain"
)

// =============================================================================
// HTTP Gateway Implementation
// =============================================================================

// HTTPGateway implements Gateway against the deployer's HTTP API.
type HTTPGateway struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Config holds configuration for the HTTP gateway.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// DefaultConfig returns default gateway configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8090",
		Timeout: 30 * time.Second,
	}
}

// NewHTTPGateway creates a new deployer client.
func NewHTTPGateway(cfg Config) *HTTPGateway {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &HTTPGateway{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// deployRequest is the request body for a deployment.
type deployRequest struct {
	TemplateID string `json:"template_id"`
	Name       string `json:"name"`
	Slug       string `json:"slug"`
	ContentRef string `json:"content_ref"`
	Target     string `json:"target"`
	Category   string `json:"category"`
}

// deployResponse is the deployer's response body.
type deployResponse struct {
	DeploymentID string `json:"deployment_id"`
	URL          string `json:"url,omitempty"`
}

// DeploySandbox materializes the template in the sandbox environment.
func (g *HTTPGateway) DeploySandbox(ctx context.Context, template domain.Template) (*DeploymentRef, error) {
	return g.deploy(ctx, template, TargetSandbox, domain.CategoryDev)
}

// DeployProduction materializes the template in production.
func (g *HTTPGateway) DeployProduction(ctx context.Context, template domain.Template) (*DeploymentRef, error) {
	return g.deploy(ctx, template, TargetProduction, domain.CategoryMain)
}

func (g *HTTPGateway) deploy(ctx context.Context, template domain.Template, target Target, category domain.Category) (*DeploymentRef, error) {
	payload := deployRequest{
		TemplateID: template.ID,
		Name:       template.Name,
		Slug:       template.Slug,
		ContentRef: template.ContentRef,
		Target:     string(target),
		Category:   string(category),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal deploy request: %w", err)
	}

	url := g.baseURL + "/api/v1/deployments"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	// The deployer deduplicates on this key, making retries after a
	// timeout safe.
	req.Header.Set("Idempotency-Key", template.ID+":"+string(target))
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeploymentFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: deployer returned %d: %s", ErrDeploymentFailed, resp.StatusCode, string(respBody))
	}

	var result deployResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: invalid deployer response: %v", ErrDeploymentFailed, err)
	}

	return &DeploymentRef{
		ID:     result.DeploymentID,
		Target: target,
		URL:    result.URL,
	}, nil
}

// Ping checks that the deployer is reachable.
func (g *HTTPGateway) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("deployer health check returned %d", resp.StatusCode)
	}
	return nil
}

// =============================================================================
// No-Op Gateway (for development/testing)
// =============================================================================

// NoopGateway is a gateway that deploys nothing (for development mode).
type NoopGateway struct{}

// NewNoopGateway creates a no-op deployment gateway.
func NewNoopGateway() *NoopGateway {
	return &NoopGateway{}
}

func (g *NoopGateway) DeploySandbox(ctx context.Context, template domain.Template) (*DeploymentRef, error) {
	return &DeploymentRef{ID: "noop-" + template.ID, Target: TargetSandbox}, nil
}

func (g *NoopGateway) DeployProduction(ctx context.Context, template domain.Template) (*DeploymentRef, error) {
	return &DeploymentRef{ID: "noop-" + template.ID, Target: TargetProduction}, nil
}

func (g *NoopGateway) Ping(ctx context.Context) error {
	return nil
}
