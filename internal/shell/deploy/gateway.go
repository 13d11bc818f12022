// Package deploy provides the client for the external deployment service
// that materializes sandbox and production deployments of templates.
package deploy

import (
	"context"
	"errors"

	"github.com/artpar/promoter/internal/core/domain"
)

// =============================================================================
// Gateway Interface
// =============================================================================

// Target identifies the deployment environment.
type Target string

const (
	TargetSandbox    Target = "sandbox"
	TargetProduction Target = "production"
)

// ErrDeploymentFailed is returned when the deployer rejects or fails a
// deployment request. Callers may retry; the deployer is idempotent for
// the same template and target.
var ErrDeploymentFailed = errors.New("deployment failed")

// DeploymentRef identifies a materialized deployment on the deployer side.
type DeploymentRef struct {
	ID     string `json:"id"`
	Target Target `json:"target"`
	URL    string `json:"url,omitempty"`
}

// Gateway defines the interface for the external deployment service.
// Implementations must be idempotent under retry with the same
// template and target - a timed-out call followed by a retry must not
// double-deploy.
type Gateway interface {
	// DeploySandbox materializes the template in the sandbox environment.
	DeploySandbox(ctx context.Context, template domain.Template) (*DeploymentRef, error)

	// DeployProduction materializes the template in production.
	DeployProduction(ctx context.Context, template domain.Template) (*DeploymentRef, error)

	// Ping checks that the deployer is reachable.
	Ping(ctx context.Context) error
}
