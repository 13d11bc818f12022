// Package middleware provides HTTP middleware for the promoter API.
// Actor identity arrives via proxy-injected headers; roles come from a
// YAML file loaded at startup.
package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// HeaderForwardedEmail carries the authenticated user's email, injected
// by the fronting proxy.
const HeaderForwardedEmail = "X-Forwarded-Email"

// =============================================================================
// Roles
// =============================================================================

// Role is an ordered permission level. Higher roles include lower ones.
type Role int

const (
	RoleViewer Role = iota
	RoleAnalyst
	RoleAdmin
)

func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "admin"
	case RoleAnalyst:
		return "analyst"
	default:
		return "viewer"
	}
}

// ParseRole parses a role name. Unknown names map to viewer.
func ParseRole(s string) Role {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "admin":
		return RoleAdmin
	case "analyst":
		return RoleAnalyst
	default:
		return RoleViewer
	}
}

// RoleMap assigns roles by email. Emails not in the map get viewer.
type RoleMap struct {
	roles map[string]Role
}

// roleFile is the YAML shape of the roles file:
//
//	roles:
//	  admin@example.com: admin
//	  analyst@example.com: analyst
type roleFile struct {
	Roles map[string]string `yaml:"roles"`
}

// LoadRoleMap reads the role assignments from a YAML file. An empty path
// yields an empty map where everyone is a viewer.
func LoadRoleMap(path string) (*RoleMap, error) {
	rm := &RoleMap{roles: make(map[string]Role)}
	if path == "" {
		return rm, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading roles file: %w", err)
	}

	var file roleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing roles file: %w", err)
	}

	for email, role := range file.Roles {
		rm.roles[strings.ToLower(email)] = ParseRole(role)
	}
	return rm, nil
}

// RoleFor returns the role assigned to the email.
func (rm *RoleMap) RoleFor(email string) Role {
	if role, ok := rm.roles[strings.ToLower(email)]; ok {
		return role
	}
	return RoleViewer
}

// =============================================================================
// Actor Context
// =============================================================================

// Actor is the authenticated caller for the current request.
type Actor struct {
	Email string
	Role  Role
}

// Authenticated reports whether an identity header was present.
func (a Actor) Authenticated() bool {
	return a.Email != ""
}

type contextKey struct{}

// WithActor stores the actor in the context.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, contextKey{}, actor)
}

// ActorFromContext returns the actor for the request, or a zero Actor when
// no identity header was present.
func ActorFromContext(ctx context.Context) Actor {
	if actor, ok := ctx.Value(contextKey{}).(Actor); ok {
		return actor
	}
	return Actor{}
}

// =============================================================================
// Auth Middleware
// =============================================================================

// AuthMiddleware resolves the forwarded email header to an Actor and
// stores it in the request context. It never rejects; gating happens in
// RequireActor and RequireRole.
type AuthMiddleware struct {
	roles  *RoleMap
	logger *slog.Logger
}

// NewAuthMiddleware creates the auth middleware.
func NewAuthMiddleware(roles *RoleMap, logger *slog.Logger) *AuthMiddleware {
	if roles == nil {
		roles = &RoleMap{roles: make(map[string]Role)}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthMiddleware{roles: roles, logger: logger}
}

// Handler returns the middleware handler function.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		email := strings.TrimSpace(r.Header.Get(HeaderForwardedEmail))

		actor := Actor{}
		if email != "" {
			actor = Actor{Email: strings.ToLower(email), Role: m.roles.RoleFor(email)}
		}

		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
	})
}

// RequireActor rejects requests without an identity header.
// Must be used after AuthMiddleware.
func RequireActor(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := ActorFromContext(r.Context())
			if !actor.Authenticated() {
				logger.Warn("unauthenticated request to protected endpoint",
					"remote_addr", r.RemoteAddr,
					"path", r.URL.Path,
					"method", r.Method,
				)
				writeJSONError(w, http.StatusUnauthorized, "authentication required", "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole rejects requests from actors below the given role.
// Must be used after AuthMiddleware.
func RequireRole(min Role, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := ActorFromContext(r.Context())
			if !actor.Authenticated() {
				writeJSONError(w, http.StatusUnauthorized, "authentication required", "unauthorized")
				return
			}
			if actor.Role < min {
				logger.Warn("insufficient role for endpoint",
					"actor", actor.Email,
					"role", actor.Role.String(),
					"required", min.String(),
					"path", r.URL.Path,
				)
				writeJSONError(w, http.StatusForbidden, min.String()+" role required", "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// =============================================================================
// JSON Error Response
// =============================================================================

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSONError(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: message, Code: code})
}
