package guardrail

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/artpar/promoter/internal/core/domain"
)

// =============================================================================
// Built-in Rules
// =============================================================================

// HasDescription requires a non-trivial description so reviewers and the
// dashboard have something to display.
type HasDescription struct {
	// MinLength is the minimum description length. Defaults to 10.
	MinLength int
}

func (r HasDescription) Name() string { return "has_description" }

func (r HasDescription) Evaluate(t domain.Template) (bool, string) {
	min := r.MinLength
	if min == 0 {
		min = 10
	}
	desc := strings.TrimSpace(t.Description)
	if desc == "" {
		return false, "template has no description"
	}
	if len(desc) < min {
		return false, fmt.Sprintf("description is shorter than %d characters", min)
	}
	return true, ""
}

// ContentRefLint requires the content reference to be a well-formed URI
// pointing at a dashboard artifact the renderer understands.
type ContentRefLint struct {
	// AllowedExtensions lists accepted artifact extensions.
	// Defaults to .json, .yaml, .yml.
	AllowedExtensions []string
}

func (r ContentRefLint) Name() string { return "passes_lint" }

func (r ContentRefLint) Evaluate(t domain.Template) (bool, string) {
	ref, err := url.Parse(t.ContentRef)
	if err != nil || ref.Scheme == "" {
		return false, "content reference is not a valid URI"
	}

	allowed := r.AllowedExtensions
	if len(allowed) == 0 {
		allowed = []string{".json", ".yaml", ".yml"}
	}
	for _, ext := range allowed {
		if strings.HasSuffix(strings.ToLower(ref.Path), ext) {
			return true, ""
		}
	}
	return false, fmt.Sprintf("content reference must end with one of %s", strings.Join(allowed, ", "))
}

// NoEmbeddedSecrets scans submission metadata for credential-looking
// strings. Dashboard templates must reference secrets by name, never
// embed them.
type NoEmbeddedSecrets struct{}

func (r NoEmbeddedSecrets) Name() string { return "no_embedded_secrets" }

var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),                          // AWS access key ID
	regexp.MustCompile(`(?i)(password|passwd|secret|token)\s*[:=]`), // inline credentials
	regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----`),        // PEM material
}

func (r NoEmbeddedSecrets) Evaluate(t domain.Template) (bool, string) {
	haystack := t.Name + "\n" + t.Description + "\n" + t.ContentRef
	for _, p := range secretPatterns {
		if p.MatchString(haystack) {
			return false, "submission appears to embed a credential"
		}
	}
	return true, ""
}

// =============================================================================
// Rule Registry
// =============================================================================

// RuleFunc adapts a plain function into a Rule, for callers plugging in
// custom checks without declaring a type.
type RuleFunc struct {
	RuleName string
	Fn       func(t domain.Template) (bool, string)
}

func (r RuleFunc) Name() string { return r.RuleName }

func (r RuleFunc) Evaluate(t domain.Template) (bool, string) { return r.Fn(t) }

// builtinRules maps configuration names to rule constructors.
var builtinRules = map[string]func(cfg RuleSetConfig) Rule{
	"has_description": func(cfg RuleSetConfig) Rule {
		return HasDescription{MinLength: cfg.MinDescriptionLength}
	},
	"passes_lint": func(cfg RuleSetConfig) Rule {
		return ContentRefLint{AllowedExtensions: cfg.AllowedExtensions}
	},
	"no_embedded_secrets": func(cfg RuleSetConfig) Rule {
		return NoEmbeddedSecrets{}
	},
}

// DefaultRules returns the standard rule set in its canonical order.
func DefaultRules() []Rule {
	return []Rule{HasDescription{}, ContentRefLint{}, NoEmbeddedSecrets{}}
}
