// Package guardrail evaluates policy rules against template submissions
// before sandbox deployment is permitted. This is part of the Functional
// Core - rules are pure predicates with no I/O.
package guardrail

import "github.com/artpar/promoter/internal/core/domain"

// =============================================================================
// Rule Interface
// =============================================================================

// Rule is a single named guardrail predicate.
type Rule interface {
	// Name returns the stable rule identifier (e.g. "has_description").
	// The name doubles as the violation code when the rule fails.
	Name() string

	// Evaluate checks the template against the rule.
	// On failure it returns false and a human-readable message.
	Evaluate(t domain.Template) (bool, string)
}

// =============================================================================
// Result
// =============================================================================

// Violation describes one failed rule.
type Violation struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Result is the outcome of a guardrail check. Violations appear in rule
// order, so identical input always produces identical output.
type Result struct {
	Pass       bool        `json:"pass"`
	Violations []Violation `json:"violations,omitempty"`
}

// Reason renders the result as a single rejection reason string for
// transition records. Returns "" when the check passed.
func (r Result) Reason() string {
	if r.Pass {
		return ""
	}
	reason := ""
	for i, v := range r.Violations {
		if i > 0 {
			reason += "; "
		}
		reason += v.Code + ": " + v.Message
	}
	return reason
}

// =============================================================================
// Checker
// =============================================================================

// Checker runs an ordered list of rules. It is stateless; the same checker
// can be shared across goroutines.
type Checker struct {
	rules []Rule
}

// NewChecker creates a checker with the given rules, evaluated in order.
func NewChecker(rules ...Rule) *Checker {
	return &Checker{rules: rules}
}

// Rules returns the configured rule names in evaluation order.
func (c *Checker) Rules() []string {
	names := make([]string, 0, len(c.rules))
	for _, r := range c.rules {
		names = append(names, r.Name())
	}
	return names
}

// Check evaluates every rule against the template. The overall result
// passes iff all rules pass; all violations are collected, not just the
// first, so submitters get complete feedback in one round.
func (c *Checker) Check(t domain.Template) Result {
	result := Result{Pass: true}

	for _, rule := range c.rules {
		ok, message := rule.Evaluate(t)
		if !ok {
			result.Pass = false
			result.Violations = append(result.Violations, Violation{
				Code:    rule.Name(),
				Message: message,
			})
		}
	}

	return result
}
