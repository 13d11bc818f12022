package guardrail

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Rule Set Configuration
// =============================================================================

var ErrNoRulesConfigured = errors.New("rule set configuration lists no rules")

// RuleSetConfig is the YAML shape of a guardrail rule-set file:
//
//	rules:
//	  - has_description
//	  - passes_lint
//	  - no_embedded_secrets
//	min_description_length: 10
//	allowed_extensions: [".json", ".yaml"]
//
// Rules run in file order, so violation output is reproducible.
type RuleSetConfig struct {
	Rules                []string `yaml:"rules"`
	MinDescriptionLength int      `yaml:"min_description_length"`
	AllowedExtensions    []string `yaml:"allowed_extensions"`
}

// ParseRuleSet parses a YAML rule-set document and builds the checker.
// Unknown rule names are an error rather than being skipped; a typo in a
// guardrail file must not silently weaken the policy.
func ParseRuleSet(data []byte) (*Checker, error) {
	var cfg RuleSetConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse rule set: %w", err)
	}
	if len(cfg.Rules) == 0 {
		return nil, ErrNoRulesConfigured
	}

	rules := make([]Rule, 0, len(cfg.Rules))
	for _, name := range cfg.Rules {
		build, ok := builtinRules[name]
		if !ok {
			return nil, fmt.Errorf("unknown guardrail rule %q", name)
		}
		rules = append(rules, build(cfg))
	}

	return NewChecker(rules...), nil
}
