package correlation

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"opsec-attrib/internal/signal"
)

// PatternRule declares one cross-layer correlation pattern: a pair of
// layers, a membership predicate over signal identifiers for each side, the
// result type to emit, and an explanation template. Rules are data; the
// cross-layer pass iterates the registry without knowing any rule's
// specifics, so new patterns need no control-flow changes.
type PatternRule struct {
	ID          string       `yaml:"id"`
	Name        string       `yaml:"name"`
	Enabled     bool         `yaml:"enabled"`
	LayerA      signal.Layer `yaml:"layer_a"`
	IDContainsA []string     `yaml:"id_contains_a"`
	LayerB      signal.Layer `yaml:"layer_b"`
	IDContainsB []string     `yaml:"id_contains_b"`
	Type        Type         `yaml:"type"`
	Explanation string       `yaml:"explanation"`
}

// Validate validates the rule definition.
func (r *PatternRule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule ID is required")
	}
	if !r.LayerA.IsValid() {
		return fmt.Errorf("rule %s: invalid layer_a: %q", r.ID, r.LayerA)
	}
	if !r.LayerB.IsValid() {
		return fmt.Errorf("rule %s: invalid layer_b: %q", r.ID, r.LayerB)
	}
	if len(r.IDContainsA) == 0 || len(r.IDContainsB) == 0 {
		return fmt.Errorf("rule %s: both identifier predicates require at least one substring", r.ID)
	}
	if r.Type == "" {
		return fmt.Errorf("rule %s: result type is required", r.ID)
	}
	if r.Explanation == "" {
		return fmt.Errorf("rule %s: explanation is required", r.ID)
	}
	return nil
}

// MatchA reports whether a signal satisfies the rule's first predicate.
func (r *PatternRule) MatchA(s *signal.Signal) bool {
	return s.Layer == r.LayerA && idContainsAny(s.ID, r.IDContainsA)
}

// MatchB reports whether a signal satisfies the rule's second predicate.
func (r *PatternRule) MatchB(s *signal.Signal) bool {
	return s.Layer == r.LayerB && idContainsAny(s.ID, r.IDContainsB)
}

// idContainsAny matches case-insensitively; signal identifiers are
// lowercase by contract, so this is equivalent to exact substring matching
// while staying robust to uppercase substrings in rule files.
func idContainsAny(id string, substrings []string) bool {
	lower := strings.ToLower(id)
	for _, sub := range substrings {
		if strings.Contains(lower, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}

// BuiltinPatternRules returns the default cross-layer pattern registry.
func BuiltinPatternRules() []PatternRule {
	return []PatternRule{
		{
			ID:          "dns-network-as",
			Name:        "DNS resolver and network AS correlation",
			Enabled:     true,
			LayerA:      signal.LayerDNS,
			IDContainsA: []string{"resolver", "public_resolver"},
			LayerB:      signal.LayerNetwork,
			IDContainsB: []string{"as"},
			Type:        TypeDNSNetwork,
			Explanation: "DNS resolver and network AS signals enable infrastructure correlation",
		},
		{
			ID:          "timezone-timing",
			Name:        "Timezone and activity timing correlation",
			Enabled:     true,
			LayerA:      signal.LayerUserland,
			IDContainsA: []string{"timezone", "locale"},
			LayerB:      signal.LayerMetadata,
			IDContainsB: []string{"time", "timing"},
			Type:        TypeTimezoneTiming,
			Explanation: "Timezone and activity timing signals enable geographic/human attribution",
		},
	}
}

// ParsePatternRules parses pattern rules from YAML bytes.
func ParsePatternRules(data []byte) ([]PatternRule, error) {
	var rules []PatternRule
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("failed to parse pattern rules: %w", err)
	}
	for i := range rules {
		if err := rules[i].Validate(); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
	}
	return rules, nil
}
