package correlation

import (
	"testing"

	"opsec-attrib/internal/signal"
)

func TestBuiltinPatternRulesValid(t *testing.T) {
	rules := BuiltinPatternRules()
	if len(rules) != 2 {
		t.Fatalf("got %d builtin rules, want 2", len(rules))
	}
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			t.Errorf("builtin rule %s invalid: %v", r.ID, err)
		}
		if !r.Enabled {
			t.Errorf("builtin rule %s not enabled", r.ID)
		}
	}
}

func TestPatternRuleValidate(t *testing.T) {
	valid := PatternRule{
		ID:          "test-rule",
		Name:        "test",
		Enabled:     true,
		LayerA:      signal.LayerDNS,
		IDContainsA: []string{"resolver"},
		LayerB:      signal.LayerNetwork,
		IDContainsB: []string{"as"},
		Type:        TypeDNSNetwork,
		Explanation: "test explanation",
	}

	tests := []struct {
		name    string
		mutate  func(*PatternRule)
		wantErr bool
	}{
		{"valid rule", func(r *PatternRule) {}, false},
		{"missing id", func(r *PatternRule) { r.ID = "" }, true},
		{"invalid layer a", func(r *PatternRule) { r.LayerA = "quantum" }, true},
		{"invalid layer b", func(r *PatternRule) { r.LayerB = "" }, true},
		{"empty predicate a", func(r *PatternRule) { r.IDContainsA = nil }, true},
		{"empty predicate b", func(r *PatternRule) { r.IDContainsB = nil }, true},
		{"missing type", func(r *PatternRule) { r.Type = "" }, true},
		{"missing explanation", func(r *PatternRule) { r.Explanation = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := valid
			tt.mutate(&rule)
			err := rule.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPatternRuleMatch(t *testing.T) {
	rule := BuiltinPatternRules()[0]

	tests := []struct {
		name  string
		sig   signal.Signal
		sideA bool
		sideB bool
	}{
		{
			name:  "dns resolver matches side a",
			sig:   testSignal("public_resolver_8_8_8_8", signal.LayerDNS, signal.StrengthPair),
			sideA: true,
		},
		{
			name:  "network as matches side b",
			sig:   testSignal("as_path_length", signal.LayerNetwork, signal.StrengthPair),
			sideB: true,
		},
		{
			name: "resolver id on wrong layer",
			sig:  testSignal("public_resolver_8_8_8_8", signal.LayerNetwork, signal.StrengthPair),
		},
		{
			name: "dns signal without substring",
			sig:  testSignal("doh_disabled", signal.LayerDNS, signal.StrengthPair),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := rule.MatchA(&tt.sig); got != tt.sideA {
				t.Errorf("MatchA() = %v, want %v", got, tt.sideA)
			}
			if got := rule.MatchB(&tt.sig); got != tt.sideB {
				t.Errorf("MatchB() = %v, want %v", got, tt.sideB)
			}
		})
	}
}

func TestParsePatternRules(t *testing.T) {
	data := []byte(`
- id: custom-rule
  name: Custom kernel/network correlation
  enabled: true
  layer_a: kernel
  id_contains_a: [mtu]
  layer_b: network
  id_contains_b: [route]
  type: TEMPORAL
  explanation: kernel MTU and routing signals correlate
`)

	rules, err := ParsePatternRules(data)
	if err != nil {
		t.Fatalf("ParsePatternRules() error: %v", err)
	}
	if len(rules) != 1 {
		t.Fatalf("got %d rules, want 1", len(rules))
	}
	r := rules[0]
	if r.ID != "custom-rule" || r.LayerA != signal.LayerKernel || r.LayerB != signal.LayerNetwork {
		t.Errorf("unexpected parsed rule: %+v", r)
	}
}

func TestParsePatternRulesRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{
			name: "malformed yaml",
			data: "- id: [broken",
		},
		{
			name: "invalid rule",
			data: "- id: bad-rule\n  layer_a: nosuchlayer\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParsePatternRules([]byte(tt.data)); err == nil {
				t.Error("ParsePatternRules() accepted invalid input")
			}
		})
	}
}
