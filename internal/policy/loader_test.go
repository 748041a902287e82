package policy

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validYAML = `
policies:
  - name: injection
    description: instruction override phrases
    enabled: true
    severity: high
    priority: 10
    conditions:
      - type: pattern_match
        operator: contains
        value: ["ignore previous instructions", "you are now"]
      - type: risk_score
        operator: greater_than
        value: 0.5
    actions:
      - type: block
        message: Injection blocked
  - name: moderate
    enabled: true
    severity: medium
    priority: 20
    conditions:
      - type: risk_score
        operator: in_range
        value: [0.3, 0.7]
    actions:
      - type: warn
        metadata:
          ticket: SEC-1
  - name: dormant
    enabled: false
    severity: low
    priority: 5
    conditions:
      - type: agent_history
        operator: equals
        value: 3
    actions:
      - type: allow
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestParse_Valid(t *testing.T) {
	policies, err := Parse([]byte(validYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(policies) != 3 {
		t.Fatalf("got %d policies, want 3", len(policies))
	}
	if policies[1].Actions[0].Metadata["ticket"] != "SEC-1" {
		t.Errorf("metadata not decoded: %+v", policies[1].Actions[0])
	}

	set := active(policies)
	if len(set) != 2 || set[0].Name != "injection" || set[1].Name != "moderate" {
		t.Errorf("active set = %v", set)
	}
}

func TestLoadWithHash(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "policies.yaml", validYAML)

	policies, hash, err := LoadWithHash(path)
	if err != nil {
		t.Fatalf("LoadWithHash: %v", err)
	}
	if len(policies) != 3 {
		t.Errorf("got %d policies", len(policies))
	}
	if want := HashBytes([]byte(validYAML)); hash != want {
		t.Errorf("hash = %s, want %s", hash, want)
	}
	if !strings.HasPrefix(hash, "sha256:") || len(hash) != len("sha256:")+64 {
		t.Errorf("hash format = %q", hash)
	}
}

func TestLoadWithHash_EmptyPathUsesDefaults(t *testing.T) {
	policies, hash, err := LoadWithHash("")
	if err != nil {
		t.Fatal(err)
	}
	if len(policies) != len(DefaultPolicies()) {
		t.Errorf("got %d policies", len(policies))
	}
	if hash != HashBytes(nil) {
		t.Errorf("hash = %s", hash)
	}
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"empty file", "", "defines no policies"},
		{"empty list", "policies: []", "defines no policies"},
		{"bad yaml", "policies: [", "invalid policy yaml"},
		{"unknown field", "policies:\n  - name: x\n    colour: red\n", "invalid policy yaml"},
		{"wrong field type", "policies:\n  - name: x\n    priority: high\n", "invalid policy yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, dir, strings.ReplaceAll(tt.name, " ", "_")+".yaml", tt.content)
			_, _, err := LoadWithHash(path)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want containing %q", err, tt.want)
			}
		})
	}

	if _, _, err := LoadWithHash(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("missing file should be an error")
	}
}

func TestValidate(t *testing.T) {
	valid := func() Policy {
		return Policy{
			Name:       "p",
			Enabled:    true,
			Severity:   SeverityHigh,
			Priority:   1,
			Conditions: []Condition{riskAbove(0.5)},
			Actions:    []Action{{Type: ActionBlock}},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Policy)
		want   string
	}{
		{"valid", func(*Policy) {}, ""},
		{"missing name", func(p *Policy) { p.Name = "" }, "name is required"},
		{"bad severity", func(p *Policy) { p.Severity = "severe" }, "unknown severity"},
		{"zero priority", func(p *Policy) { p.Priority = 0 }, "priority must be positive"},
		{"no conditions", func(p *Policy) { p.Conditions = nil }, "at least one condition"},
		{"no actions", func(p *Policy) { p.Actions = nil }, "at least one action"},
		{"bad action", func(p *Policy) { p.Actions[0].Type = "quarantine" }, "unknown type"},
		{"bad condition type", func(p *Policy) { p.Conditions[0].Type = "vibes" }, "unknown condition type"},
		{"bad operator", func(p *Policy) { p.Conditions[0].Operator = "near" }, "unknown operator"},
		{"pattern wrong operator", func(p *Policy) {
			p.Conditions[0] = Condition{Type: ConditionPatternMatch, Operator: OperatorEquals, Value: []any{"x"}}
		}, "requires operator contains"},
		{"pattern not a list", func(p *Policy) {
			p.Conditions[0] = Condition{Type: ConditionPatternMatch, Operator: OperatorContains, Value: "x"}
		}, "non-empty list of strings"},
		{"pattern mixed list", func(p *Policy) {
			p.Conditions[0] = Condition{Type: ConditionPatternMatch, Operator: OperatorContains, Value: []any{"x", 1}}
		}, "non-empty list of strings"},
		{"risk contains", func(p *Policy) { p.Conditions[0].Operator = OperatorContains }, "does not support operator contains"},
		{"risk not numeric", func(p *Policy) { p.Conditions[0].Value = "high" }, "requires a numeric value"},
		{"range wrong size", func(p *Policy) {
			p.Conditions[0] = Condition{Type: ConditionRiskScore, Operator: OperatorInRange, Value: []any{0.1}}
		}, "[low, high] pair"},
		{"range inverted", func(p *Policy) {
			p.Conditions[0] = Condition{Type: ConditionRiskScore, Operator: OperatorInRange, Value: []any{0.9, 0.1}}
		}, "exceeds high"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid()
			tt.mutate(&p)
			err := Validate([]Policy{p})
			if tt.want == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	err := Validate([]Policy{
		{Name: "a", Severity: "nope", Priority: 1, Conditions: []Condition{riskAbove(0.1)}, Actions: []Action{{Type: ActionBlock}}},
		{Name: "a", Severity: SeverityLow, Priority: -1, Conditions: []Condition{riskAbove(0.1)}, Actions: []Action{{Type: ActionBlock}}},
	})
	if err == nil {
		t.Fatal("expected errors")
	}
	for _, want := range []string{"unknown severity", "duplicate name", "priority must be positive"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
	if !errors.Is(Validate(nil), ErrNoPolicies) {
		t.Error("empty set should be ErrNoPolicies")
	}
}

func TestDefaultAndFallbackPoliciesAreValid(t *testing.T) {
	if err := Validate(DefaultPolicies()); err != nil {
		t.Errorf("default policies invalid: %v", err)
	}
	if err := Validate(FallbackPolicies()); err != nil {
		t.Errorf("fallback policies invalid: %v", err)
	}
}

func TestActive_StableForEqualPriority(t *testing.T) {
	set := active([]Policy{
		simplePolicy("first", 2, ActionWarn, riskAbove(0)),
		simplePolicy("second", 2, ActionWarn, riskAbove(0)),
		simplePolicy("zero", 1, ActionWarn, riskAbove(0)),
	})
	if set[0].Name != "zero" || set[1].Name != "first" || set[2].Name != "second" {
		t.Errorf("order = %s %s %s", set[0].Name, set[1].Name, set[2].Name)
	}
}
