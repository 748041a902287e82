package policy

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// ErrNoPolicies is returned when a source parses but defines nothing.
var ErrNoPolicies = errors.New("policy: source defines no policies")

// FallbackName is the single policy used when the source cannot be loaded.
const FallbackName = "fallback-high-risk-block"

// HashBytes returns "sha256:<hex>" of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// LoadWithHash reads and validates the policies at path and returns the hash
// of the source bytes. An empty path yields DefaultPolicies. A directory is
// read as a set of packs (see LoadDir).
func LoadWithHash(path string) ([]Policy, string, error) {
	if path == "" {
		return DefaultPolicies(), HashBytes(nil), nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read policy source: %w", err)
	}
	if info.IsDir() {
		policies, raw, _, err := LoadDir(path)
		if err != nil {
			return nil, "", err
		}
		return policies, HashBytes(raw), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read policy source: %w", err)
	}
	policies, err := Parse(data)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", path, err)
	}
	return policies, HashBytes(data), nil
}

// Parse decodes a YAML policy document and validates it. Unknown fields are
// rejected.
func Parse(data []byte) ([]Policy, error) {
	policies, err := decode(data)
	if err != nil {
		return nil, err
	}
	if err := Validate(policies); err != nil {
		return nil, err
	}
	return policies, nil
}

func decode(data []byte) ([]Policy, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrNoPolicies
		}
		return nil, fmt.Errorf("invalid policy yaml: %w", err)
	}
	return f.Policies, nil
}

// Validate checks every policy and returns all problems joined.
func Validate(policies []Policy) error {
	if len(policies) == 0 {
		return ErrNoPolicies
	}

	var errs []error
	seen := make(map[string]bool, len(policies))
	for i, p := range policies {
		label := p.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i)
			errs = append(errs, fmt.Errorf("policy %s: name is required", label))
		} else if seen[p.Name] {
			errs = append(errs, fmt.Errorf("policy %q: duplicate name", p.Name))
		}
		seen[p.Name] = true

		switch p.Severity {
		case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		default:
			errs = append(errs, fmt.Errorf("policy %q: unknown severity %q", label, p.Severity))
		}
		if p.Priority <= 0 {
			errs = append(errs, fmt.Errorf("policy %q: priority must be positive, got %d", label, p.Priority))
		}
		if len(p.Conditions) == 0 {
			errs = append(errs, fmt.Errorf("policy %q: at least one condition is required", label))
		}
		if len(p.Actions) == 0 {
			errs = append(errs, fmt.Errorf("policy %q: at least one action is required", label))
		}
		for j, c := range p.Conditions {
			if err := validateCondition(c); err != nil {
				errs = append(errs, fmt.Errorf("policy %q: condition %d: %w", label, j, err))
			}
		}
		for j, a := range p.Actions {
			switch a.Type {
			case ActionAllow, ActionWarn, ActionModify, ActionBlock:
			default:
				errs = append(errs, fmt.Errorf("policy %q: action %d: unknown type %q", label, j, a.Type))
			}
		}
	}
	return errors.Join(errs...)
}

func validateCondition(c Condition) error {
	switch c.Operator {
	case OperatorContains, OperatorGreaterThan, OperatorLessThan, OperatorEquals, OperatorInRange:
	default:
		return fmt.Errorf("unknown operator %q", c.Operator)
	}

	switch c.Type {
	case ConditionPatternMatch:
		if c.Operator != OperatorContains {
			return fmt.Errorf("pattern_match requires operator contains, got %q", c.Operator)
		}
		phrases, ok := toStrings(c.Value)
		if !ok || len(phrases) == 0 {
			return errors.New("pattern_match requires a non-empty list of strings")
		}
	case ConditionRiskScore, ConditionRequestFrequency:
		if c.Operator == OperatorContains {
			return fmt.Errorf("%s does not support operator contains", c.Type)
		}
		if c.Operator == OperatorInRange {
			bounds, ok := toFloats(c.Value)
			if !ok || len(bounds) != 2 {
				return fmt.Errorf("%s in_range requires a [low, high] pair", c.Type)
			}
			if bounds[0] > bounds[1] {
				return fmt.Errorf("%s in_range low %v exceeds high %v", c.Type, bounds[0], bounds[1])
			}
			return nil
		}
		if _, ok := toFloat(c.Value); !ok {
			return fmt.Errorf("%s requires a numeric value", c.Type)
		}
	case ConditionAgentHistory:
	default:
		return fmt.Errorf("unknown condition type %q", c.Type)
	}
	return nil
}

// active returns the enabled policies sorted ascending by priority. Ties keep
// source order.
func active(policies []Policy) []Policy {
	out := make([]Policy, 0, len(policies))
	for _, p := range policies {
		if p.Enabled {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

// FallbackPolicies is the set substituted when loading fails: block anything
// scoring above 0.7.
func FallbackPolicies() []Policy {
	return []Policy{{
		Name:        FallbackName,
		Description: "Substituted because the configured policy source could not be loaded",
		Enabled:     true,
		Severity:    SeverityHigh,
		Priority:    1,
		Conditions: []Condition{
			{Type: ConditionRiskScore, Operator: OperatorGreaterThan, Value: 0.7},
		},
		Actions: []Action{
			{Type: ActionBlock, Message: "High risk content blocked by fallback policy"},
		},
	}}
}

// DefaultPolicies is the built-in set used when no source is configured.
func DefaultPolicies() []Policy {
	return []Policy{
		{
			Name:        "prompt-injection-block",
			Description: "Known instruction-override phrasing with elevated risk",
			Enabled:     true,
			Severity:    SeverityHigh,
			Priority:    10,
			Conditions: []Condition{
				{Type: ConditionPatternMatch, Operator: OperatorContains, Value: []any{
					"ignore previous instructions",
					"system prompt override",
					"disregard all previous",
					"forget everything above",
				}},
				{Type: ConditionRiskScore, Operator: OperatorGreaterThan, Value: 0.5},
			},
			Actions: []Action{{Type: ActionBlock, Message: "Prompt injection attempt detected"}},
		},
		{
			Name:        "critical-risk-block",
			Description: "Risk score beyond any reasonable doubt",
			Enabled:     true,
			Severity:    SeverityCritical,
			Priority:    20,
			Conditions: []Condition{
				{Type: ConditionRiskScore, Operator: OperatorGreaterThan, Value: 0.8},
			},
			Actions: []Action{{Type: ActionBlock, Message: "Critical risk score"}},
		},
		{
			Name:        "elevated-risk-warn",
			Description: "Moderate risk worth a second look",
			Enabled:     true,
			Severity:    SeverityMedium,
			Priority:    30,
			Conditions: []Condition{
				{Type: ConditionRiskScore, Operator: OperatorInRange, Value: []any{0.4, 0.8}},
			},
			Actions: []Action{{Type: ActionWarn, Message: "Elevated risk, review recommended"}},
		},
		{
			Name:        "burst-traffic-warn",
			Description: "Agent is sending requests unusually fast",
			Enabled:     true,
			Severity:    SeverityLow,
			Priority:    40,
			Conditions: []Condition{
				{Type: ConditionRequestFrequency, Operator: OperatorGreaterThan, Value: 50},
			},
			Actions: []Action{{Type: ActionWarn, Message: "Unusually high request rate"}},
		},
	}
}
