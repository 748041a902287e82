package policy

import (
	"time"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type ConditionType string

const (
	ConditionPatternMatch     ConditionType = "pattern_match"
	ConditionRiskScore        ConditionType = "risk_score"
	ConditionRequestFrequency ConditionType = "request_frequency"
	// ConditionAgentHistory is reserved and never matches.
	ConditionAgentHistory ConditionType = "agent_history"
)

type Operator string

const (
	OperatorContains    Operator = "contains"
	OperatorGreaterThan Operator = "greater_than"
	OperatorLessThan    Operator = "less_than"
	OperatorEquals      Operator = "equals"
	OperatorInRange     Operator = "in_range"
)

// ActionType is the verdict a policy recommends.
type ActionType string

const (
	ActionAllow  ActionType = "allow"
	ActionWarn   ActionType = "warn"
	ActionModify ActionType = "modify"
	ActionBlock  ActionType = "block"
)

// File is the on-disk policy document.
type File struct {
	Policies []Policy `yaml:"policies" json:"policies"`
}

type Policy struct {
	Name        string      `yaml:"name" json:"name"`
	Description string      `yaml:"description,omitempty" json:"description,omitempty"`
	Enabled     bool        `yaml:"enabled" json:"enabled"`
	Severity    Severity    `yaml:"severity" json:"severity"`
	Priority    int         `yaml:"priority" json:"priority"`
	Conditions  []Condition `yaml:"conditions" json:"conditions"`
	Actions     []Action    `yaml:"actions" json:"actions"`
}

// Condition is one predicate over a Context. Value is a list of phrases for
// pattern_match, a number for comparisons, or a [low, high] pair for
// in_range.
type Condition struct {
	Type     ConditionType `yaml:"type" json:"type"`
	Operator Operator      `yaml:"operator" json:"operator"`
	Value    any           `yaml:"value" json:"value"`
}

type Action struct {
	Type     ActionType     `yaml:"type" json:"type"`
	Message  string         `yaml:"message,omitempty" json:"message,omitempty"`
	Metadata map[string]any `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// Context is everything a policy may inspect about one request.
type Context struct {
	AgentID          string
	Prompt           string
	RiskScore        float64
	DetectedPatterns []string
	RequestCount     int
	Timestamp        int64
}

// EvaluationResult describes one matched policy.
type EvaluationResult struct {
	Matched           bool
	Policy            Policy
	Confidence        float64
	RecommendedAction Action
	MatchedConditions []Condition
	EvaluationTime    time.Duration
}

// LoadState reports whether the active set came from the configured source.
type LoadState string

const (
	StateLoaded   LoadState = "loaded"
	StateFallback LoadState = "fallback"
)

// Status summarises the active policy set.
type Status struct {
	State    LoadState `json:"state"`
	Source   string    `json:"source"`
	Hash     string    `json:"hash"`
	Active   int       `json:"active"`
	LoadedAt time.Time `json:"loadedAt"`
	Error    string    `json:"error,omitempty"`
}
