package shield

import (
	"encoding/json"
	"time"

	"github.com/gzhole/promptshield/internal/policy"
)

// Request is one prompt submitted by an agent.
type Request struct {
	AgentID   string         `json:"agentId"`
	Prompt    string         `json:"prompt"`
	Timestamp int64          `json:"timestamp"`
	Context   map[string]any `json:"context,omitempty"`
}

// Evidence explains a verdict.
type Evidence struct {
	PromptLength       int      `json:"promptLength"`
	SuspiciousPatterns []string `json:"suspiciousPatterns"`
	Confidence         float64  `json:"confidence"`
	Cached             bool     `json:"cached"`
	PoliciesMatched    int      `json:"policiesMatched"`
	MatchedPolicies    []string `json:"matchedPolicies,omitempty"`
	RequestCount       int      `json:"requestCount,omitempty"`
	UnicodeThreats     []string `json:"unicodeThreats,omitempty"`
}

// Response is the verdict returned for a Request. ProcessingTime is encoded
// in milliseconds.
type Response struct {
	Action         policy.ActionType `json:"action"`
	Reason         string            `json:"reason"`
	RiskScore      float64           `json:"riskScore"`
	ProcessingTime time.Duration     `json:"-"`
	Evidence       Evidence          `json:"evidence"`
}

type responseJSON struct {
	Action         policy.ActionType `json:"action"`
	Reason         string            `json:"reason"`
	RiskScore      float64           `json:"riskScore"`
	ProcessingTime float64           `json:"processingTime"`
	Evidence       Evidence          `json:"evidence"`
}

func (r Response) MarshalJSON() ([]byte, error) {
	return json.Marshal(responseJSON{
		Action:         r.Action,
		Reason:         r.Reason,
		RiskScore:      r.RiskScore,
		ProcessingTime: float64(r.ProcessingTime) / float64(time.Millisecond),
		Evidence:       r.Evidence,
	})
}

func (r *Response) UnmarshalJSON(data []byte) error {
	var raw responseJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = Response{
		Action:         raw.Action,
		Reason:         raw.Reason,
		RiskScore:      raw.RiskScore,
		ProcessingTime: time.Duration(raw.ProcessingTime * float64(time.Millisecond)),
		Evidence:       raw.Evidence,
	}
	return nil
}

// Verdict reasons produced by the orchestrator itself.
const (
	ReasonEmptyPrompt  = "Empty prompt not allowed"
	ReasonNoAgent      = "Invalid request: agentId required"
	ReasonHighRisk     = "High risk content detected"
	ReasonModerateRisk = "Moderate risk content detected"
	ReasonSafe         = "Request appears safe"
	ReasonRateLimited  = "Rate limit exceeded"
	ReasonFailed       = "Security analysis failed"
)

const (
	blockAbove = 0.7
	warnAbove  = 0.3
)
