// Package shield turns a prompt into a verdict: it counts the request,
// scores the prompt, evaluates policies and resolves a single action.
package shield

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/gzhole/promptshield/internal/audit"
	"github.com/gzhole/promptshield/internal/guardian"
	"github.com/gzhole/promptshield/internal/policy"
	"github.com/gzhole/promptshield/internal/ratelimit"
)

// Scorer assesses prompt risk. *guardian.Scorer implements it.
type Scorer interface {
	Analyze(ctx context.Context, prompt, agentID string) guardian.ThreatResult
}

// PolicyEvaluator returns matched policies, highest priority first.
// *policy.Engine implements it.
type PolicyEvaluator interface {
	EvaluatePolicies(pc policy.Context) []policy.EvaluationResult
}

// Auditor accepts verdicts for asynchronous recording. *audit.Dispatcher
// implements it.
type Auditor interface {
	Submit(ev audit.Event) error
}

// Recorder receives per-verdict metrics. *metrics.Recorder implements it.
type Recorder interface {
	ObserveVerdict(action string, d time.Duration)
	ObserveRateLimited()
}

type statusReporter interface {
	Status() policy.Status
}

// Shield is the request-screening orchestrator. It is safe for concurrent
// use.
type Shield struct {
	scorer   Scorer
	policies PolicyEvaluator
	counter  ratelimit.Counter
	limit    ratelimit.Limit
	auditor  Auditor
	recorder Recorder
	logger   *zap.Logger
	now      func() time.Time
}

type Option func(*Shield)

// WithCounter replaces the default in-memory request counter.
func WithCounter(c ratelimit.Counter) Option {
	return func(s *Shield) {
		if c != nil {
			s.counter = c
		}
	}
}

func WithLimit(l ratelimit.Limit) Option {
	return func(s *Shield) { s.limit = l }
}

// WithAuditor enables EvaluateAndAudit.
func WithAuditor(a Auditor) Option {
	return func(s *Shield) { s.auditor = a }
}

func WithRecorder(r Recorder) Option {
	return func(s *Shield) { s.recorder = r }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Shield) {
		if l != nil {
			s.logger = l
		}
	}
}

// New wires an orchestrator. Without WithCounter, requests are counted in a
// bounded in-memory counter sized for the limit's window.
func New(scorer Scorer, policies PolicyEvaluator, opts ...Option) *Shield {
	s := &Shield{
		scorer:   scorer,
		policies: policies,
		limit:    ratelimit.DefaultLimit(),
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.counter == nil {
		s.counter = ratelimit.NewLocal(s.limit.Window, ratelimit.DefaultCapacity)
	}
	return s
}

// Evaluate returns a verdict for req. It never fails: validation problems
// and internal errors both produce a block.
func (s *Shield) Evaluate(ctx context.Context, req Request) (resp Response) {
	start := time.Now()
	defer func() {
		resp.ProcessingTime = time.Since(start)
		if s.recorder != nil {
			s.recorder.ObserveVerdict(string(resp.Action), resp.ProcessingTime)
		}
	}()

	length := utf8.RuneCountInString(req.Prompt)
	if strings.TrimSpace(req.Prompt) == "" {
		return reject(ReasonEmptyPrompt, length)
	}
	if strings.TrimSpace(req.AgentID) == "" {
		return reject(ReasonNoAgent, length)
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("security analysis failed",
				zap.String("agent_id", req.AgentID), zap.Any("panic", r), zap.Stack("stack"))
			resp = reject(ReasonFailed, length)
		}
	}()

	return s.evaluate(ctx, req, length)
}

func (s *Shield) evaluate(ctx context.Context, req Request, length int) Response {
	now := s.now()

	count, err := s.counter.Increment(ctx, req.AgentID, now)
	if err != nil {
		s.logger.Warn("request counter unavailable",
			zap.String("agent_id", req.AgentID), zap.Error(err))
		count = ratelimit.Count{}
	}

	threat := s.scorer.Analyze(ctx, req.Prompt, req.AgentID)

	ts := req.Timestamp
	if ts == 0 {
		ts = now.UnixMilli()
	}
	results := s.policies.EvaluatePolicies(policy.Context{
		AgentID:          req.AgentID,
		Prompt:           req.Prompt,
		RiskScore:        threat.ThreatProbability,
		DetectedPatterns: threat.DetectedPatterns,
		RequestCount:     count.Value,
		Timestamp:        ts,
	})

	action, reason := resolve(threat.ThreatProbability, results)
	if s.limit.Exceeded(count) {
		action, reason = policy.ActionBlock, ReasonRateLimited
		if s.recorder != nil {
			s.recorder.ObserveRateLimited()
		}
	}

	patterns := threat.DetectedPatterns
	if patterns == nil {
		patterns = []string{}
	}
	var matched []string
	for _, r := range results {
		matched = append(matched, r.Policy.Name)
	}

	return Response{
		Action:    action,
		Reason:    reason,
		RiskScore: threat.ThreatProbability,
		Evidence: Evidence{
			PromptLength:       length,
			SuspiciousPatterns: patterns,
			Confidence:         threat.Confidence,
			Cached:             threat.Cached,
			PoliciesMatched:    len(results),
			MatchedPolicies:    matched,
			RequestCount:       count.Value,
			UnicodeThreats:     threat.UnicodeThreats,
		},
	}
}

// resolve picks the action before the rate-limit override: the first
// matched policy, else the risk thresholds.
func resolve(risk float64, results []policy.EvaluationResult) (policy.ActionType, string) {
	if len(results) > 0 {
		first := results[0]
		reason := first.RecommendedAction.Message
		if reason == "" {
			reason = fmt.Sprintf("Policy '%s' triggered", first.Policy.Name)
		}
		return first.RecommendedAction.Type, reason
	}
	switch {
	case risk > blockAbove:
		return policy.ActionBlock, ReasonHighRisk
	case risk > warnAbove:
		return policy.ActionWarn, ReasonModerateRisk
	default:
		return policy.ActionAllow, ReasonSafe
	}
}

func reject(reason string, length int) Response {
	return Response{
		Action:    policy.ActionBlock,
		Reason:    reason,
		RiskScore: 1.0,
		Evidence: Evidence{
			PromptLength:       length,
			SuspiciousPatterns: []string{},
		},
	}
}

// EvaluateAndAudit evaluates req and then queues the verdict for the audit
// sink. Audit problems never change the returned response.
func (s *Shield) EvaluateAndAudit(ctx context.Context, req Request, requestID string) Response {
	resp := s.Evaluate(ctx, req)
	if s.auditor == nil {
		return resp
	}

	var policyHash string
	if sr, ok := s.policies.(statusReporter); ok {
		policyHash = sr.Status().Hash
	}
	err := s.auditor.Submit(audit.Event{
		RequestID:  requestID,
		AgentID:    req.AgentID,
		Action:     string(resp.Action),
		RiskScore:  resp.RiskScore,
		Evidence:   resp.Evidence,
		PolicyHash: policyHash,
		Prompt:     req.Prompt,
	})
	if err != nil {
		s.logger.Debug("audit event not queued",
			zap.String("request_id", requestID), zap.Error(err))
	}
	return resp
}
