package policy

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gzhole/promptshield/internal/cache"
)

// PublishedKey is the cache key under which the active set is published.
const PublishedKey = "policies:active"

// equalsTolerance is the slack allowed by the equals operator.
const equalsTolerance = 0.01

// Observer is notified about matches and load outcomes. The metrics recorder
// implements it.
type Observer interface {
	PolicyMatched(name string)
	PolicyFallback(active bool)
}

// Snapshot is what the engine publishes to the cache after each load.
type Snapshot struct {
	Status   Status   `json:"status"`
	Policies []Policy `json:"policies"`
}

// Engine evaluates the active policy set against request contexts. It is
// safe for concurrent use; Reload swaps the set atomically.
type Engine struct {
	source   string
	load     func() ([]Policy, string, error)
	cache    *cache.Cache
	logger   *zap.Logger
	observer Observer
	eval     func(Condition, Context) bool

	mu       sync.RWMutex
	policies []Policy // enabled, ascending priority; never mutated in place
	status   Status
}

// Option configures an Engine.
type Option func(*Engine)

// WithCache publishes each loaded set to c under PublishedKey.
func WithCache(c *cache.Cache) Option {
	return func(e *Engine) { e.cache = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// WithPolicies uses an in-memory set instead of reading a source. The set is
// validated on every load like a file would be.
func WithPolicies(policies []Policy) Option {
	return func(e *Engine) {
		e.source = "inline"
		e.load = func() ([]Policy, string, error) {
			if err := Validate(policies); err != nil {
				return nil, "", err
			}
			return policies, "", nil
		}
	}
}

// NewEngine creates an engine for the policy source at path ("" for the
// built-in defaults) and performs the initial load. A failed load leaves the
// engine in the fallback state; it never fails construction.
func NewEngine(path string, opts ...Option) *Engine {
	e := &Engine{
		source: path,
		logger: zap.NewNop(),
		eval:   evaluateCondition,
	}
	if path == "" {
		e.source = "builtin"
	}
	e.load = func() ([]Policy, string, error) { return LoadWithHash(path) }
	for _, opt := range opts {
		opt(e)
	}
	_ = e.Reload()
	return e
}

// Reload re-reads the source. On failure the fallback set is installed and
// the load error is returned.
func (e *Engine) Reload() error {
	policies, hash, err := e.load()
	state := StateLoaded
	if err != nil {
		e.logger.Warn("policy load failed, using fallback policy",
			zap.String("source", e.source), zap.Error(err))
		policies = FallbackPolicies()
		hash = ""
		state = StateFallback
	}
	set := active(policies)

	status := Status{
		State:    state,
		Source:   e.source,
		Hash:     hash,
		Active:   len(set),
		LoadedAt: time.Now().UTC(),
	}
	if err != nil {
		status.Error = err.Error()
	}

	e.mu.Lock()
	e.policies = set
	e.status = status
	e.mu.Unlock()

	if state == StateLoaded {
		e.logger.Info("policies loaded",
			zap.String("source", e.source), zap.Int("active", len(set)), zap.String("hash", hash))
	}
	if e.observer != nil {
		e.observer.PolicyFallback(state == StateFallback)
	}
	e.publish(set, status)
	return err
}

// EvaluatePolicies returns every policy whose conditions all hold.
// Policies are evaluated in ascending priority order but the result is
// sorted by descending priority, so the highest priority number comes first.
func (e *Engine) EvaluatePolicies(pc Context) []EvaluationResult {
	e.mu.RLock()
	set := e.policies
	e.mu.RUnlock()

	var results []EvaluationResult
	for _, p := range set {
		start := time.Now()
		matched, conds := e.evaluatePolicy(p, pc)
		if !matched {
			continue
		}
		results = append(results, EvaluationResult{
			Matched:           true,
			Policy:            clonePolicy(p),
			Confidence:        confidence(len(conds), pc),
			RecommendedAction: p.Actions[0],
			MatchedConditions: conds,
			EvaluationTime:    time.Since(start),
		})
		if e.observer != nil {
			e.observer.PolicyMatched(p.Name)
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Policy.Priority > results[j].Policy.Priority
	})
	return results
}

// evaluatePolicy ANDs the conditions of p. A panic while evaluating marks
// this policy as not matching and leaves the rest of the batch alone.
func (e *Engine) evaluatePolicy(p Policy, pc Context) (matched bool, conds []Condition) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("policy evaluation panicked",
				zap.String("policy", p.Name), zap.Any("panic", r))
			matched, conds = false, nil
		}
	}()

	conds = make([]Condition, 0, len(p.Conditions))
	for _, c := range p.Conditions {
		if !e.eval(c, pc) {
			return false, nil
		}
		conds = append(conds, c)
	}
	return true, conds
}

// Policies returns a copy of the active set in evaluation order.
func (e *Engine) Policies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Policy, len(e.policies))
	for i, p := range e.policies {
		out[i] = clonePolicy(p)
	}
	return out
}

// IsHealthy reports whether at least one policy is active.
func (e *Engine) IsHealthy() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.policies) > 0
}

func (e *Engine) State() LoadState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status.State
}

func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

func (e *Engine) publish(set []Policy, status Status) {
	if e.cache == nil {
		return
	}
	policies := make([]Policy, len(set))
	for i, p := range set {
		policies[i] = clonePolicy(p)
	}
	e.cache.SetJSON(context.Background(), PublishedKey, Snapshot{Status: status, Policies: policies}, cache.NoExpiry)
}

// ReadPublished fetches the snapshot last published by any engine sharing c.
func ReadPublished(ctx context.Context, c *cache.Cache) (Snapshot, bool) {
	var s Snapshot
	ok := c.GetJSON(ctx, PublishedKey, &s)
	return s, ok
}

func confidence(matched int, pc Context) float64 {
	c := 0.5 + math.Min(0.2*float64(matched), 0.4)
	switch {
	case pc.RiskScore > 0.8:
		c += 0.2
	case pc.RiskScore > 0.5:
		c += 0.1
	}
	if len(pc.DetectedPatterns) > 0 {
		c += 0.1
	}
	return math.Max(0, math.Min(1, c))
}

func evaluateCondition(c Condition, pc Context) bool {
	switch c.Type {
	case ConditionPatternMatch:
		phrases, ok := toStrings(c.Value)
		if !ok {
			return false
		}
		prompt := strings.ToLower(pc.Prompt)
		for _, phrase := range phrases {
			if strings.Contains(prompt, strings.ToLower(phrase)) {
				return true
			}
		}
		return false
	case ConditionRiskScore:
		return compare(c.Operator, pc.RiskScore, c.Value)
	case ConditionRequestFrequency:
		return compare(c.Operator, float64(pc.RequestCount), c.Value)
	case ConditionAgentHistory:
		return false
	default:
		return false
	}
}

func compare(op Operator, actual float64, value any) bool {
	if op == OperatorInRange {
		bounds, ok := toFloats(value)
		if !ok || len(bounds) != 2 {
			return false
		}
		return actual >= bounds[0] && actual <= bounds[1]
	}

	want, ok := toFloat(value)
	if !ok {
		return false
	}
	switch op {
	case OperatorGreaterThan:
		return actual > want
	case OperatorLessThan:
		return actual < want
	case OperatorEquals:
		return math.Abs(actual-want) < equalsTolerance
	default:
		return false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case uint:
		return float64(n), true
	default:
		return 0, false
	}
}

func toFloats(v any) ([]float64, bool) {
	switch list := v.(type) {
	case []float64:
		return list, true
	case []any:
		out := make([]float64, len(list))
		for i, item := range list {
			f, ok := toFloat(item)
			if !ok {
				return nil, false
			}
			out[i] = f
		}
		return out, true
	default:
		return nil, false
	}
}

func toStrings(v any) ([]string, bool) {
	switch list := v.(type) {
	case []string:
		return list, true
	case []any:
		out := make([]string, len(list))
		for i, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out[i] = s
		}
		return out, true
	default:
		return nil, false
	}
}

func clonePolicy(p Policy) Policy {
	clone := p
	clone.Conditions = make([]Condition, len(p.Conditions))
	copy(clone.Conditions, p.Conditions)
	clone.Actions = make([]Action, len(p.Actions))
	copy(clone.Actions, p.Actions)
	return clone
}

// String renders a condition for logs and CLI output.
func (c Condition) String() string {
	return fmt.Sprintf("%s %s %v", c.Type, c.Operator, c.Value)
}
