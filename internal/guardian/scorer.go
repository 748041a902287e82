package guardian

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/gzhole/promptshield/internal/cache"
	"github.com/gzhole/promptshield/internal/unicode"
)

const (
	baseConfidence        = 0.6
	patternConfidence     = 0.3
	highRiskConfidence    = 0.1
	highRiskConfidenceMin = 0.5
)

// Scorer turns a prompt into a ThreatResult, consulting the result cache
// first.
type Scorer struct {
	heuristics *HeuristicProvider
	ml         MLProvider
	cache      *cache.Cache
	key        cache.KeyFunc
	logger     *zap.Logger
}

// ScorerOption configures a Scorer.
type ScorerOption func(*Scorer)

// WithCache enables result caching. Without it every call is scored fresh.
func WithCache(c *cache.Cache) ScorerOption {
	return func(s *Scorer) { s.cache = c }
}

// WithKeyFunc overrides cache.Key, e.g. with cache.FullKey.
func WithKeyFunc(fn cache.KeyFunc) ScorerOption {
	return func(s *Scorer) {
		if fn != nil {
			s.key = fn
		}
	}
}

// WithMLProvider adds a remote model whose probability is added to the
// heuristic score.
func WithMLProvider(p MLProvider) ScorerOption {
	return func(s *Scorer) { s.ml = p }
}

func WithLogger(l *zap.Logger) ScorerOption {
	return func(s *Scorer) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewScorer creates a Scorer with the built-in heuristics.
func NewScorer(opts ...ScorerOption) *Scorer {
	s := &Scorer{
		heuristics: NewHeuristicProvider(),
		key:        cache.Key,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Analyze scores prompt on behalf of agentID. It never fails: cache and ML
// problems degrade to a fresh heuristic score.
func (s *Scorer) Analyze(ctx context.Context, prompt, agentID string) ThreatResult {
	var key string
	if s.cache != nil {
		key = s.key(agentID, prompt)
		var cached ThreatResult
		if s.cache.GetJSON(ctx, key, &cached) {
			cached.Cached = true
			return cached
		}
	}

	result := s.score(ctx, prompt)

	if s.cache != nil {
		s.cache.SetJSON(ctx, key, result, 0)
	}
	return result
}

// Score computes a fresh result without touching the cache.
func (s *Scorer) Score(ctx context.Context, prompt string) ThreatResult {
	return s.score(ctx, prompt)
}

func (s *Scorer) score(ctx context.Context, prompt string) ThreatResult {
	if strings.TrimSpace(prompt) == "" {
		return ThreatResult{Confidence: baseConfidence, DetectedPatterns: []string{}}
	}

	scan := unicode.Scan(prompt)
	smp := sample{
		lower: strings.ToLower(scan.Folded),
		chars: charCount(prompt),
	}
	a := s.heuristics.Assess(smp)

	var mlConfidence float64
	if s.ml != nil {
		pred, err := s.ml.Predict(ctx, scan.Sanitized)
		if err != nil {
			s.logger.Warn("ml prediction failed, using heuristics only",
				zap.String("provider", s.ml.Name()), zap.Error(err))
		} else {
			a.Score += clamp(pred.ThreatProbability)
			mlConfidence = clamp(pred.Confidence)
		}
	}

	probability := clamp(a.Score)
	confidence := baseConfidence
	if len(a.Patterns) > 0 {
		confidence += patternConfidence
	}
	if probability > highRiskConfidenceMin {
		confidence += highRiskConfidence
	}
	confidence = clamp(max(confidence, mlConfidence))

	patterns := a.Patterns
	if patterns == nil {
		patterns = []string{}
	}

	if len(a.Signals) > 0 || len(patterns) > 0 {
		ids := make([]string, len(a.Signals))
		for i, sig := range a.Signals {
			ids[i] = sig.ID
		}
		s.logger.Debug("prompt scored",
			zap.Float64("probability", probability),
			zap.Strings("patterns", patterns),
			zap.Strings("signals", ids))
	}

	return ThreatResult{
		ThreatProbability: probability,
		Confidence:        confidence,
		DetectedPatterns:  patterns,
		UnicodeThreats:    scan.Categories(),
	}
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
