// Package guardian scores prompts for manipulation risk.
//
// Architecture:
//
//	Scorer
//	  ├── HeuristicProvider: phrase list + additive keyword heuristics, built in
//	  └── MLProvider: optional remote model, additive on top
//
// Results are cached per (agent, prompt) fingerprint; a cache hit returns the
// stored result with Cached set.
package guardian

import (
	"context"
)

// ThreatResult is the scorer's assessment of one prompt.
type ThreatResult struct {
	// ThreatProbability is the clamped additive risk score in [0,1].
	ThreatProbability float64 `json:"threatProbability"`

	// Confidence is how sure the scorer is about ThreatProbability, in [0,1].
	Confidence float64 `json:"confidence"`

	// DetectedPatterns lists matched phrases in phrase-list order.
	DetectedPatterns []string `json:"detectedPatterns"`

	// Cached is true when the result was served from the result cache.
	Cached bool `json:"cached"`

	// UnicodeThreats lists categories of hidden or look-alike characters
	// stripped before matching. Informational only.
	UnicodeThreats []string `json:"unicodeThreats,omitempty"`
}

// Signal is one heuristic that fired, with the weight it contributed.
type Signal struct {
	ID          string
	Weight      float64
	Description string
}

// Assessment is the raw output of a provider before clamping.
type Assessment struct {
	Score    float64
	Patterns []string
	Signals  []Signal
}

// Prediction is a remote model's opinion on a prompt.
type Prediction struct {
	ThreatProbability float64 `json:"threatProbability"`
	Confidence        float64 `json:"confidence"`
}

// MLProvider is an optional remote classifier. Errors are never fatal; the
// scorer falls back to heuristics alone.
type MLProvider interface {
	Name() string
	Predict(ctx context.Context, text string) (Prediction, error)
}
