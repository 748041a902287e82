package guardian

import (
	"strings"
	"unicode/utf8"
)

// Weights for each heuristic. A phrase match adds PhraseWeight per phrase.
const (
	PhraseWeight     = 0.4
	ignoreWeight     = 0.2
	overrideWeight   = 0.2
	roleMarkerWeight = 0.3
	roleplayWeight   = 0.1
	lengthWeight     = 0.1
	repetitionWeight = 0.2

	longPromptChars    = 1000
	repetitionMinWords = 20
	repetitionMaxRatio = 0.3
)

var phrases = []string{
	"ignore previous instructions",
	"system prompt override",
	"reveal your instructions",
	"forget everything above",
	"disregard all previous",
	"pretend you are",
	"act as if",
	"you are now",
	"from now on you",
	"ignore the above",
}

// Phrases returns a copy of the malicious-intent phrase list.
func Phrases() []string {
	return append([]string(nil), phrases...)
}

// sample is the prompt prepared for matching.
type sample struct {
	lower string // lower-cased, sanitized, homoglyph-folded
	chars int    // character count of the prompt as submitted
}

type heuristicRule struct {
	signal Signal
	match  func(s sample) bool
}

// HeuristicProvider scores prompts with a fixed phrase list and additive
// keyword heuristics. Deterministic and dependency free.
type HeuristicProvider struct {
	phrases []string
	rules   []heuristicRule
}

// NewHeuristicProvider creates a provider with the built-in phrase list.
func NewHeuristicProvider() *HeuristicProvider {
	return &HeuristicProvider{
		phrases: phrases,
		rules:   buildRules(),
	}
}

func (p *HeuristicProvider) Name() string { return "heuristic" }

// Assess scores a prepared sample. The score is not clamped.
func (p *HeuristicProvider) Assess(s sample) Assessment {
	var a Assessment
	for _, phrase := range p.phrases {
		if strings.Contains(s.lower, phrase) {
			a.Patterns = append(a.Patterns, phrase)
			a.Score += PhraseWeight
		}
	}
	for _, r := range p.rules {
		if r.match(s) {
			a.Signals = append(a.Signals, r.signal)
			a.Score += r.signal.Weight
		}
	}
	return a
}

func buildRules() []heuristicRule {
	return []heuristicRule{
		{
			signal: Signal{ID: "keyword_ignore", Weight: ignoreWeight, Description: "mentions 'ignore'"},
			match:  func(s sample) bool { return strings.Contains(s.lower, "ignore") },
		},
		{
			signal: Signal{ID: "keyword_override", Weight: overrideWeight, Description: "mentions 'override'"},
			match:  func(s sample) bool { return strings.Contains(s.lower, "override") },
		},
		{
			signal: Signal{ID: "role_marker", Weight: roleMarkerWeight, Description: "contains a [system] or [admin] role marker"},
			match: func(s sample) bool {
				return strings.Contains(s.lower, "[system]") || strings.Contains(s.lower, "[admin]")
			},
		},
		{
			signal: Signal{ID: "keyword_roleplay", Weight: roleplayWeight, Description: "mentions 'roleplay'"},
			match:  func(s sample) bool { return strings.Contains(s.lower, "roleplay") },
		},
		{
			signal: Signal{ID: "long_prompt", Weight: lengthWeight, Description: "longer than 1000 characters"},
			match:  func(s sample) bool { return s.chars > longPromptChars },
		},
		{
			signal: Signal{ID: "repetition", Weight: repetitionWeight, Description: "highly repetitive wording"},
			match:  func(s sample) bool { return isRepetitive(s.lower) },
		},
	}
}

// isRepetitive reports more than 20 words with fewer than 30% distinct.
func isRepetitive(text string) bool {
	words := strings.Fields(text)
	if len(words) <= repetitionMinWords {
		return false
	}
	distinct := make(map[string]struct{}, len(words))
	for _, w := range words {
		distinct[w] = struct{}{}
	}
	return float64(len(distinct))/float64(len(words)) < repetitionMaxRatio
}

func charCount(s string) int { return utf8.RuneCountInString(s) }
