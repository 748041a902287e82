// Package unicode detects invisible and look-alike characters that let a
// prompt read one way to a human and another way to a substring matcher.
package unicode

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Category names a class of smuggling character.
type Category string

const (
	CategoryInvalidUTF8 Category = "invalid-utf8"
	CategoryZeroWidth   Category = "zero-width"
	CategoryBidi        Category = "bidi-control"
	CategoryTag         Category = "tag-char"
	CategoryControl     Category = "control-char"
	CategoryHomoglyph   Category = "homoglyph"
)

// Threat is one suspicious character occurrence.
type Threat struct {
	Category  Category
	Offset    int    // byte offset in the input
	Codepoint string // e.g. "U+200B"
}

// ScanResult is the outcome of Scan.
type ScanResult struct {
	Clean   bool
	Threats []Threat
	// Sanitized drops invisible and control characters and keeps everything
	// else as written.
	Sanitized string
	// Folded is Sanitized with look-alike Cyrillic and Greek letters replaced
	// by their Latin counterparts. Use it for phrase matching.
	Folded string
}

// Categories returns the distinct categories found, in first-seen order.
func (r ScanResult) Categories() []string {
	var out []string
	seen := make(map[Category]bool)
	for _, t := range r.Threats {
		if !seen[t.Category] {
			seen[t.Category] = true
			out = append(out, string(t.Category))
		}
	}
	return out
}

// Scan inspects a prompt for smuggling characters. Look-alike letters are
// always folded, but reported only inside a word that also contains Latin
// letters; plain Cyrillic or Greek text is not a threat.
func Scan(input string) ScanResult {
	var res ScanResult
	var sanitized, folded strings.Builder
	sanitized.Grow(len(input))
	folded.Grow(len(input))

	var word wordState
	for i := 0; i < len(input); {
		r, size := utf8.DecodeRuneInString(input[i:])
		if r == utf8.RuneError && size == 1 {
			res.add(Threat{Category: CategoryInvalidUTF8, Offset: i, Codepoint: fmt.Sprintf("0x%02X", input[i])})
			i++
			continue
		}

		if cat, hidden := classify(r); hidden {
			res.add(Threat{Category: cat, Offset: i, Codepoint: codepoint(r)})
			i += size
			continue
		}

		if !unicode.IsLetter(r) && !unicode.IsMark(r) {
			word.flush(&res)
		}
		sanitized.WriteRune(r)
		if latin, ok := confusables[r]; ok {
			word.lookalikes = append(word.lookalikes, Threat{Category: CategoryHomoglyph, Offset: i, Codepoint: codepoint(r)})
			folded.WriteRune(latin)
		} else {
			if unicode.Is(unicode.Latin, r) {
				word.latin = true
			}
			folded.WriteRune(r)
		}
		i += size
	}
	word.flush(&res)

	slices.SortStableFunc(res.Threats, func(a, b Threat) int { return cmp.Compare(a.Offset, b.Offset) })
	res.Clean = len(res.Threats) == 0
	res.Sanitized = sanitized.String()
	res.Folded = folded.String()
	return res
}

// wordState tracks look-alike letters until the word ends.
type wordState struct {
	latin      bool
	lookalikes []Threat
}

// flush reports the word's look-alikes when it mixes scripts, then resets.
func (w *wordState) flush(res *ScanResult) {
	if w.latin {
		res.Threats = append(res.Threats, w.lookalikes...)
	}
	w.latin = false
	w.lookalikes = w.lookalikes[:0]
}

func (r *ScanResult) add(t Threat) {
	r.Threats = append(r.Threats, t)
}

func codepoint(r rune) string { return fmt.Sprintf("U+%04X", r) }

// classify reports the category of characters that must be removed from the
// text before matching.
func classify(r rune) (Category, bool) {
	switch {
	case isZeroWidth(r):
		return CategoryZeroWidth, true
	case isBidi(r):
		return CategoryBidi, true
	case r >= 0xE0001 && r <= 0xE007F:
		return CategoryTag, true
	case isUnsafeControl(r):
		return CategoryControl, true
	}
	return "", false
}

func isZeroWidth(r rune) bool {
	switch r {
	case '\u200B', '\u200C', '\u200D', '\uFEFF', '\u2060', '\u180E', '\u00AD':
		return true
	}
	return false
}

func isBidi(r rune) bool {
	switch r {
	case '\u200E', '\u200F', '\u061C',
		'\u202A', '\u202B', '\u202C', '\u202D', '\u202E',
		'\u2066', '\u2067', '\u2068', '\u2069':
		return true
	}
	return false
}

// Tab, newline and carriage return are ordinary prompt text.
func isUnsafeControl(r rune) bool {
	if r == '\t' || r == '\n' || r == '\r' {
		return false
	}
	return unicode.IsControl(r)
}

var confusables = map[rune]rune{
	// Cyrillic
	'а': 'a', 'А': 'A', 'В': 'B', 'с': 'c', 'С': 'C', 'е': 'e', 'Е': 'E',
	'Н': 'H', 'і': 'i', 'І': 'I', 'ј': 'j', 'К': 'K', 'М': 'M', 'о': 'o',
	'О': 'O', 'р': 'p', 'Р': 'P', 'ѕ': 's', 'Т': 'T', 'х': 'x', 'Х': 'X',
	'у': 'y', 'У': 'Y',
	// Greek
	'Α': 'A', 'Β': 'B', 'Ε': 'E', 'Η': 'H', 'Ι': 'I', 'Κ': 'K', 'Μ': 'M',
	'Ν': 'N', 'Ο': 'O', 'ο': 'o', 'Ρ': 'P', 'Τ': 'T', 'Χ': 'X', 'Υ': 'Y',
	'Ζ': 'Z', 'ν': 'v',
}
