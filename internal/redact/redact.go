// Package redact masks credentials that agents paste into prompts so they
// never reach the audit ledger.
package redact

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Placeholder replaces every masked secret.
const Placeholder = "[REDACTED]"

type rule struct {
	name string
	re   *regexp.Regexp
}

var rules = []rule{
	{"aws-assignment", regexp.MustCompile(`(?i)(aws_access_key_id|aws_secret_access_key|aws_session_token)\s*[=:]\s*['"]?[A-Za-z0-9/+=]{20,}['"]?`)},
	{"aws-key-id", regexp.MustCompile(`AKIA[0-9A-Z]{16}`)},
	{"github-assignment", regexp.MustCompile(`(?i)(github_token|gh_token|github_pat)\s*[=:]\s*['"]?[A-Za-z0-9_-]{30,}['"]?`)},
	{"github-token", regexp.MustCompile(`gh[pousr]_[A-Za-z0-9]{36}`)},
	{"llm-api-key", regexp.MustCompile(`sk-(ant-|proj-)?[A-Za-z0-9_-]{20,}`)},
	{"generic-key", regexp.MustCompile(`(?i)(api_key|apikey|api-key|secret_key|secretkey|secret-key|access_token|auth_token)\s*[=:]\s*['"]?[A-Za-z0-9_-]{16,}['"]?`)},
	{"private-key", regexp.MustCompile(`-----BEGIN (RSA |EC |DSA |OPENSSH |PGP )?PRIVATE KEY-----`)},
	{"jwt", regexp.MustCompile(`eyJ[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]{8,}`)},
	{"bearer", regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9_.-]{20,}`)},
	{"url-credentials", regexp.MustCompile(`[a-z][a-z0-9+.-]*://[^:/\s]+:[^@\s]+@`)},
	{"slack-token", regexp.MustCompile(`xox[baprs]-[0-9]{10,13}-[0-9]{10,13}[a-zA-Z0-9-]*`)},
	{"stripe-key", regexp.MustCompile(`[sr]k_live_[0-9a-zA-Z]{24}`)},
	{"password", regexp.MustCompile(`(?i)(password|passwd|pwd|secret)\s*[=:]\s*['"]?[^\s'"]{8,}['"]?`)},
}

// Redact replaces every recognised secret in s with Placeholder.
func Redact(s string) string {
	for _, r := range rules {
		s = r.re.ReplaceAllString(s, Placeholder)
	}
	return s
}

// Matches returns the names of the rules that fire on s.
func Matches(s string) []string {
	var names []string
	for _, r := range rules {
		if r.re.MatchString(s) {
			names = append(names, r.name)
		}
	}
	return names
}

// Excerpt redacts s, collapses whitespace runs, and truncates the result to
// at most n runes, appending "…" when cut. n <= 0 returns "".
func Excerpt(s string, n int) string {
	if n <= 0 {
		return ""
	}
	out := strings.Join(strings.Fields(Redact(s)), " ")
	if utf8.RuneCountInString(out) <= n {
		return out
	}
	runes := []rune(out)
	return string(runes[:n]) + "…"
}
