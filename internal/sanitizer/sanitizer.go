// Package sanitizer redacts sensitive substrings from downstream→upstream
// message bodies before they reach the agent.
package sanitizer

import "regexp"

const redacted = "[REDACTED]"

// pattern pairs a compiled regex with nothing else — substitution is always
// the fixed [REDACTED] marker, applied in the declared order.
var defaultPatterns = []*regexp.Regexp{
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
	regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----`),
	regexp.MustCompile(`[A-Za-z]:\\(?:[^\s"']+\\)*[^\s"']+`),
	regexp.MustCompile(`/var/www/[^\s"']+`),
	regexp.MustCompile(`/home/[^\s"']+`),
	regexp.MustCompile(`(?i)traceback \(most recent call last\):?`),
	regexp.MustCompile(`(?i)at [\w.$]+\([\w.]+:\d+\)`),
	regexp.MustCompile(`eyJ[A-Za-z0-9_-]+\.eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+`),
}

// Sanitizer applies a fixed ordered list of regexes to message bodies.
type Sanitizer struct {
	patterns []*regexp.Regexp
}

// New builds a Sanitizer with the default pattern set.
func New() *Sanitizer {
	return &Sanitizer{patterns: defaultPatterns}
}

// NewWithPatterns builds a Sanitizer with a caller-supplied ordered pattern
// list, for tests or custom redaction sets.
func NewWithPatterns(patterns []*regexp.Regexp) *Sanitizer {
	return &Sanitizer{patterns: patterns}
}

// Sanitize substitutes every match of every configured pattern, in order,
// with [REDACTED]. It operates on the raw string — the caller's JSON
// structure is preserved character-for-character except where matches are
// substituted.
func (s *Sanitizer) Sanitize(body string) string {
	out := body
	for _, p := range s.patterns {
		out = p.ReplaceAllString(out, redacted)
	}
	return out
}
