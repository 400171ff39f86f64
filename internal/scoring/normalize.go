// Package scoring decides correctness and marks for objective answers and
// summarizes a scored attempt.
package scoring

import (
	"math"
	"regexp"
	"strings"
)

// space matches what browsers treat as whitespace: ASCII space characters
// plus Unicode space separators such as U+00A0.
const space = `\s\v\p{Zs}\x{2028}\x{2029}\x{FEFF}`

var (
	nonWordRegex  = regexp.MustCompile(`[^\w` + space + `]`)
	spaceRunRegex = regexp.MustCompile(`[` + space + `]+`)
	articleRegex  = regexp.MustCompile(`\b(a|an|the)\b`)
)

// Normalize canonicalizes a free-text answer for comparison: lowercase,
// punctuation stripped, whitespace collapsed, articles removed.
// Normalize(Normalize(s)) == Normalize(s) for every s.
func Normalize(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	s = nonWordRegex.ReplaceAllString(s, "")
	s = spaceRunRegex.ReplaceAllString(s, " ")
	s = articleRegex.ReplaceAllString(s, "")
	// Article removal leaves double spaces behind.
	s = spaceRunRegex.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// words splits a normalized string into non-empty words.
func words(s string) []string {
	return strings.Fields(s)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
