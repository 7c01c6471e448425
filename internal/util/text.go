package util

import (
	"regexp"
	"strings"
)

var (
	blankLinesRe = regexp.MustCompile(`\n\s*\n`)
	spaceRunsRe  = regexp.MustCompile(` +`)
)

// CollapseWhitespace normalizes extracted prose: runs of blank lines become a
// single paragraph break, runs of spaces become one space, and surrounding
// whitespace is trimmed.
func CollapseWhitespace(s string) string {
	s = blankLinesRe.ReplaceAllString(s, "\n\n")
	s = spaceRunsRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Tail returns the trailing maxChars runes of s after trimming whitespace.
// Used for the rolling memory carried across window boundaries.
func Tail(s string, maxChars int) string {
	trimmed := strings.TrimSpace(s)
	runes := []rune(trimmed)
	if len(runes) <= maxChars {
		return trimmed
	}
	return string(runes[len(runes)-maxChars:])
}

// Head returns the leading maxChars runes of s.
func Head(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}

// WordCount reports the number of whitespace-separated words in s.
func WordCount(s string) int {
	return len(strings.Fields(s))
}
