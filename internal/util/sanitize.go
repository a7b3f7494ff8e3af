package util

import (
	"strings"
	"unicode"
)

// SanitizeMessage trims and replaces control characters so a rendered
// message stays on a single line in line-oriented sinks.
func SanitizeMessage(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r == '\t' {
			return ' '
		}
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, s)
}
