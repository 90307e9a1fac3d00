package utils

import "unicode/utf8"

// Truncate shortens s to at most maxRunes runes, appending "..." when cut.
// Multi-byte characters are never split.
func Truncate(s string, maxRunes int) string {
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	n := 0
	for i := range s {
		if n == maxRunes {
			return s[:i] + "..."
		}
		n++
	}
	return s
}
