// Package utils provides shared utilities for text and logging.
package utils

// Truncate returns at most maxLen runes of s, with "..." appended if anything was cut.
// Counting runes keeps multi-byte answers (accented text, emoji) valid UTF-8.
// If maxLen is 0 or negative, returns s unchanged.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	n := 0
	for i := range s {
		if n == maxLen {
			return s[:i] + "..."
		}
		n++
	}
	return s
}
