package wire

import "unicode/utf8"

// Excerpt returns at most the first n bytes of s for logs and error
// messages, appending "..." if truncated. It never cuts a UTF-8 sequence.
func Excerpt(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := max(n, 0)
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
