package utils

import "strings"

// Match checks a scope or resource token against a grant pattern. Patterns
// support the bare wildcard "*" (matches anything, including empty) and a
// trailing "*" for prefix matches (e.g. "ws-*"); anything else is an exact
// comparison.
func Match(value, pattern string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(value, strings.TrimSuffix(pattern, "*"))
	}
	return value == pattern
}

// MatchAny reports whether value matches at least one of the patterns.
func MatchAny(value string, patterns []string) bool {
	for _, p := range patterns {
		if Match(value, p) {
			return true
		}
	}
	return false
}
