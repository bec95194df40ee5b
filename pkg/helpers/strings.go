package helpers

import "strings"

// IsEmpty checks if a string is empty or contains only whitespace.
func IsEmpty(s string) bool {
	return strings.TrimSpace(s) == ""
}

// DefaultString returns the first non-empty string from the provided options.
//
// Example:
//
//	name := helpers.DefaultString(cfg.Collection, "legal_chunks")
func DefaultString(options ...string) string {
	for _, option := range options {
		if !IsEmpty(option) {
			return option
		}
	}
	return ""
}

// ContainsAnyFold reports whether s contains any of the phrases, ignoring case.
//
// Example:
//
//	helpers.ContainsAnyFold("What is Due Process?", "what is", "define") // true
func ContainsAnyFold(s string, phrases ...string) bool {
	lower := strings.ToLower(s)
	for _, p := range phrases {
		if p != "" && strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// Truncate shortens s to at most n runes, appending "..." when cut.
// Used to keep question previews in logs bounded.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
