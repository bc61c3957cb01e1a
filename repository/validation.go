package repository

import (
	"regexp"
	"strings"
)

var emailRe = regexp.MustCompile(`^[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`)

// ValidateUsername reports whether s is non-empty after trimming whitespace.
func ValidateUsername(s string) bool {
	return strings.TrimSpace(s) != ""
}

// ValidateRole reports whether s is non-empty after trimming whitespace.
func ValidateRole(s string) bool {
	return strings.TrimSpace(s) != ""
}

// ValidateEmail reports whether s looks like local-part@domain.tld, where the
// top-level label has at least two letters.
func ValidateEmail(s string) bool {
	return emailRe.MatchString(s)
}
