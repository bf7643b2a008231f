// Package profile validates and normalizes the local user's display fields.
package profile

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

const maxNameLength = 64

// NormalizeName trims a display name and validates its length and characters.
// An empty result is valid and means the caller's default applies.
func NormalizeName(name string) (string, error) {
	name = strings.Join(strings.Fields(name), " ")
	if !utf8.ValidString(name) {
		return "", fmt.Errorf("name must be valid UTF-8")
	}
	if n := utf8.RuneCountInString(name); n > maxNameLength {
		return "", fmt.Errorf("name must be at most %d characters, got %d", maxNameLength, n)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return "", fmt.Errorf("name must not contain control characters")
		}
	}
	return name, nil
}
