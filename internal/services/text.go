// Package services – text helpers
package services

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// normalizeText trims s and converts it to NFC so visually identical input
// is stored identically.
func normalizeText(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// tooLong reports whether s exceeds max runes; max <= 0 disables the check.
func tooLong(s string, max int) bool {
	return max > 0 && utf8.RuneCountInString(s) > max
}
