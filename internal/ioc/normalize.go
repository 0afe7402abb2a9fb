package ioc

import (
	"strings"
	"unicode"
)

const trimSet = ".,;:\"'()[]{}"

// trimIndicator strips any run of whitespace and wrapping punctuation from
// both ends, so applying it twice changes nothing.
func trimIndicator(s string) string {
	return strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || strings.ContainsRune(trimSet, r)
	})
}

// NormalizeIP strips surrounding whitespace and punctuation.
func NormalizeIP(s string) string {
	return trimIndicator(s)
}

// NormalizeDomain strips surrounding whitespace and punctuation and lower-cases.
func NormalizeDomain(s string) string {
	return strings.ToLower(trimIndicator(s))
}

// NormalizeHash strips surrounding whitespace and punctuation and lower-cases.
func NormalizeHash(s string) string {
	return strings.ToLower(trimIndicator(s))
}
