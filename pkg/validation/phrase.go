package validation

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// NormalizePhrase trims surrounding whitespace, applies NFC normalization and
// Unicode case folding so that phrases compare case-insensitively.
func NormalizePhrase(s string) string {
	// cases.Caser is stateful; build one per call.
	return cases.Fold().String(norm.NFC.String(strings.TrimSpace(s)))
}

// PhraseMatches reports whether typed matches the expected confirmation phrase.
func PhraseMatches(typed, expected string) bool {
	want := NormalizePhrase(expected)
	return want != "" && NormalizePhrase(typed) == want
}
