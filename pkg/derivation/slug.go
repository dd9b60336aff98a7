package derivation

import (
	"regexp"
	"strings"
)

var (
	nonAlphanumeric = regexp.MustCompile(`[^a-z0-9]+`)
	sentenceEnd     = regexp.MustCompile(`[.!?\n]`)
)

// slugify lowercases name, replaces runs of non-alphanumeric characters
// with a single hyphen, and trims leading/trailing hyphens.
func slugify(name string) string {
	lower := strings.ToLower(name)
	slug := nonAlphanumeric.ReplaceAllString(lower, "-")
	return strings.Trim(slug, "-")
}

// deriveDisplayName takes the first sentence of description (delimited
// by '.', '!', '?', or newline) and truncates it to 100 characters with
// an ellipsis, per spec.md §4.9. Grounded on
// _examples/original_source/api/display_derivation.py's stated contract.
func deriveDisplayName(description string) string {
	trimmed := strings.TrimSpace(description)
	if trimmed == "" {
		return ""
	}

	firstSentence := trimmed
	if loc := sentenceEnd.FindStringIndex(trimmed); loc != nil {
		firstSentence = strings.TrimSpace(trimmed[:loc[0]])
	}
	if firstSentence == "" {
		firstSentence = trimmed
	}

	const maxLen = 100
	runes := []rune(firstSentence)
	if len(runes) <= maxLen {
		return firstSentence
	}
	return string(runes[:maxLen-1]) + "…"
}
