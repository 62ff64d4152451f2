package chunker

import (
	"regexp"
	"strings"
)

// Model output arrives with markdown artifacts that read badly when spoken.
// Cleanup strips the formatting; validity rejects content with nothing left
// worth synthesizing.
var (
	boldRe       = regexp.MustCompile(`\*\*([^*]*)\*\*`)
	emphasisRe   = regexp.MustCompile(`\*([^*]*)\*`)
	underscoreRe = regexp.MustCompile(`__([^_]*)__|_([^_]*)_`)
	backtickRe   = regexp.MustCompile("`([^`]*)`")
	headerRe     = regexp.MustCompile(`(?m)^#{1,6}\s*`)
	listMarkerRe = regexp.MustCompile(`(?m)^\s*[-*+]\s+`)
	colonRunRe   = regexp.MustCompile(`:{2,}`)
	whitespaceRe = regexp.MustCompile(`\s+`)

	alnumRe     = regexp.MustCompile(`[\p{L}\p{N}]`)
	markerRunRe = regexp.MustCompile(`^[-*\s]+$`)
)

// CleanText strips markdown formatting and normalizes whitespace so the
// text can be handed to speech synthesis directly.
func CleanText(text string) string {
	text = boldRe.ReplaceAllString(text, "$1")
	text = emphasisRe.ReplaceAllString(text, "$1")
	text = underscoreRe.ReplaceAllString(text, "$1$2")
	text = backtickRe.ReplaceAllString(text, "$1")
	text = headerRe.ReplaceAllString(text, "")
	text = listMarkerRe.ReplaceAllString(text, "")
	text = colonRunRe.ReplaceAllString(text, ":")
	text = strings.TrimSuffix(strings.TrimSpace(text), ":")
	text = whitespaceRe.ReplaceAllString(text, " ")

	return strings.TrimSpace(text)
}

// IsValidText reports whether cleaned text is worth synthesizing. Empty
// strings, pure punctuation, and bare list-marker runs are rejected.
func IsValidText(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}

	if markerRunRe.MatchString(trimmed) {
		return false
	}

	return alnumRe.MatchString(trimmed)
}
