package embed

import (
	"regexp"
	"strings"
)

var (
	controlRe    = regexp.MustCompile(`[\x{00}-\x{1F}\x{7F}-\x{9F}]`)
	quoteRe      = regexp.MustCompile(`["']`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// Normalize prepares text for the embedding model: control characters are
// removed, quotes become spaces, whitespace runs collapse to one space and
// the result is trimmed.
func Normalize(text string) string {
	text = controlRe.ReplaceAllString(text, "")
	text = quoteRe.ReplaceAllString(text, " ")
	text = whitespaceRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// RecordText renders a page record in the form the model was indexed with.
func RecordText(title, description string) string {
	return strings.TrimSpace("Title: " + title + " Description: " + description)
}
