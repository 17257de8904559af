package voice

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	pauseWithoutSpace = regexp.MustCompile(`([.,:;!?])(\p{L})`)
	whitespace        = regexp.MustCompile(`\s+`)
)

// PrepareText normalizes narration for synthesis. Pause punctuation is
// followed by a space so the voice breathes between clauses, and text longer
// than maxChars is cut at a word boundary and closed with an ellipsis.
// maxChars <= 0 disables the cap.
func PrepareText(text string, maxChars int) string {
	text = whitespace.ReplaceAllString(strings.TrimSpace(text), " ")
	text = pauseWithoutSpace.ReplaceAllString(text, "$1 $2")
	if maxChars <= 0 || utf8.RuneCountInString(text) <= maxChars {
		return text
	}
	runes := []rune(text)
	cut := string(runes[:maxChars])
	if idx := strings.LastIndexByte(cut, ' '); idx > 0 {
		cut = cut[:idx]
	}
	return strings.TrimRight(cut, " ,;:.") + "..."
}
