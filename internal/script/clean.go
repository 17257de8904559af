package script

import (
	"math"
	"regexp"
	"strings"
)

var (
	disallowedChars = regexp.MustCompile(`[^\p{L}\p{N}\s.,!?:;'\-]`)
	collapseSpaces  = regexp.MustCompile(`\s+`)
)

// wordSlack lets narration run a little past the word budget before it is cut.
const wordSlack = 1.25

// CleanText strips markup and symbols the voice service would read aloud,
// caps the word count for the section duration, and guarantees closing
// punctuation.
func CleanText(text string, seconds, wordsPerSecond float64) string {
	text = disallowedChars.ReplaceAllString(text, "")
	text = strings.TrimSpace(collapseSpaces.ReplaceAllString(text, " "))
	if text == "" {
		return ""
	}
	if seconds > 0 && wordsPerSecond > 0 {
		limit := int(math.Ceil(seconds * wordsPerSecond * wordSlack))
		words := strings.Fields(text)
		if limit > 0 && len(words) > limit {
			text = strings.Join(words[:limit], " ")
		}
	}
	text = strings.TrimRight(text, ",;:- ")
	if !strings.HasSuffix(text, ".") && !strings.HasSuffix(text, "!") && !strings.HasSuffix(text, "?") {
		text += "."
	}
	return text
}

// EstimateSeconds converts a word count into spoken seconds.
func EstimateSeconds(text string, wordsPerSecond float64) float64 {
	if wordsPerSecond <= 0 {
		return 0
	}
	return float64(len(strings.Fields(text))) / wordsPerSecond
}
