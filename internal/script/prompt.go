package script

import (
	"fmt"
	"strings"
)

// SystemPrompt is sent with every script request.
const SystemPrompt = `You write narration scripts for short tutorial videos.

Each segment is read aloud by a text-to-speech voice, so write plain spoken sentences:
no markdown, no emoji, no stage directions, no lists.

Respond ONLY with JSON:
{"title": "short video title", "segments": [{"section": "<section type>", "text": "narration", "estimated_seconds": 0.0, "visual": "what the illustration should show"}]}

Return exactly one segment per requested section, in the same order.`

func buildUserPrompt(topic, language string, tmpl Template, sections []Section, wordsPerSecond float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n", topic)
	if language != "" {
		fmt.Fprintf(&b, "Language: %s\n", language)
	}
	fmt.Fprintf(&b, "Tone: %s\n", tmpl.Tone)
	fmt.Fprintf(&b, "Vocabulary: %s\n", tmpl.Vocabulary)
	fmt.Fprintf(&b, "Speaking rate: about %.1f words per second\n\n", wordsPerSecond)
	b.WriteString("Sections:\n")
	for i, s := range sections {
		words := int(s.Seconds * wordsPerSecond)
		fmt.Fprintf(&b, "%d. %s (%.0fs, about %d words): %s\n", i+1, s.Type, s.Seconds, words, s.Purpose)
	}
	return b.String()
}
