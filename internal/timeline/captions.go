package timeline

import (
	"fmt"
	"math"
	"strings"
)

// maxCueWords bounds how much text one caption shows at once.
const maxCueWords = 12

// Cue is one caption line.
type Cue struct {
	StartSeconds float64
	EndSeconds   float64
	Text         string
}

// Cues splits each narration span into caption cues. A span's time is
// shared between its cues in proportion to their word counts, and the last
// cue of a span ends exactly where the span does.
func (tl Timeline) Cues() []Cue {
	var cues []Cue
	for _, span := range tl.Spans {
		chunks := chunkWords(strings.Fields(span.Text), maxCueWords)
		if len(chunks) == 0 {
			continue
		}
		words := 0
		for _, c := range chunks {
			words += len(c)
		}
		start := span.StartSeconds
		end := span.StartSeconds + span.DurationSeconds
		seen := 0
		for i, c := range chunks {
			seen += len(c)
			cueEnd := span.StartSeconds + span.DurationSeconds*float64(seen)/float64(words)
			if i == len(chunks)-1 {
				cueEnd = end
			}
			cues = append(cues, Cue{StartSeconds: start, EndSeconds: cueEnd, Text: strings.Join(c, " ")})
			start = cueEnd
		}
	}
	return cues
}

func chunkWords(words []string, size int) [][]string {
	if len(words) == 0 {
		return nil
	}
	n := int(math.Ceil(float64(len(words)) / float64(size)))
	// Balance chunk sizes instead of leaving a short tail.
	per := int(math.Ceil(float64(len(words)) / float64(n)))
	chunks := make([][]string, 0, n)
	for i := 0; i < len(words); i += per {
		chunks = append(chunks, words[i:min(i+per, len(words))])
	}
	return chunks
}

// Captions renders the cues as SubRip text.
func (tl Timeline) Captions() string {
	var b strings.Builder
	for i, cue := range tl.Cues() {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n", i+1, srtTimestamp(cue.StartSeconds), srtTimestamp(cue.EndSeconds), cue.Text)
	}
	return b.String()
}

func srtTimestamp(seconds float64) string {
	ms := int64(math.Round(seconds * 1000))
	if ms < 0 {
		ms = 0
	}
	h := ms / 3_600_000
	ms %= 3_600_000
	m := ms / 60_000
	ms %= 60_000
	s := ms / 1000
	ms %= 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}
