package stage

import (
	"context"
	"sort"
	"strings"
)

// Stage names used in keys, logs, and the run ledger.
const (
	NameScript   = "script"
	NameVoice    = "voice"
	NameImage    = "image"
	NameTimeline = "timeline"
	NameAssembly = "assembly"
)

// Profile lists the adapter settings that shape its output (model, voice,
// resolution). It is folded into artifact keys so a settings change never
// serves stale cache entries.
type Profile map[string]string

// String renders the profile in key order for logs.
func (p Profile) String() string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+p[k])
	}
	return strings.Join(parts, " ")
}

// ScriptRequest asks for a script about Topic.
type ScriptRequest struct {
	Topic         string  `json:"topic"`
	TargetSeconds float64 `json:"target_seconds"`
	Style         string  `json:"style"`
	Language      string  `json:"language"`
}

// Segment is one narration unit of a script.
type Segment struct {
	Index            int     `json:"index"`
	Section          string  `json:"section,omitempty"`
	Text             string  `json:"text"`
	EstimatedSeconds float64 `json:"estimated_seconds"`
	Visual           string  `json:"visual,omitempty"`
}

// Script is the structured output of the script stage.
type Script struct {
	Topic    string    `json:"topic"`
	Title    string    `json:"title"`
	Style    string    `json:"style"`
	Segments []Segment `json:"segments"`
}

// EstimatedSeconds sums the advisory segment estimates.
func (s Script) EstimatedSeconds() float64 {
	var total float64
	for _, seg := range s.Segments {
		total += seg.EstimatedSeconds
	}
	return total
}

// VoiceRequest asks for narration of one segment.
type VoiceRequest struct {
	SegmentIndex int    `json:"-"`
	Text         string `json:"text"`
	VoiceID      string `json:"voice_id"`
}

// AudioClip is a synthesized narration clip. DurationSeconds is authoritative.
type AudioClip struct {
	SegmentIndex    int     `json:"segment_index"`
	Format          string  `json:"format"`
	Data            []byte  `json:"data"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// ImageRequest asks for Count images illustrating a segment whose narration
// lasts TargetSeconds.
type ImageRequest struct {
	SegmentIndex  int     `json:"-"`
	Text          string  `json:"text"`
	Visual        string  `json:"visual"`
	TargetSeconds float64 `json:"target_seconds"`
	Count         int     `json:"count"`
}

// ImageAsset is one generated illustration. Ordinal orders images within a segment.
type ImageAsset struct {
	SegmentIndex int    `json:"segment_index"`
	Ordinal      int    `json:"ordinal"`
	Format       string `json:"format"`
	Data         []byte `json:"data"`
}

// ScriptWriter turns a topic into a validated script.
type ScriptWriter interface {
	Profile() Profile
	WriteScript(context.Context, ScriptRequest) (Script, error)
}

// VoiceSynthesizer turns segment text into a timed clip.
type VoiceSynthesizer interface {
	Profile() Profile
	Synthesize(context.Context, VoiceRequest) (AudioClip, error)
}

// ImageGenerator illustrates a segment. ImageCount derives how many images a
// clip of the given actual duration needs.
type ImageGenerator interface {
	Profile() Profile
	ImageCount(actualSeconds float64) int
	Generate(context.Context, ImageRequest) ([]ImageAsset, error)
}

// HealthChecker is implemented by adapters that can probe their service.
type HealthChecker interface {
	HealthCheck(context.Context) Health
}
