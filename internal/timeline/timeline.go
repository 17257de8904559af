package timeline

import (
	"fmt"
	"math"
	"sort"

	"reelsmith/internal/services"
	"reelsmith/internal/stage"
)

// Epsilon is the tolerated drift between the cursor and the narration total.
const Epsilon = 1e-3

const quantum = 1000.0

// Placement shows one image for a span of the video.
type Placement struct {
	SegmentIndex    int              `json:"segment_index"`
	Ordinal         int              `json:"ordinal"`
	StartSeconds    float64          `json:"start_seconds"`
	DurationSeconds float64          `json:"duration_seconds"`
	Image           stage.ImageAsset `json:"-"`
}

// End is the time the placement stops showing.
func (p Placement) End() float64 { return p.StartSeconds + p.DurationSeconds }

// AudioSpan locates one segment's narration clip on the timeline.
type AudioSpan struct {
	SegmentIndex    int             `json:"segment_index"`
	StartSeconds    float64         `json:"start_seconds"`
	DurationSeconds float64         `json:"duration_seconds"`
	Text            string          `json:"text"`
	Clip            stage.AudioClip `json:"-"`
}

// Timeline is the ordered, gapless schedule consumed by the renderer.
type Timeline struct {
	Placements   []Placement `json:"placements"`
	Spans        []AudioSpan `json:"spans"`
	TotalSeconds float64     `json:"total_seconds"`
}

func violation(format string, args ...any) error {
	return services.Wrap(services.ErrContractViolation, stage.NameTimeline, "build", fmt.Sprintf(format, args...), nil)
}

// Build schedules images against the actual clip durations. clips[i] and
// images[i] belong to segments[i].
func Build(segments []stage.Segment, clips []stage.AudioClip, images [][]stage.ImageAsset) (Timeline, error) {
	if len(segments) == 0 {
		return Timeline{}, violation("no segments to schedule")
	}
	if len(clips) != len(segments) {
		return Timeline{}, violation("have %d clips for %d segments", len(clips), len(segments))
	}
	if len(images) != len(segments) {
		return Timeline{}, violation("have images for %d of %d segments", len(images), len(segments))
	}

	tl := Timeline{
		Placements: make([]Placement, 0, len(segments)),
		Spans:      make([]AudioSpan, 0, len(segments)),
	}
	var cursor, total float64
	for i, seg := range segments {
		if seg.Index != i {
			return Timeline{}, violation("segment at position %d has index %d", i, seg.Index)
		}
		clip := clips[i]
		if clip.SegmentIndex != i {
			return Timeline{}, violation("clip for segment %d carries index %d", i, clip.SegmentIndex)
		}
		d := clip.DurationSeconds
		if d <= 0 || math.IsNaN(d) || math.IsInf(d, 0) {
			return Timeline{}, violation("segment %d clip duration %v is not positive", i, d)
		}
		imgs, err := ordered(i, images[i])
		if err != nil {
			return Timeline{}, err
		}

		tl.Spans = append(tl.Spans, AudioSpan{
			SegmentIndex:    i,
			StartSeconds:    cursor,
			DurationSeconds: d,
			Text:            seg.Text,
			Clip:            clip,
		})
		for j, dur := range splitDuration(d, len(imgs)) {
			tl.Placements = append(tl.Placements, Placement{
				SegmentIndex:    i,
				Ordinal:         imgs[j].Ordinal,
				StartSeconds:    cursor,
				DurationSeconds: dur,
				Image:           imgs[j],
			})
			cursor += dur
		}
		total += d
	}

	if math.Abs(cursor-total) > Epsilon {
		return Timeline{}, violation("cursor %.6f drifted from narration total %.6f", cursor, total)
	}
	tl.TotalSeconds = total
	return tl, nil
}

func ordered(segment int, imgs []stage.ImageAsset) ([]stage.ImageAsset, error) {
	if len(imgs) == 0 {
		return nil, violation("segment %d has no images", segment)
	}
	out := make([]stage.ImageAsset, len(imgs))
	copy(out, imgs)
	sort.SliceStable(out, func(a, b int) bool { return out[a].Ordinal < out[b].Ordinal })
	for _, img := range out {
		if img.SegmentIndex != segment {
			return nil, violation("image %d for segment %d carries index %d", img.Ordinal, segment, img.SegmentIndex)
		}
	}
	return out, nil
}

// splitDuration divides d into n equal millisecond spans with the remainder
// in the last one.
func splitDuration(d float64, n int) []float64 {
	spans := make([]float64, n)
	span := math.Floor(d/float64(n)*quantum) / quantum
	if span <= 0 {
		span = d / float64(n)
	}
	for j := 0; j < n-1; j++ {
		spans[j] = span
	}
	spans[n-1] = d - span*float64(n-1)
	return spans
}

// Check re-verifies ordering, contiguity, and total coverage.
func (tl Timeline) Check() error {
	if len(tl.Placements) == 0 {
		return violation("timeline is empty")
	}
	if tl.Placements[0].StartSeconds != 0 {
		return violation("timeline starts at %v", tl.Placements[0].StartSeconds)
	}
	var sum float64
	for i, p := range tl.Placements {
		if p.DurationSeconds <= 0 {
			return violation("placement %d has duration %v", i, p.DurationSeconds)
		}
		if i > 0 {
			prev := tl.Placements[i-1]
			if math.Abs(prev.End()-p.StartSeconds) > Epsilon {
				return violation("gap or overlap between placements %d and %d", i-1, i)
			}
			if p.SegmentIndex < prev.SegmentIndex {
				return violation("placement %d is out of segment order", i)
			}
		}
		sum += p.DurationSeconds
	}
	if math.Abs(sum-tl.TotalSeconds) > Epsilon {
		return violation("placements cover %.6f of %.6f seconds", sum, tl.TotalSeconds)
	}
	return nil
}
