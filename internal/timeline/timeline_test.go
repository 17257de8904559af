package timeline

import (
	"errors"
	"math"
	"strings"
	"testing"

	"reelsmith/internal/services"
	"reelsmith/internal/stage"
)

func fixture(durations []float64, counts []int) ([]stage.Segment, []stage.AudioClip, [][]stage.ImageAsset) {
	segments := make([]stage.Segment, len(durations))
	clips := make([]stage.AudioClip, len(durations))
	images := make([][]stage.ImageAsset, len(durations))
	for i, d := range durations {
		segments[i] = stage.Segment{Index: i, Text: "narration for this segment", EstimatedSeconds: d}
		clips[i] = stage.AudioClip{SegmentIndex: i, Format: "mp3", DurationSeconds: d}
		for j := 0; j < counts[i]; j++ {
			images[i] = append(images[i], stage.ImageAsset{SegmentIndex: i, Ordinal: j, Format: "png"})
		}
	}
	return segments, clips, images
}

func TestBuildSplitsEvenly(t *testing.T) {
	tl, err := Build(fixture([]float64{9.0}, []int{3}))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(tl.Placements) != 3 {
		t.Fatalf("placements = %d", len(tl.Placements))
	}
	for i, p := range tl.Placements {
		if p.DurationSeconds != 3.0 || p.StartSeconds != float64(i)*3.0 {
			t.Fatalf("placement %d = %+v", i, p)
		}
	}
}

func TestBuildPutsRemainderLast(t *testing.T) {
	tl, err := Build(fixture([]float64{10.0}, []int{3}))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	p := tl.Placements
	if len(p) != 3 {
		t.Fatalf("placements = %d", len(p))
	}
	if p[0].DurationSeconds != p[1].DurationSeconds {
		t.Fatalf("leading spans differ: %v vs %v", p[0].DurationSeconds, p[1].DurationSeconds)
	}
	if math.Abs(p[2].DurationSeconds-(10.0-2*p[0].DurationSeconds)) > 1e-12 {
		t.Fatalf("last span %v does not absorb remainder", p[2].DurationSeconds)
	}
	if p[2].DurationSeconds < p[0].DurationSeconds {
		t.Fatalf("last span %v shorter than %v", p[2].DurationSeconds, p[0].DurationSeconds)
	}
	sum := p[0].DurationSeconds + p[1].DurationSeconds + p[2].DurationSeconds
	if math.Abs(sum-10.0) > 1e-9 {
		t.Fatalf("sum = %v", sum)
	}
}

func TestBuildIsContiguousAndCoversNarration(t *testing.T) {
	durations := []float64{2.37, 7.113, 0.9, 12.0001, 4.4}
	counts := []int{1, 2, 1, 4, 3}
	tl, err := Build(fixture(durations, counts))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	var want float64
	for _, d := range durations {
		want += d
	}
	var sum float64
	for i, p := range tl.Placements {
		sum += p.DurationSeconds
		if i+1 < len(tl.Placements) && p.StartSeconds+p.DurationSeconds != tl.Placements[i+1].StartSeconds {
			t.Fatalf("gap or overlap after placement %d", i)
		}
	}
	if math.Abs(sum-want) > 1e-3 || math.Abs(tl.TotalSeconds-want) > 1e-3 {
		t.Fatalf("sum=%v total=%v want=%v", sum, tl.TotalSeconds, want)
	}
	if len(tl.Placements) != 11 {
		t.Fatalf("placements = %d", len(tl.Placements))
	}
	if err := tl.Check(); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if tl.Spans[3].StartSeconds != tl.Placements[4].StartSeconds {
		t.Fatalf("span 3 starts at %v, placement 4 at %v", tl.Spans[3].StartSeconds, tl.Placements[4].StartSeconds)
	}
}

func TestBuildOrdersImagesByOrdinal(t *testing.T) {
	segments, clips, images := fixture([]float64{4}, []int{2})
	images[0][0], images[0][1] = images[0][1], images[0][0]
	tl, err := Build(segments, clips, images)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if tl.Placements[0].Ordinal != 0 || tl.Placements[1].Ordinal != 1 {
		t.Fatalf("unexpected order %+v", tl.Placements)
	}
}

func TestBuildRejectsContractViolations(t *testing.T) {
	cases := map[string]func(s []stage.Segment, c []stage.AudioClip, i [][]stage.ImageAsset) ([]stage.Segment, []stage.AudioClip, [][]stage.ImageAsset){
		"missing clip": func(s []stage.Segment, c []stage.AudioClip, i [][]stage.ImageAsset) ([]stage.Segment, []stage.AudioClip, [][]stage.ImageAsset) {
			return s, c[:1], i
		},
		"zero duration": func(s []stage.Segment, c []stage.AudioClip, i [][]stage.ImageAsset) ([]stage.Segment, []stage.AudioClip, [][]stage.ImageAsset) {
			c[1].DurationSeconds = 0
			return s, c, i
		},
		"no images": func(s []stage.Segment, c []stage.AudioClip, i [][]stage.ImageAsset) ([]stage.Segment, []stage.AudioClip, [][]stage.ImageAsset) {
			i[1] = nil
			return s, c, i
		},
		"misindexed clip": func(s []stage.Segment, c []stage.AudioClip, i [][]stage.ImageAsset) ([]stage.Segment, []stage.AudioClip, [][]stage.ImageAsset) {
			c[0].SegmentIndex = 1
			return s, c, i
		},
		"no segments": func(s []stage.Segment, c []stage.AudioClip, i [][]stage.ImageAsset) ([]stage.Segment, []stage.AudioClip, [][]stage.ImageAsset) {
			return nil, nil, nil
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Build(mutate(fixture([]float64{3, 5}, []int{1, 2})))
			if !errors.Is(err, services.ErrContractViolation) {
				t.Fatalf("expected contract violation, got %v", err)
			}
		})
	}
}

func TestCheckDetectsGap(t *testing.T) {
	tl, err := Build(fixture([]float64{3, 5}, []int{1, 1}))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	tl.Placements[1].StartSeconds += 0.5
	if err := tl.Check(); !errors.Is(err, services.ErrContractViolation) {
		t.Fatalf("expected contract violation, got %v", err)
	}
}

func TestCaptionsFollowSpans(t *testing.T) {
	segments, clips, images := fixture([]float64{2.5, 4}, []int{1, 1})
	segments[1].Text = strings.TrimSpace(strings.Repeat("word ", 18))
	tl, err := Build(segments, clips, images)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	cues := tl.Cues()
	if len(cues) != 3 {
		t.Fatalf("cues = %d", len(cues))
	}
	if cues[0].EndSeconds != 2.5 || cues[1].StartSeconds != 2.5 || cues[2].EndSeconds != 6.5 {
		t.Fatalf("unexpected cue timing %+v", cues)
	}
	srt := tl.Captions()
	if !strings.HasPrefix(srt, "1\n00:00:00,000 --> 00:00:02,500\n") {
		t.Fatalf("unexpected srt:\n%s", srt)
	}
	if !strings.Contains(srt, "00:00:04,500 --> 00:00:06,500") {
		t.Fatalf("expected split cue boundary:\n%s", srt)
	}
}
