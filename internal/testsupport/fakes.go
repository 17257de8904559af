package testsupport

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"reelsmith/internal/render"
	"reelsmith/internal/stage"
)

// scripted hands out queued errors per segment, one per call.
type scripted struct {
	mu       sync.Mutex
	failures map[int][]error
	calls    map[int]int
	total    int
}

func (s *scripted) fail(index int, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures == nil {
		s.failures = make(map[int][]error)
	}
	s.failures[index] = append(s.failures[index], errs...)
}

func (s *scripted) next(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = make(map[int]int)
	}
	s.calls[index]++
	s.total++
	queue := s.failures[index]
	if len(queue) == 0 {
		return nil
	}
	err := queue[0]
	s.failures[index] = queue[1:]
	return err
}

func (s *scripted) count(index int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[index]
}

func (s *scripted) sum() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// FakeScript returns a fixed script. Queued errors are returned first.
type FakeScript struct {
	script stage.Script
	calls  scripted
}

// NewFakeScript builds a script with one segment per text, each estimated at
// three seconds. No texts yields an empty script.
func NewFakeScript(title string, texts ...string) *FakeScript {
	segments := make([]stage.Segment, 0, len(texts))
	for i, text := range texts {
		segments = append(segments, stage.Segment{
			Index:            i,
			Text:             text,
			EstimatedSeconds: 3,
			Visual:           "illustration of " + text,
		})
	}
	return &FakeScript{script: stage.Script{Title: title, Segments: segments}}
}

// Fail queues errors for upcoming calls.
func (f *FakeScript) Fail(errs ...error) { f.calls.fail(-1, errs...) }

// Calls reports how many times WriteScript ran.
func (f *FakeScript) Calls() int { return f.calls.sum() }

func (f *FakeScript) Profile() stage.Profile { return stage.Profile{"fake": "script"} }

func (f *FakeScript) WriteScript(ctx context.Context, req stage.ScriptRequest) (stage.Script, error) {
	if err := f.calls.next(-1); err != nil {
		return stage.Script{}, err
	}
	if err := ctx.Err(); err != nil {
		return stage.Script{}, err
	}
	out := f.script
	out.Topic = req.Topic
	out.Style = req.Style
	out.Segments = append([]stage.Segment(nil), f.script.Segments...)
	return out, nil
}

// FakeVoice synthesizes deterministic clips. Seconds maps narration text to
// clip duration and defaults to three seconds.
type FakeVoice struct {
	Seconds func(text string) float64
	calls   scripted
}

// NewFakeVoice returns a voice fake with three-second clips.
func NewFakeVoice() *FakeVoice { return &FakeVoice{} }

// FailSegment queues errors for upcoming calls on segment index.
func (f *FakeVoice) FailSegment(index int, errs ...error) { f.calls.fail(index, errs...) }

// Calls reports the total number of Synthesize calls.
func (f *FakeVoice) Calls() int { return f.calls.sum() }

// CallsFor reports Synthesize calls for one segment.
func (f *FakeVoice) CallsFor(index int) int { return f.calls.count(index) }

func (f *FakeVoice) Profile() stage.Profile { return stage.Profile{"fake": "voice"} }

func (f *FakeVoice) Synthesize(ctx context.Context, req stage.VoiceRequest) (stage.AudioClip, error) {
	if err := f.calls.next(req.SegmentIndex); err != nil {
		return stage.AudioClip{}, err
	}
	if err := ctx.Err(); err != nil {
		return stage.AudioClip{}, err
	}
	seconds := 3.0
	if f.Seconds != nil {
		seconds = f.Seconds(req.Text)
	}
	return stage.AudioClip{
		SegmentIndex:    req.SegmentIndex,
		Format:          "mp3",
		Data:            Bytes("voice:"+req.Text, 32),
		DurationSeconds: seconds,
	}, nil
}

// FakeImages returns Count deterministic images per request.
type FakeImages struct {
	MaxSeconds float64
	MaxImages  int

	mu       sync.Mutex
	requests []stage.ImageRequest
	calls    scripted
}

// NewFakeImages returns an image fake allowing one image per four seconds.
func NewFakeImages() *FakeImages { return &FakeImages{MaxSeconds: 4, MaxImages: 4} }

// FailSegment queues errors for upcoming calls on segment index.
func (f *FakeImages) FailSegment(index int, errs ...error) { f.calls.fail(index, errs...) }

// Calls reports the total number of Generate calls.
func (f *FakeImages) Calls() int { return f.calls.sum() }

// CallsFor reports Generate calls for one segment.
func (f *FakeImages) CallsFor(index int) int { return f.calls.count(index) }

// Requests returns the successful requests in arrival order.
func (f *FakeImages) Requests() []stage.ImageRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]stage.ImageRequest(nil), f.requests...)
}

func (f *FakeImages) Profile() stage.Profile { return stage.Profile{"fake": "images"} }

func (f *FakeImages) ImageCount(actualSeconds float64) int {
	count := int(math.Ceil(actualSeconds/f.MaxSeconds - 1e-9))
	return max(1, min(count, f.MaxImages))
}

func (f *FakeImages) Generate(ctx context.Context, req stage.ImageRequest) ([]stage.ImageAsset, error) {
	if err := f.calls.next(req.SegmentIndex); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	assets := make([]stage.ImageAsset, 0, req.Count)
	for i := 0; i < req.Count; i++ {
		assets = append(assets, stage.ImageAsset{
			SegmentIndex: req.SegmentIndex,
			Ordinal:      i,
			Format:       "png",
			Data:         Bytes(fmt.Sprintf("image:%s:%d", req.Text, i), 16),
		})
	}
	return assets, nil
}

// FakeRenderer writes a placeholder video into Dir.
type FakeRenderer struct {
	Dir string
	Err error

	mu    sync.Mutex
	calls int
	last  render.Request
}

// NewFakeRenderer renders into dir.
func NewFakeRenderer(dir string) *FakeRenderer { return &FakeRenderer{Dir: dir} }

// Calls reports how many times Render ran.
func (f *FakeRenderer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// LastRequest returns the most recent render request.
func (f *FakeRenderer) LastRequest() render.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

func (f *FakeRenderer) Render(_ context.Context, req render.Request) (string, error) {
	f.mu.Lock()
	f.calls++
	f.last = req
	f.mu.Unlock()
	if f.Err != nil {
		return "", f.Err
	}
	if err := os.MkdirAll(f.Dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(f.Dir, req.RunID+".mp4")
	if err := os.WriteFile(path, []byte("video"), 0o644); err != nil {
		return "", err
	}
	return path, nil
}
