package render_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"reelsmith/internal/logging"
	"reelsmith/internal/render"
	"reelsmith/internal/services"
	"reelsmith/internal/stage"
	"reelsmith/internal/testsupport"
	"reelsmith/internal/timeline"
)

// fakeExecutor records ffmpeg invocations and writes the output file named
// by the last argument.
type fakeExecutor struct {
	mu    sync.Mutex
	calls [][]string
	lists map[string]string
	fail  string
}

func (f *fakeExecutor) Run(_ context.Context, _ string, args []string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, args)
	output := args[len(args)-1]
	if f.fail != "" && strings.HasSuffix(output, f.fail) {
		return []byte("Invalid data found when processing input"), errors.New("exit status 1")
	}
	for i, a := range args {
		if a == "-i" && strings.HasSuffix(args[i+1], ".txt") {
			data, err := os.ReadFile(args[i+1])
			if err != nil {
				return nil, err
			}
			if f.lists == nil {
				f.lists = make(map[string]string)
			}
			f.lists[filepath.Base(args[i+1])] = string(data)
		}
	}
	return nil, os.WriteFile(output, []byte("media"), 0o644)
}

func probeReturning(body string) func(context.Context, string, ...string) ([]byte, error) {
	return func(context.Context, string, ...string) ([]byte, error) {
		return []byte(body), nil
	}
}

func sampleTimeline(t *testing.T) timeline.Timeline {
	t.Helper()
	segments := []stage.Segment{
		{Index: 0, Text: "Turn off the water.", EstimatedSeconds: 2},
		{Index: 1, Text: "Remove the handle.", EstimatedSeconds: 3},
	}
	clips := []stage.AudioClip{
		{SegmentIndex: 0, Format: "mp3", Data: []byte("a0"), DurationSeconds: 2},
		{SegmentIndex: 1, Format: "mp3", Data: []byte("a1"), DurationSeconds: 3},
	}
	images := [][]stage.ImageAsset{
		{{SegmentIndex: 0, Ordinal: 0, Format: "png", Data: []byte("i0")}},
		{{SegmentIndex: 1, Ordinal: 0, Format: "png", Data: []byte("i1")}, {SegmentIndex: 1, Ordinal: 1, Format: "png", Data: []byte("i2")}},
	}
	tl, err := timeline.Build(segments, clips, images)
	if err != nil {
		t.Fatalf("timeline.Build: %v", err)
	}
	return tl
}

func TestRenderProducesOutput(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Render.BurnCaptions = true
	exec := &fakeExecutor{}
	a := render.NewAssembler(cfg, logging.NewNop(),
		render.WithExecutor(exec),
		render.WithProbeRunner(probeReturning(`{"streams":[{"codec_type":"video"},{"codec_type":"audio"}],"format":{"duration":"5.02"}}`)),
	)

	out, err := a.Render(context.Background(), render.Request{RunID: "0123456789", Title: "Fix A Faucet", Topic: "Fix a faucet", Timeline: sampleTimeline(t)})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if out != filepath.Join(cfg.Paths.OutputDir, "fix-a-faucet.mp4") {
		t.Fatalf("output = %s", out)
	}
	if _, err := os.Stat(out); err != nil {
		t.Fatalf("stat output: %v", err)
	}
	if len(exec.calls) != 2 {
		t.Fatalf("ffmpeg calls = %d", len(exec.calls))
	}
	images := exec.lists["images.txt"]
	if strings.Count(images, "duration ") != 3 || !strings.Contains(images, "duration 1.500000") {
		t.Fatalf("unexpected image list:\n%s", images)
	}
	if strings.Count(exec.lists["narration.txt"], "file ") != 2 {
		t.Fatalf("unexpected narration list:\n%s", exec.lists["narration.txt"])
	}
	encode := strings.Join(exec.calls[1], " ")
	for _, want := range []string{"subtitles=", "drawtext=", "fps=24", "scale=1280:720"} {
		if !strings.Contains(encode, want) {
			t.Fatalf("encode args missing %q: %s", want, encode)
		}
	}

	// A second render of the same topic must not clobber the first.
	second, err := a.Render(context.Background(), render.Request{RunID: "abcdef012345", Topic: "Fix a faucet", Timeline: sampleTimeline(t)})
	if err != nil {
		t.Fatalf("second Render: %v", err)
	}
	if filepath.Base(second) != "fix-a-faucet-abcdef01.mp4" {
		t.Fatalf("second output = %s", second)
	}
}

func TestRenderFailureIsRenderingError(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	a := render.NewAssembler(cfg, logging.NewNop(), render.WithExecutor(&fakeExecutor{fail: "video.mp4"}))
	_, err := a.Render(context.Background(), render.Request{RunID: "r1", Topic: "x", Timeline: sampleTimeline(t)})
	if !errors.Is(err, services.ErrRendering) {
		t.Fatalf("expected rendering error, got %v", err)
	}
	if services.Retryable(err) {
		t.Fatal("rendering failures must not be retryable")
	}
}

func TestRenderRejectsDurationMismatch(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	a := render.NewAssembler(cfg, logging.NewNop(),
		render.WithExecutor(&fakeExecutor{}),
		render.WithProbeRunner(probeReturning(`{"streams":[{"codec_type":"video"},{"codec_type":"audio"}],"format":{"duration":"2.0"}}`)),
	)
	_, err := a.Render(context.Background(), render.Request{RunID: "r1", Topic: "x", Timeline: sampleTimeline(t)})
	if !errors.Is(err, services.ErrRendering) {
		t.Fatalf("expected rendering error, got %v", err)
	}
}

func TestRenderRejectsBrokenTimeline(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	exec := &fakeExecutor{}
	a := render.NewAssembler(cfg, logging.NewNop(), render.WithExecutor(exec))
	_, err := a.Render(context.Background(), render.Request{RunID: "r1", Timeline: timeline.Timeline{}})
	if !errors.Is(err, services.ErrContractViolation) {
		t.Fatalf("expected contract violation, got %v", err)
	}
	if len(exec.calls) != 0 {
		t.Fatal("ffmpeg should not run for an invalid timeline")
	}
}
