package ffprobe

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
)

func TestResultHelpers(t *testing.T) {
	result := Result{
		Streams: []Stream{
			{CodecType: "video"},
			{CodecType: "audio"},
			{CodecType: "audio"},
		},
		Format: Format{
			Duration: "123.45",
			Size:     "1000",
		},
	}
	if result.StreamCount("video") != 1 {
		t.Fatalf("expected 1 video stream, got %d", result.StreamCount("video"))
	}
	if result.StreamCount("audio") != 2 {
		t.Fatalf("expected 2 audio streams, got %d", result.StreamCount("audio"))
	}
	if result.DurationSeconds() != 123.45 {
		t.Fatalf("unexpected duration: %v", result.DurationSeconds())
	}
	if result.SizeBytes() != 1000 {
		t.Fatalf("unexpected size: %d", result.SizeBytes())
	}
}

func TestResultHelpersHandleInvalidNumbers(t *testing.T) {
	result := Result{
		Format: Format{
			Duration: "bad",
			Size:     "-1",
		},
	}
	if !math.IsNaN(result.DurationSeconds()) {
		t.Fatalf("expected duration NaN, got %v", result.DurationSeconds())
	}
	if result.SizeBytes() != 0 {
		t.Fatalf("expected size 0, got %d", result.SizeBytes())
	}
	if _, err := result.PositiveDuration(); err == nil {
		t.Fatal("expected error for NaN duration")
	}
}

func TestDurationFallsBackToStreams(t *testing.T) {
	result := Result{Streams: []Stream{{Duration: "2.5"}, {Duration: "3.25"}}}
	d, err := result.PositiveDuration()
	if err != nil || d != 3.25 {
		t.Fatalf("PositiveDuration = %v, %v", d, err)
	}
}

func TestInspectBytesUsesRunner(t *testing.T) {
	var gotArgs []string
	run := func(_ context.Context, binary string, args ...string) ([]byte, error) {
		if binary != "ffprobe" {
			t.Fatalf("binary = %s", binary)
		}
		gotArgs = args
		return []byte(`{"streams":[{"codec_type":"audio"}],"format":{"duration":"4.200"}}`), nil
	}
	result, err := InspectBytes(context.Background(), run, "", []byte("fake"), ".mp3")
	if err != nil {
		t.Fatalf("InspectBytes: %v", err)
	}
	if result.DurationSeconds() != 4.2 {
		t.Fatalf("duration = %v", result.DurationSeconds())
	}
	if last := gotArgs[len(gotArgs)-1]; !strings.HasSuffix(last, ".mp3") {
		t.Fatalf("expected temp file with .mp3 suffix, got %s", last)
	}
}

func TestInspectPropagatesRunnerError(t *testing.T) {
	run := func(context.Context, string, ...string) ([]byte, error) {
		return nil, errors.New("boom")
	}
	if _, err := InspectWith(context.Background(), run, "ffprobe", "/tmp/x.mp3"); err == nil {
		t.Fatal("expected error")
	}
}
