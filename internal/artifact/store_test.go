package artifact_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"reelsmith/internal/artifact"
	"reelsmith/internal/services"
)

func openStore(t *testing.T, opts ...artifact.Option) *artifact.Store {
	t.Helper()
	store, err := artifact.Open(t.TempDir(), opts...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return store
}

func mustKey(t *testing.T, stage string, params any) artifact.Key {
	t.Helper()
	key, err := artifact.Fingerprint(stage, params)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	return key
}

func TestFingerprintIsDeterministic(t *testing.T) {
	type voiceParams struct {
		Text  string `json:"text"`
		Voice string `json:"voice"`
	}
	a := mustKey(t, "voice", voiceParams{Text: "hello", Voice: "v1"})
	b := mustKey(t, "voice", voiceParams{Text: "hello", Voice: "v1"})
	c := mustKey(t, "voice", voiceParams{Text: "hello", Voice: "v2"})
	d := mustKey(t, "image", voiceParams{Text: "hello", Voice: "v1"})
	if a != b {
		t.Fatal("identical inputs produced different keys")
	}
	if a == c || a == d {
		t.Fatal("distinct inputs produced the same key")
	}
	seg0, _ := artifact.SegmentFingerprint("voice", voiceParams{Text: "hello"}, 0)
	seg1, _ := artifact.SegmentFingerprint("voice", voiceParams{Text: "hello"}, 1)
	if seg0 == seg1 {
		t.Fatal("segment index must change the key")
	}
	if !a.Valid() || len(a.Short()) != 12 {
		t.Fatalf("unexpected key shape %q", a)
	}
}

func TestPutGetIdempotentAndCollision(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	key := mustKey(t, "script", map[string]string{"topic": "faucets"})

	if _, ok, err := store.Get(ctx, key); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
	if err := store.Put(ctx, key, "script", []byte("v1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Put(ctx, key, "script", []byte("v1")); err != nil {
		t.Fatalf("second equal Put should be a no-op, got %v", err)
	}
	err := store.Put(ctx, key, "script", []byte("v2"))
	if !errors.Is(err, artifact.ErrCollision) {
		t.Fatalf("expected collision, got %v", err)
	}
	if services.KindOf(err) != services.KindContractViolation {
		t.Fatalf("collision should be a contract violation, got %s", services.KindOf(err))
	}
	data, ok, err := store.Get(ctx, key)
	if err != nil || !ok || string(data) != "v1" {
		t.Fatalf("entry must be untouched after collision: %q %v %v", data, ok, err)
	}
	meta, ok, err := store.Meta(key)
	if err != nil || !ok || meta.Stage != "script" || meta.SizeBytes != 2 {
		t.Fatalf("unexpected meta %+v ok=%v err=%v", meta, ok, err)
	}
}

func TestDoGeneratesOncePerKeyUnderConcurrency(t *testing.T) {
	store := openStore(t)
	key := mustKey(t, "voice", map[string]string{"text": "same narration"})
	var calls atomic.Int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	results := make([][]byte, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			data, _, err := store.Do(context.Background(), key, "voice", func(context.Context) ([]byte, error) {
				calls.Add(1)
				<-release
				return []byte("clip"), nil
			})
			if err != nil {
				t.Errorf("Do: %v", err)
			}
			results[i] = data
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Fatalf("expected exactly one generation, got %d", calls.Load())
	}
	for i, data := range results {
		if string(data) != "clip" {
			t.Fatalf("caller %d got %q", i, data)
		}
	}

	_, hit, err := store.Do(context.Background(), key, "voice", func(context.Context) ([]byte, error) {
		t.Fatal("generate must not run on a cached key")
		return nil, nil
	})
	if err != nil || !hit {
		t.Fatalf("expected cache hit, got hit=%v err=%v", hit, err)
	}
}

func TestDoDoesNotCacheFailures(t *testing.T) {
	store := openStore(t)
	key := mustKey(t, "image", map[string]string{"prompt": "x"})
	boom := services.Wrap(services.ErrFatalInput, "image", "predict", "rejected", nil)
	if _, _, err := store.Do(context.Background(), key, "image", func(context.Context) ([]byte, error) {
		return nil, boom
	}); !errors.Is(err, services.ErrFatalInput) {
		t.Fatalf("expected generator error, got %v", err)
	}
	if store.Has(key) {
		t.Fatal("failed generation must not be cached")
	}
}

func TestDoJSONRoundTrip(t *testing.T) {
	type clip struct {
		Duration float64 `json:"duration"`
	}
	store := openStore(t)
	key := mustKey(t, "voice", "text")
	got, hit, err := artifact.DoJSON(context.Background(), store, key, "voice", func(context.Context) (clip, error) {
		return clip{Duration: 2.5}, nil
	})
	if err != nil || hit || got.Duration != 2.5 {
		t.Fatalf("unexpected first call: %+v hit=%v err=%v", got, hit, err)
	}
	var decoded clip
	if ok, err := store.GetJSON(context.Background(), key, &decoded); err != nil || !ok || decoded.Duration != 2.5 {
		t.Fatalf("GetJSON: %+v ok=%v err=%v", decoded, ok, err)
	}
}

func TestOverwriteReplacesRunState(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	key := mustKey(t, "run_state", "fingerprint")
	if err := store.Overwrite(ctx, key, "run_state", map[string]string{"status": "running"}); err != nil {
		t.Fatalf("Overwrite: %v", err)
	}
	if err := store.Overwrite(ctx, key, "run_state", map[string]string{"status": "failed"}); err != nil {
		t.Fatalf("Overwrite: %v", err)
	}
	var state map[string]string
	if ok, err := store.GetJSON(ctx, key, &state); err != nil || !ok || state["status"] != "failed" {
		t.Fatalf("unexpected state %v ok=%v err=%v", state, ok, err)
	}
}

func TestStatsAndPrune(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	store := openStore(t, artifact.WithClock(clock))
	ctx := context.Background()

	oldKey := mustKey(t, "voice", "old")
	if err := store.Put(ctx, oldKey, "voice", []byte("aaaa")); err != nil {
		t.Fatal(err)
	}
	now = now.Add(48 * time.Hour)
	newKey := mustKey(t, "image", "new")
	if err := store.Put(ctx, newKey, "image", []byte("bb")); err != nil {
		t.Fatal(err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Entries != 2 || stats.TotalBytes != 6 || len(stats.Stages) != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	result, err := store.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if result.Removed != 1 || result.FreedBytes != 4 {
		t.Fatalf("unexpected prune result %+v", result)
	}
	if store.Has(oldKey) || !store.Has(newKey) {
		t.Fatal("prune removed the wrong entry")
	}
}
