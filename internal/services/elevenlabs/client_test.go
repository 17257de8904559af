package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"reelsmith/internal/services"
)

func TestSynthesizeReturnsAudioAndDuration(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/text-to-speech/voice-1/with-timestamps") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("xi-api-key") != "key" {
			t.Errorf("missing api key header")
		}
		var req ttsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Text != "Turn off the water." {
			t.Errorf("unexpected text %q", req.Text)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"audio_base64": base64.StdEncoding.EncodeToString([]byte("ID3audio")),
			"alignment": map[string]any{
				"characters":                    []string{"T", "."},
				"character_start_times_seconds": []float64{0, 2.1},
				"character_end_times_seconds":   []float64{0.1, 2.35},
			},
		})
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "key", BaseURL: server.URL, VoiceID: "voice-1"})
	speech, err := client.Synthesize(context.Background(), "Turn off the water.", "")
	if err != nil {
		t.Fatalf("Synthesize returned error: %v", err)
	}
	if string(speech.Audio) != "ID3audio" {
		t.Fatalf("unexpected audio %q", speech.Audio)
	}
	if speech.DurationSeconds != 2.35 {
		t.Fatalf("expected duration 2.35, got %v", speech.DurationSeconds)
	}
	if speech.Format != "mp3" {
		t.Fatalf("expected mp3 format, got %q", speech.Format)
	}
}

func TestSynthesizeClassifiesQuota(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"detail":{"status":"quota_exceeded"}}`))
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "key", BaseURL: server.URL, VoiceID: "voice-1"})
	_, err := client.Synthesize(context.Background(), "hello", "")
	if !errors.Is(err, services.ErrFatalInput) {
		t.Fatalf("expected fatal input for quota, got %v", err)
	}
}

func TestSynthesizeServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "key", BaseURL: server.URL, VoiceID: "voice-1"})
	_, err := client.Synthesize(context.Background(), "hello", "")
	if !services.Retryable(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}
	if services.RetryAfterHint(err) == 0 {
		t.Fatal("expected retry-after hint")
	}
}

func TestSynthesizeRequiresVoice(t *testing.T) {
	client := NewClient(Config{APIKey: "key"})
	if _, err := client.Synthesize(context.Background(), "hello", ""); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
