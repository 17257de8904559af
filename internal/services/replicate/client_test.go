package replicate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"reelsmith/internal/services"
)

func TestGenerateWaitsAndDownloads(t *testing.T) {
	var server *httptest.Server
	var polls atomic.Int32
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/predictions":
			if r.Header.Get("Prefer") != "wait" {
				t.Errorf("expected Prefer: wait header")
			}
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["version"] != "abc123" {
				t.Errorf("expected pinned version, got %v", body["version"])
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id": "p1", "status": "processing",
				"urls": map[string]string{"get": server.URL + "/predictions/p1"},
			})
		case "/predictions/p1":
			polls.Add(1)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id": "p1", "status": "succeeded",
				"output": []string{server.URL + "/out/1.png", server.URL + "/out/2.png"},
			})
		case "/out/1.png", "/out/2.png":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte("png:" + r.URL.Path))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	client := NewClient(Config{APIToken: "tok", BaseURL: server.URL, Model: "owner/model:abc123"}, WithPollInterval(time.Millisecond))
	images, err := client.Generate(context.Background(), Input{Prompt: "a faucet", NumOutputs: 2})
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if len(images) != 2 {
		t.Fatalf("expected 2 images, got %d", len(images))
	}
	if polls.Load() != 1 {
		t.Fatalf("expected one poll, got %d", polls.Load())
	}
	if images[0].ContentType != "image/png" {
		t.Fatalf("unexpected content type %q", images[0].ContentType)
	}
}

func TestGenerateContentPolicyIsFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/owner/model/predictions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "p2", "status": "failed", "error": "NSFW content detected. Try running it again.",
		})
	}))
	defer server.Close()

	client := NewClient(Config{APIToken: "tok", BaseURL: server.URL, Model: "owner/model"})
	_, err := client.Generate(context.Background(), Input{Prompt: "x"})
	if !errors.Is(err, services.ErrFatalInput) {
		t.Fatalf("expected fatal input, got %v", err)
	}
}

func TestGenerateRateLimitIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewClient(Config{APIToken: "tok", BaseURL: server.URL, Model: "owner/model"})
	_, err := client.Generate(context.Background(), Input{Prompt: "x"})
	if !services.Retryable(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}
}

func TestOutputURLsAcceptsStringOrList(t *testing.T) {
	urls, err := outputURLs(json.RawMessage(`"https://x/1.png"`))
	if err != nil || len(urls) != 1 {
		t.Fatalf("single output: %v %v", urls, err)
	}
	urls, err = outputURLs(json.RawMessage(`["https://x/1.png",""]`))
	if err != nil || len(urls) != 1 {
		t.Fatalf("list output: %v %v", urls, err)
	}
}
