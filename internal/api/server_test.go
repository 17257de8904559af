package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"reelsmith/internal/api"
	"reelsmith/internal/config"
	"reelsmith/internal/logging"
	"reelsmith/internal/runs"
	"reelsmith/internal/testsupport"
	"reelsmith/internal/workflow"
)

type fixture struct {
	cfg    *config.Config
	ledger *runs.Store
	server *api.Server
	http   *httptest.Server
	images *testsupport.FakeImages
}

func newFixture(t *testing.T, opts ...testsupport.ConfigOption) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenArtifacts(t, cfg)
	ledger := testsupport.MustOpenLedger(t, cfg)
	images := testsupport.NewFakeImages()

	var seq atomic.Int64
	orch, err := workflow.New(cfg, store, workflow.Stages{
		Script:   testsupport.NewFakeScript("Brewing Pour Over", "heat water", "grind beans"),
		Voice:    testsupport.NewFakeVoice(),
		Images:   images,
		Renderer: testsupport.NewFakeRenderer(cfg.Paths.OutputDir),
	},
		workflow.WithLedger(ledger),
		workflow.WithLogger(logging.NewNop()),
		workflow.WithSleep(func(context.Context, time.Duration) error { return nil }),
		workflow.WithIDGenerator(func() string { return fmt.Sprintf("run-%03d", seq.Add(1)) }),
	)
	if err != nil {
		t.Fatalf("workflow.New: %v", err)
	}

	server := api.NewServer(cfg, ledger, orch, logging.NewNop())
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(func() {
		ts.Close()
		server.Shutdown(time.Second)
	})
	return &fixture{cfg: cfg, ledger: ledger, server: server, http: ts, images: images}
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var payload bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&payload).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, f.http.URL+path, &payload)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := f.http.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestHealthIsPublic(t *testing.T) {
	f := newFixture(t, testsupport.WithAPIToken("secret"))
	resp := f.do(t, http.MethodGet, "/api/health", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	health := decode[api.HealthResponse](t, resp)
	if health.Status != "healthy" || health.Version != api.Version {
		t.Fatalf("unexpected health %+v", health)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("expected request id header")
	}
}

func TestBearerTokenRequired(t *testing.T) {
	f := newFixture(t, testsupport.WithAPIToken("secret"))

	resp := f.do(t, http.MethodGet, "/api/runs", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}
	if got := decode[api.ErrorResponse](t, resp); got.Error != "unauthorized" {
		t.Fatalf("unexpected error body %+v", got)
	}

	resp = f.do(t, http.MethodGet, "/api/runs", "wrong", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", resp.StatusCode)
	}

	resp = f.do(t, http.MethodGet, "/api/runs", "secret", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", resp.StatusCode)
	}
}

func TestCreateRunRejectsBlankTopic(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodPost, "/api/runs", "", api.CreateRunRequest{Topic: "  "})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if got := decode[api.ErrorResponse](t, resp); got.Error != "missing_topic" {
		t.Fatalf("unexpected error body %+v", got)
	}
}

func TestCreateRunCompletesInBackground(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/api/runs", "", api.CreateRunRequest{Topic: "pour over coffee", Style: "casual"})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	created := decode[api.CreateRunResponse](t, resp)
	if created.RunID != "run-001" || created.URL != "/api/runs/run-001" {
		t.Fatalf("unexpected create response %+v", created)
	}

	f.server.Wait()

	resp = f.do(t, http.MethodGet, "/api/runs/run-001", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	view := decode[api.RunView](t, resp)
	if view.Status != runs.StatusSucceeded || view.Style != "casual" {
		t.Fatalf("unexpected run view %+v", view)
	}
	if view.SegmentCount != 2 || view.OutputPath == "" {
		t.Fatalf("expected finished output, got %+v", view)
	}
	if len(view.Attempts) == 0 {
		t.Fatalf("expected attempts in detail view")
	}

	resp = f.do(t, http.MethodGet, "/api/runs?status=succeeded", "", nil)
	list := decode[api.RunListResponse](t, resp)
	if len(list.Runs) != 1 || list.Runs[0].ID != "run-001" || list.Runs[0].Attempts != nil {
		t.Fatalf("unexpected list %+v", list)
	}
}

func TestFailedRunReportsStageAndSegment(t *testing.T) {
	f := newFixture(t, testsupport.WithRetry(1, 1, 1))
	f.images.FailSegment(1, fmt.Errorf("content policy"))

	resp := f.do(t, http.MethodPost, "/api/runs", "", api.CreateRunRequest{Topic: "pour over coffee"})
	created := decode[api.CreateRunResponse](t, resp)
	f.server.Wait()

	view := decode[api.RunView](t, f.do(t, http.MethodGet, "/api/runs/"+created.RunID, "", nil))
	if view.Status != runs.StatusFailed || view.FailedStage != "image" {
		t.Fatalf("unexpected failed run %+v", view)
	}
	if view.FailedSegment == nil || *view.FailedSegment != 1 {
		t.Fatalf("expected failed segment 1, got %v", view.FailedSegment)
	}
}

func TestGetRunNotFound(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodGet, "/api/runs/missing", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestListRunsRejectsBadLimit(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodGet, "/api/runs?limit=zero", "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestRunLogEndpoint(t *testing.T) {
	f := newFixture(t)
	created := decode[api.CreateRunResponse](t, f.do(t, http.MethodPost, "/api/runs", "", api.CreateRunRequest{Topic: "pour over coffee"}))
	f.server.Wait()

	resp := f.do(t, http.MethodGet, "/api/runs/"+created.RunID+"/log?limit=3", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	page := decode[api.RunLogResponse](t, resp)
	if page.RunID != created.RunID || len(page.Lines) == 0 || len(page.Lines) > 3 || page.Offset == 0 {
		t.Fatalf("unexpected log page %+v", page)
	}

	resp = f.do(t, http.MethodGet, fmt.Sprintf("/api/runs/%s/log?offset=%d", created.RunID, page.Offset), "", nil)
	if next := decode[api.RunLogResponse](t, resp); len(next.Lines) != 0 || next.Offset != page.Offset {
		t.Fatalf("expected no new lines, got %+v", next)
	}

	resp = f.do(t, http.MethodGet, "/api/runs/"+created.RunID+"/log?offset=abc", "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}
