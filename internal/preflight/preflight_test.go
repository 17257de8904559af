package preflight

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"reelsmith/internal/stage"
	"reelsmith/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckFreeSpace(t *testing.T) {
	dir := t.TempDir()
	if result := CheckFreeSpace("space", dir, 1); !result.Passed {
		t.Fatalf("expected pass with 1 byte floor, got: %s", result.Detail)
	}
	result := CheckFreeSpace("space", dir, ^uint64(0))
	if result.Passed {
		t.Fatal("expected failure with an unreachable floor")
	}
	if !strings.Contains(result.Detail, "need") {
		t.Fatalf("expected shortfall detail, got %q", result.Detail)
	}
}

func TestCheckCredential(t *testing.T) {
	if result := CheckCredential("Voice API key", "", "ELEVENLABS_API_KEY"); result.Passed || !strings.Contains(result.Detail, "ELEVENLABS_API_KEY") {
		t.Fatalf("expected missing credential naming env var, got %+v", result)
	}
	if result := CheckCredential("Voice API key", "secret", "ELEVENLABS_API_KEY"); !result.Passed || strings.Contains(result.Detail, "secret") {
		t.Fatalf("unexpected credential result %+v", result)
	}
}

func TestCheckBinaries(t *testing.T) {
	testsupport.NewConfig(t, testsupport.WithStubbedBinaries("ffmpeg"))
	results := CheckBinaries(context.Background(), []Requirement{
		{Name: "FFmpeg", Command: "ffmpeg"},
		{Name: "Missing", Command: "reelsmith-definitely-missing", Optional: true},
		{Name: "Blank"},
	})
	if !results[0].Passed {
		t.Fatalf("expected stubbed ffmpeg to resolve: %s", results[0].Detail)
	}
	if results[1].Passed || !results[1].Optional {
		t.Fatalf("unexpected result for missing binary %+v", results[1])
	}
	if results[2].Passed || results[2].Detail != "command not configured" {
		t.Fatalf("unexpected result for blank command %+v", results[2])
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	if results := RunAll(context.Background(), nil); results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_StubbedEnvironmentPasses(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	results := RunAll(context.Background(), cfg)
	if len(results) != 9 {
		t.Fatalf("expected 9 results, got %d", len(results))
	}
	for _, r := range results {
		if !r.Passed && r.Name != "Output free space" {
			t.Errorf("check %q failed: %s", r.Name, r.Detail)
		}
	}
}

func TestRunAll_ReportsMissingCredential(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	cfg.Images.APIKey = ""
	failed := Failed(RunAll(context.Background(), cfg))
	found := false
	for _, r := range failed {
		if r.Name == "Images API key" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected images credential failure, got %+v", failed)
	}
}

type healthFunc func(context.Context) stage.Health

func (f healthFunc) HealthCheck(ctx context.Context) stage.Health { return f(ctx) }

func TestCheckService(t *testing.T) {
	ok := CheckService(context.Background(), "Voice", healthFunc(func(context.Context) stage.Health {
		return stage.Healthy("voice")
	}))
	if !ok.Passed || ok.Detail != "API reachable" {
		t.Fatalf("unexpected healthy result %+v", ok)
	}
	bad := CheckService(context.Background(), "Voice", healthFunc(func(context.Context) stage.Health {
		return stage.Unhealthy("voice", "401 unauthorized")
	}))
	if bad.Passed || bad.Detail != "401 unauthorized" {
		t.Fatalf("unexpected unhealthy result %+v", bad)
	}
	if missing := CheckService(context.Background(), "Voice", nil); missing.Passed {
		t.Fatal("expected failure for nil checker")
	}
}
