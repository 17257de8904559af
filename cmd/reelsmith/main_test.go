package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"reelsmith/internal/config"
	"reelsmith/internal/runs"
	"reelsmith/internal/testsupport"
	"reelsmith/internal/workflow"
)

type cliEnv struct {
	cfg        *config.Config
	configPath string
	script     *testsupport.FakeScript
	voice      *testsupport.FakeVoice
	images     *testsupport.FakeImages
	renderer   *testsupport.FakeRenderer
}

func setupCLIEnv(t *testing.T, opts ...testsupport.ConfigOption) *cliEnv {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	cfg.Script.APIKey = "secret-script-key"
	configPath := filepath.Join(testsupport.BaseDir(cfg), "reelsmith.toml")
	writeTestConfig(t, configPath, cfg)
	return &cliEnv{
		cfg:        cfg,
		configPath: configPath,
		script:     testsupport.NewFakeScript("Descaling An Espresso Machine", "empty the tank", "add descaler", "rinse twice"),
		voice:      testsupport.NewFakeVoice(),
		images:     testsupport.NewFakeImages(),
		renderer:   testsupport.NewFakeRenderer(cfg.Paths.OutputDir),
	}
}

func (e *cliEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	configFlag := ""
	ctx := newCommandContext(&configFlag)
	ctx.stages = func(*config.Config, *slog.Logger) (workflow.Stages, error) {
		return workflow.Stages{Script: e.script, Voice: e.voice, Images: e.images, Renderer: e.renderer}, nil
	}
	cmd := buildRootCommand(ctx, &configFlag)
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", e.configPath}, args...))
	err := cmd.Execute()
	return stdout.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

func TestGenerateRecordsRun(t *testing.T) {
	env := setupCLIEnv(t)

	out, err := env.run(t, "generate", "--skip-preflight", "--json", "--style", "casual", "descale", "an", "espresso", "machine")
	if err != nil {
		t.Fatalf("generate: %v\n%s", err, out)
	}
	var result workflow.Result
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("decode result: %v\n%s", err, out)
	}
	if result.Status != runs.StatusSucceeded || result.Topic != "descale an espresso machine" {
		t.Fatalf("unexpected result %+v", result)
	}
	if _, err := os.Stat(result.OutputPath); err != nil {
		t.Fatalf("output missing: %v", err)
	}

	out, err = env.run(t, "runs", "list")
	if err != nil {
		t.Fatalf("runs list: %v", err)
	}
	requireContains(t, out, shortID(result.RunID))
	requireContains(t, out, "succeeded")

	out, err = env.run(t, "runs", "show", result.RunID[:8])
	if err != nil {
		t.Fatalf("runs show: %v", err)
	}
	requireContains(t, out, "casual")
	requireContains(t, out, "assembly")
	requireContains(t, out, result.OutputPath)
}

func TestGenerateFailureReportsStage(t *testing.T) {
	env := setupCLIEnv(t, testsupport.WithRetry(1, 1, 1))
	env.images.FailSegment(2, errors.New("model overloaded"))

	out, err := env.run(t, "generate", "--skip-preflight", "descale an espresso machine")
	if err == nil {
		t.Fatalf("expected generate to fail")
	}
	requireContains(t, out, "image segment 2")

	out, err = env.run(t, "runs", "list", "--status", "failed", "--json")
	if err != nil {
		t.Fatalf("runs list: %v", err)
	}
	var list []runs.Run
	if err := json.Unmarshal([]byte(out), &list); err != nil {
		t.Fatalf("decode runs: %v", err)
	}
	if len(list) != 1 || list[0].FailedStage != "image" || list[0].FailedSegment != 2 {
		t.Fatalf("unexpected failed runs %+v", list)
	}
}

func TestRunsLogPrintsRunRecords(t *testing.T) {
	env := setupCLIEnv(t)
	out, err := env.run(t, "generate", "--skip-preflight", "--json", "descale")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	var result workflow.Result
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}

	out, err = env.run(t, "runs", "log", result.RunID)
	if err != nil {
		t.Fatalf("runs log: %v", err)
	}
	requireContains(t, out, "INFO")
	requireContains(t, out, "[voice #0]")

	out, err = env.run(t, "runs", "log", "--raw", "-n", "1", result.RunID)
	if err != nil {
		t.Fatalf("runs log --raw: %v", err)
	}
	if lines := strings.Split(strings.TrimSpace(out), "\n"); len(lines) != 1 || !strings.HasPrefix(lines[0], "{") {
		t.Fatalf("expected one raw JSON line, got %q", out)
	}
}

func TestRunsListRejectsUnknownStatus(t *testing.T) {
	env := setupCLIEnv(t)
	if _, err := env.run(t, "runs", "list", "--status", "done"); err == nil {
		t.Fatalf("expected unknown status error")
	}
}

func TestRunsShowMissing(t *testing.T) {
	env := setupCLIEnv(t)
	_, err := env.run(t, "runs", "show", "nope")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCacheStatsAndPrune(t *testing.T) {
	env := setupCLIEnv(t)
	if out, err := env.run(t, "generate", "--skip-preflight", "descale"); err != nil {
		t.Fatalf("generate: %v\n%s", err, out)
	}

	out, err := env.run(t, "cache", "stats", "--json")
	if err != nil {
		t.Fatalf("cache stats: %v", err)
	}
	var stats struct {
		Entries int `json:"entries"`
	}
	if err := json.Unmarshal([]byte(out), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Entries == 0 {
		t.Fatalf("expected cached artifacts after a run")
	}

	out, err = env.run(t, "cache", "prune", "--older-than", "1h")
	if err != nil {
		t.Fatalf("cache prune: %v", err)
	}
	requireContains(t, out, "Removed 0 entries")

	time.Sleep(5 * time.Millisecond)
	out, err = env.run(t, "cache", "prune", "--older-than", "0s")
	if err != nil {
		t.Fatalf("cache prune: %v", err)
	}
	requireContains(t, out, "Removed ")
	if strings.Contains(out, "Removed 0 entries") {
		t.Fatalf("expected entries removed, got %q", out)
	}
}

func TestConfigInitAndShow(t *testing.T) {
	env := setupCLIEnv(t)

	target := filepath.Join(t.TempDir(), "nested", "config.toml")
	out, err := env.run(t, "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, target)
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("sample config missing: %v", err)
	}
	if _, err := env.run(t, "config", "init", "--path", target); err == nil {
		t.Fatalf("expected refusal to overwrite")
	}

	out, err = env.run(t, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if strings.Contains(out, "secret-script-key") {
		t.Fatalf("config show leaked a secret:\n%s", out)
	}
	requireContains(t, out, "****-key")
}

func TestDoctorOfflineListsChecks(t *testing.T) {
	env := setupCLIEnv(t, testsupport.WithStubbedBinaries())
	out, _ := env.run(t, "doctor", "--offline")
	requireContains(t, out, "[OK  ] FFmpeg")
	requireContains(t, out, "[OK  ] Script API key")
}

func TestTestNotifyDisabled(t *testing.T) {
	env := setupCLIEnv(t)
	out, err := env.run(t, "test-notify")
	if err != nil {
		t.Fatalf("test-notify: %v", err)
	}
	requireContains(t, out, "disabled")
}

func TestParseAge(t *testing.T) {
	cases := map[string]time.Duration{
		"7d":   7 * 24 * time.Hour,
		"1.5d": 36 * time.Hour,
		"12h":  12 * time.Hour,
		"0s":   0,
	}
	for input, want := range cases {
		got, err := parseAge(input)
		if err != nil || got != want {
			t.Fatalf("parseAge(%q) = %v, %v; want %v", input, got, err, want)
		}
	}
	for _, bad := range []string{"", "soon", "-1d", "-3h"} {
		if _, err := parseAge(bad); err == nil {
			t.Fatalf("parseAge(%q) should fail", bad)
		}
	}
}
