package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"strings"
	"testing"
)

func TestNewRunLogHandlerCollapsesMissingSides(t *testing.T) {
	if _, ok := newRunLogHandler(nil, nil).(NoopHandler); !ok {
		t.Fatal("expected NoopHandler when both sides are nil")
	}
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, nil)
	if h := newRunLogHandler(nil, inner); h != inner {
		t.Fatal("expected the run handler to be returned unwrapped")
	}
	if h := newRunLogHandler(inner, nil); h != inner {
		t.Fatal("expected the shared handler to be returned unwrapped")
	}
}

func TestRunLogHandlerRespectsEachLevel(t *testing.T) {
	var shared, run bytes.Buffer
	h := newRunLogHandler(
		slog.NewJSONHandler(&shared, &slog.HandlerOptions{Level: slog.LevelInfo}),
		slog.NewJSONHandler(&run, &slog.HandlerOptions{Level: slog.LevelDebug}),
	)
	logger := slog.New(h).With(slog.String(FieldStage, "voice"))
	logger.Debug("run file only")
	logger.Info("both sinks")

	if strings.Contains(shared.String(), "run file only") {
		t.Fatal("shared sink received a debug record")
	}
	if !strings.Contains(run.String(), "run file only") || !strings.Contains(shared.String(), "both sinks") {
		t.Fatalf("unexpected sink contents: shared=%q run=%q", shared.String(), run.String())
	}
	if !strings.Contains(shared.String(), `"stage":"voice"`) || !strings.Contains(run.String(), `"stage":"voice"`) {
		t.Fatalf("expected WithAttrs to reach both sinks: shared=%q run=%q", shared.String(), run.String())
	}
}

func TestOpenRunLoggerWritesRunFile(t *testing.T) {
	dir := t.TempDir()
	var console bytes.Buffer
	base := slog.New(slog.NewTextHandler(&console, nil))

	logger, closer, err := OpenRunLogger(base, dir, "abc", "info")
	if err != nil {
		t.Fatalf("OpenRunLogger: %v", err)
	}
	logger.InfoContext(context.Background(), "stage completed", slog.String(FieldStage, "voice"))
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(RunLogPath(dir, "abc"))
	if err != nil {
		t.Fatalf("read run log: %v", err)
	}
	var record map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &record); err != nil {
		t.Fatalf("run log is not JSON: %v (%q)", err, data)
	}
	if record["msg"] != "stage completed" || record["stage"] != "voice" {
		t.Fatalf("unexpected record %v", record)
	}
	if !strings.Contains(console.String(), "stage completed") {
		t.Fatal("expected base logger to receive the record")
	}
}
