package script

import (
	"context"
	"errors"
	"strings"
	"testing"

	"reelsmith/internal/logging"
	"reelsmith/internal/services"
	"reelsmith/internal/stage"
	"reelsmith/internal/testsupport"
)

// mockCompleter returns canned JSON and records the prompts it saw.
type mockCompleter struct {
	response string
	err      error
	calls    int
	user     string
}

func (m *mockCompleter) CompleteJSON(_ context.Context, _, userPrompt string) (string, error) {
	m.calls++
	m.user = userPrompt
	return m.response, m.err
}

func newTestWriter(t *testing.T, client completer) *Writer {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	return NewWriter(cfg, client, nil, logging.NewNop())
}

func TestWriteScriptBuildsSegments(t *testing.T) {
	client := &mockCompleter{response: "```json\n" + `{
		"title": "fixing a leaky faucet",
		"segments": [
			{"section": "hook", "text": "Drip, drip, **drip**. Sound familiar?", "estimated_seconds": 2.5},
			{"section": "intro", "text": "Today we fix it in five minutes", "estimated_seconds": 4, "visual": "a chrome faucet"}
		]
	}` + "\n```"}
	w := newTestWriter(t, client)

	script, err := w.WriteScript(context.Background(), stage.ScriptRequest{Topic: "how to fix a leaky faucet", TargetSeconds: 30, Style: "casual"})
	if err != nil {
		t.Fatalf("WriteScript: %v", err)
	}
	if script.Title != "Fixing A Leaky Faucet" {
		t.Fatalf("title = %q", script.Title)
	}
	if script.Style != "casual" {
		t.Fatalf("style = %q", script.Style)
	}
	if len(script.Segments) != 2 {
		t.Fatalf("segments = %d", len(script.Segments))
	}
	first := script.Segments[0]
	if first.Index != 0 || first.Text != "Drip, drip, drip. Sound familiar?" {
		t.Fatalf("unexpected first segment %+v", first)
	}
	if first.Visual == "" {
		t.Fatal("expected derived visual prompt")
	}
	second := script.Segments[1]
	if second.Index != 1 || second.Text != "Today we fix it in five minutes." || second.Visual != "a chrome faucet" {
		t.Fatalf("unexpected second segment %+v", second)
	}
	if !strings.Contains(client.user, "Tone: conversational and friendly") {
		t.Fatalf("prompt missing casual tone:\n%s", client.user)
	}
}

func TestWriteScriptRejectsEmptyScript(t *testing.T) {
	w := newTestWriter(t, &mockCompleter{response: `{"title": "x", "segments": []}`})
	_, err := w.WriteScript(context.Background(), stage.ScriptRequest{Topic: "anything"})
	if !errors.Is(err, services.ErrContractViolation) {
		t.Fatalf("expected contract violation, got %v", err)
	}
}

func TestWriteScriptRejectsNonPositiveEstimate(t *testing.T) {
	w := newTestWriter(t, &mockCompleter{response: `{"segments": [{"text": "hello there", "estimated_seconds": 0}]}`})
	_, err := w.WriteScript(context.Background(), stage.ScriptRequest{Topic: "anything"})
	if !errors.Is(err, services.ErrContractViolation) {
		t.Fatalf("expected contract violation, got %v", err)
	}
}

func TestWriteScriptRejectsBlankNarration(t *testing.T) {
	w := newTestWriter(t, &mockCompleter{response: `{"segments": [{"text": "  ***  ", "estimated_seconds": 3}]}`})
	_, err := w.WriteScript(context.Background(), stage.ScriptRequest{Topic: "anything"})
	if !errors.Is(err, services.ErrContractViolation) {
		t.Fatalf("expected contract violation, got %v", err)
	}
}

func TestWriteScriptMalformedJSONIsFatal(t *testing.T) {
	w := newTestWriter(t, &mockCompleter{response: "I cannot help with that"})
	_, err := w.WriteScript(context.Background(), stage.ScriptRequest{Topic: "anything"})
	if services.KindOf(err) != services.KindFatalInput {
		t.Fatalf("expected fatal input, got %v", err)
	}
}

func TestWriteScriptPassesThroughClientErrors(t *testing.T) {
	upstream := services.Wrap(services.ErrTransient, "llm", "complete", "rate limited", nil)
	client := &mockCompleter{err: upstream}
	w := newTestWriter(t, client)
	_, err := w.WriteScript(context.Background(), stage.ScriptRequest{Topic: "anything"})
	if !services.Retryable(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}
}

func TestWriteScriptRequiresTopic(t *testing.T) {
	client := &mockCompleter{}
	w := newTestWriter(t, client)
	_, err := w.WriteScript(context.Background(), stage.ScriptRequest{Topic: "   "})
	if !errors.Is(err, services.ErrFatalInput) {
		t.Fatalf("expected fatal input, got %v", err)
	}
	if client.calls != 0 {
		t.Fatalf("expected no LLM call, got %d", client.calls)
	}
}

func TestProfileChangesWithModel(t *testing.T) {
	a := newTestWriter(t, &mockCompleter{})
	b := newTestWriter(t, &mockCompleter{})
	b.model = "other/model"
	if a.Profile().String() == b.Profile().String() {
		t.Fatal("expected profile to include the model")
	}
}
