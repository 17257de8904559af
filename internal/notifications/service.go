package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"reelsmith/internal/config"
)

const userAgent = "reelsmith/0.1"

// Event names a run milestone.
type Event string

const (
	EventRunStarted   Event = "run_started"
	EventRunSucceeded Event = "run_succeeded"
	EventRunFailed    Event = "run_failed"
	EventTest         Event = "test"
)

// Payload carries event fields. Keys used: topic, title, output, stage,
// segment, error, duration.
type Payload map[string]any

// Service publishes run events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:  topic,
		client:    &http.Client{Timeout: timeout},
		onSuccess: cfg.Notifications.OnSuccess,
		onFailure: cfg.Notifications.OnFailure,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint  string
	client    *http.Client
	onSuccess bool
	onFailure bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, data Payload) error {
	msg, ok := n.format(event, data)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func (n *ntfyService) format(event Event, data Payload) (payload, bool) {
	switch event {
	case EventRunSucceeded:
		if !n.onSuccess {
			return payload{}, false
		}
		title := firstString(data, "title", "topic")
		message := fmt.Sprintf("🎬 Video ready: %s", title)
		if output := stringValue(data["output"]); output != "" {
			message += "\n" + output
		}
		if d, ok := data["duration"].(time.Duration); ok && d > 0 {
			message += fmt.Sprintf("\nTook %s", d.Round(time.Second))
		}
		return payload{
			title:   "reelsmith - Video Ready",
			message: message,
			tags:    []string{"reelsmith", "video", "completed"},
		}, true
	case EventRunFailed:
		if !n.onFailure {
			return payload{}, false
		}
		var b strings.Builder
		b.WriteString("❌ Run failed")
		if topic := stringValue(data["topic"]); topic != "" {
			fmt.Fprintf(&b, " for %q", topic)
		}
		if stage := stringValue(data["stage"]); stage != "" {
			b.WriteString(" at ")
			b.WriteString(stage)
			if seg, ok := data["segment"].(int); ok && seg >= 0 {
				fmt.Fprintf(&b, " segment %d", seg)
			}
		}
		if errText := stringValue(data["error"]); errText != "" {
			b.WriteString(": ")
			b.WriteString(errText)
		}
		return payload{
			title:    "reelsmith - Run Failed",
			message:  b.String(),
			tags:     []string{"reelsmith", "error", "alert"},
			priority: "high",
		}, true
	case EventTest:
		return payload{
			title:    "reelsmith - Test",
			message:  "🧪 Notification system test",
			tags:     []string{"reelsmith", "test"},
			priority: "low",
		}, true
	default:
		// run_started and unknown events are log-only.
		return payload{}, false
	}
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func stringValue(v any) string {
	switch value := v.(type) {
	case string:
		return strings.TrimSpace(value)
	case fmt.Stringer:
		return strings.TrimSpace(value.String())
	case error:
		return strings.TrimSpace(value.Error())
	default:
		return ""
	}
}

func firstString(data Payload, keys ...string) string {
	for _, key := range keys {
		if v := stringValue(data[key]); v != "" {
			return v
		}
	}
	return "untitled"
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }

// NewNoop returns a Service that drops every event.
func NewNoop() Service { return noopService{} }
