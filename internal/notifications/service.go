package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"gleaner/internal/config"
)

const userAgent = "Gleaner/0.1.0"

// Event identifies a notification kind.
type Event string

const (
	EventRunCompleted   Event = "run_completed"
	EventRunFailed      Event = "run_failed"
	EventSweepCompleted Event = "sweep_completed"
	EventTest           Event = "test"
)

// Payload carries event fields. Recognized keys: title, interviewId,
// evidenceCount, step, error, enqueued.
type Payload map[string]any

// Service publishes pipeline events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds an ntfy-backed service, or a no-op when no topic is set.
func NewService(cfg *config.Config) Service {
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
		completed: cfg.Notifications.Completed,
		errors:    cfg.Notifications.Errors,
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint  string
	client    *http.Client
	completed bool
	errors    bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	msg, ok := n.format(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func (n *ntfyService) format(event Event, payload Payload) (message, bool) {
	title := payload.str("title")
	if title == "" {
		title = payload.str("interviewId")
	}
	switch event {
	case EventRunCompleted:
		if !n.completed {
			return message{}, false
		}
		body := "Interview processed: " + title
		if count, ok := payload["evidenceCount"]; ok {
			body += fmt.Sprintf("\nEvidence: %v", count)
		}
		return message{
			title: "Gleaner - Interview Ready",
			body:  body,
			tags:  []string{"gleaner", "interview", "completed"},
		}, true
	case EventRunFailed:
		if !n.errors {
			return message{}, false
		}
		step := payload.str("step")
		if step == "" {
			step = "unknown step"
		}
		return message{
			title:    "Gleaner - Processing Failed",
			body:     fmt.Sprintf("Failed during %s: %s\n%s", step, title, payload.str("error")),
			tags:     []string{"gleaner", "error", "alert"},
			priority: "high",
		}, true
	case EventSweepCompleted:
		if !n.completed {
			return message{}, false
		}
		return message{
			title:    "Gleaner - Deferred Batch",
			body:     fmt.Sprintf("Queued deferred steps for %v interviews", payload["enqueued"]),
			tags:     []string{"gleaner", "scheduler"},
			priority: "low",
		}, true
	case EventTest:
		return message{
			title: "Gleaner - Test",
			body:  "Test notification from Gleaner",
			tags:  []string{"gleaner", "test"},
		}, true
	default:
		return message{}, false
	}
}

func (n *ntfyService) send(ctx context.Context, data message) error {
	if n.endpoint == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.body))
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

func (p Payload) str(key string) string {
	if p == nil {
		return ""
	}
	switch v := p[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
