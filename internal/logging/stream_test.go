package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestStreamHandlerPublishesContextFields(t *testing.T) {
	hub := NewStreamHub(16)
	logger := slog.New(NewStreamHandler(hub, slog.LevelInfo)).
		With(String(FieldComponent, "workflow"), String(FieldInterviewID, "iv-1"))

	logger.Debug("dropped")
	logger.Info("step started", String(FieldStep, "evidence"), Int("batch", 2))

	events, seq := hub.Tail(10)
	if len(events) != 1 || seq != 1 {
		t.Fatalf("expected one event, got %d (seq %d)", len(events), seq)
	}
	evt := events[0]
	if evt.Component != "workflow" || evt.InterviewID != "iv-1" || evt.Step != "evidence" {
		t.Fatalf("unexpected event fields: %+v", evt)
	}
	if evt.Level != "INFO" || evt.Message != "step started" {
		t.Fatalf("unexpected level/message: %+v", evt)
	}
	if evt.Fields["batch"] != "2" {
		t.Fatalf("expected batch field, got %v", evt.Fields)
	}
}

func TestStreamHandlerCallSiteOverridesWith(t *testing.T) {
	hub := NewStreamHub(16)
	logger := slog.New(NewStreamHandler(hub, slog.LevelInfo)).With(String(FieldStep, "upload"))
	logger.Info("moved on", String(FieldStep, "insights"))

	events, _ := hub.Tail(1)
	if len(events) != 1 || events[0].Step != "insights" {
		t.Fatalf("expected call-site step to win, got %+v", events)
	}
}

func TestStreamHubRingDropsOldest(t *testing.T) {
	hub := NewStreamHub(3)
	for i := 0; i < 5; i++ {
		hub.Publish(LogEvent{Message: "m"})
	}
	events, seq := hub.Tail(0)
	if seq != 5 || len(events) != 3 {
		t.Fatalf("expected 3 buffered events at seq 5, got %d at %d", len(events), seq)
	}
	if events[0].Sequence != 3 {
		t.Fatalf("expected oldest kept sequence 3, got %d", events[0].Sequence)
	}

	fetched, _, err := hub.Fetch(context.Background(), 4, 10, false)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(fetched) != 1 || fetched[0].Sequence != 5 {
		t.Fatalf("expected only sequence 5, got %+v", fetched)
	}
}

func TestStreamHubFetchWaitsForEvent(t *testing.T) {
	hub := NewStreamHub(8)
	go func() {
		time.Sleep(20 * time.Millisecond)
		hub.Publish(LogEvent{Message: "late"})
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	events, _, err := hub.Fetch(ctx, 0, 10, true)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(events) != 1 || events[0].Message != "late" {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestStreamHubFetchHonorsCancel(t *testing.T) {
	hub := NewStreamHub(8)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, _, err := hub.Fetch(ctx, 0, 10, true); err == nil {
		t.Fatal("expected context error")
	}
}

func TestTeeLoggerMirrorsIntoHub(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	base := slog.New(newPrettyHandler(&buf, lvl, false))
	hub := NewStreamHub(8)

	logger := TeeLogger(base, NewStreamHandler(hub, slog.LevelWarn))
	logger.Info("console only")
	WarnWithContext(logger, "both", "test_warning")

	if out := buf.String(); !strings.Contains(out, "console only") || !strings.Contains(out, "both") {
		t.Fatalf("expected both lines on console, got %q", out)
	}
	events, _ := hub.Tail(10)
	if len(events) != 1 || events[0].Message != "both" {
		t.Fatalf("expected only the warning in the hub, got %+v", events)
	}
	if events[0].Fields[FieldEventType] != "test_warning" {
		t.Fatalf("expected event_type field, got %v", events[0].Fields)
	}
}

func TestFanoutHandlerSkipsNilAndDisabled(t *testing.T) {
	if _, ok := newFanoutHandler(nil, nil).(NoopHandler); !ok {
		t.Fatal("expected NoopHandler when every handler is nil")
	}
	var infoBuf, debugBuf bytes.Buffer
	info := slog.NewJSONHandler(&infoBuf, &slog.HandlerOptions{Level: slog.LevelInfo})
	debug := slog.NewJSONHandler(&debugBuf, &slog.HandlerOptions{Level: slog.LevelDebug})
	if newFanoutHandler(nil, info) != info {
		t.Fatal("expected a single handler to be returned unwrapped")
	}

	logger := slog.New(newFanoutHandler(info, debug)).With(String("attr", "v"))
	logger.Debug("debug only")
	if infoBuf.Len() != 0 {
		t.Fatalf("info handler received debug output: %s", infoBuf.String())
	}
	if !strings.Contains(debugBuf.String(), `"attr":"v"`) {
		t.Fatalf("expected attrs to reach the debug handler, got %s", debugBuf.String())
	}
}

func TestProgressSampler(t *testing.T) {
	s := NewProgressSampler(25)
	var emitted []int
	for _, pct := range []int{0, 5, 10, 26, 30, 49, 50, 99, 100, 100} {
		if s.ShouldLog(pct, "Extracting evidence") {
			emitted = append(emitted, pct)
		}
	}
	want := []int{0, 26, 50, 99, 100}
	if len(emitted) != len(want) {
		t.Fatalf("emitted %v, want %v", emitted, want)
	}
	for i := range want {
		if emitted[i] != want[i] {
			t.Fatalf("emitted %v, want %v", emitted, want)
		}
	}
	if !s.ShouldLog(100, "Enriching people") {
		t.Fatal("expected a detail change to log")
	}

	var nilSampler *ProgressSampler
	if !nilSampler.ShouldLog(1, "") {
		t.Fatal("nil sampler should log everything")
	}
}
