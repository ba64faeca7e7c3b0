package main

import (
	"context"
	"encoding/json"
	"testing"

	"gleaner/internal/store"
	"gleaner/internal/testsupport"
)

func TestStatusOffline(t *testing.T) {
	env := setupCLITestEnv(t)
	st := env.store(t)
	iv := testsupport.NewInterview(t, st, env.cfg, "Discovery", "SPEAKER A: hi")
	if _, _, err := st.EnqueueJob(context.Background(), store.JobRequest{InterviewID: iv.ID}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	out, err := runCLI(t, env, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "Not running (run `gleaner daemon start`)")
	requireContains(t, out, "1 pending, 0 running, 0 done, 0 failed")
	requireContains(t, out, "Local fingerprints")
	requireContains(t, out, "Discovery")
	requireContains(t, out, iv.ID)
}

func TestStatusJSON(t *testing.T) {
	env := setupCLITestEnv(t)
	st := env.store(t)
	testsupport.NewInterview(t, st, env.cfg, "First", "SPEAKER A: one")
	testsupport.NewInterview(t, st, env.cfg, "Second", "SPEAKER A: two")

	out, err := runCLI(t, env, "status", "--json", "--limit", "1")
	if err != nil {
		t.Fatalf("status --json: %v", err)
	}
	var view statusView
	if err := json.Unmarshal([]byte(out), &view); err != nil {
		t.Fatalf("decode status: %v\n%s", err, out)
	}
	if view.Daemon != nil {
		t.Fatalf("expected no daemon section offline, got %+v", view.Daemon)
	}
	if len(view.Interviews) != 1 {
		t.Fatalf("expected limit to cap interviews, got %d", len(view.Interviews))
	}
}

func TestSweepOffline(t *testing.T) {
	env := setupCLITestEnv(t)
	out, err := runCLI(t, env, "sweep")
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	requireContains(t, out, "Scanned 0 interviews, 0 eligible")
	requireContains(t, out, "Queued 0 jobs")
}

func TestTestNotifyWithoutTopic(t *testing.T) {
	env := setupCLITestEnv(t)
	out, err := runCLI(t, env, "test-notify")
	if err != nil {
		t.Fatalf("test-notify: %v", err)
	}
	requireContains(t, out, "ntfy topic not configured")
}

func TestDaemonLogsRequiresDaemon(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, err := runCLI(t, env, "daemon", "logs"); err == nil {
		t.Fatal("expected logs to fail without a daemon")
	}
}
