package daemon_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"gleaner/internal/daemon"
	"gleaner/internal/inbox"
	"gleaner/internal/services"
	"gleaner/internal/testsupport"
	"gleaner/internal/workflow"
)

type stubRunner struct {
	mu   sync.Mutex
	reqs []workflow.RunRequest
}

func (r *stubRunner) Run(_ context.Context, req workflow.RunRequest) (*workflow.RunResult, error) {
	r.mu.Lock()
	r.reqs = append(r.reqs, req)
	r.mu.Unlock()
	return &workflow.RunResult{RunID: req.RunID}, nil
}

func (r *stubRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reqs)
}

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	runner := &stubRunner{}
	mgr := workflow.NewManager(cfg, st, runner, nil, nil)
	d, err := daemon.New(cfg, st, mgr, nil, daemon.WithInbox(inbox.New(cfg, st, nil)))
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	status := d.Status(ctx)
	if !status.Running || !status.Workflow.Running {
		t.Fatalf("expected daemon and workflow running, got %+v", status)
	}
	if status.InboxDir != cfg.Paths.InboxDir || status.LockFilePath != cfg.LockPath() {
		t.Fatalf("unexpected paths in status: %+v", status)
	}
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	other, err := daemon.New(cfg, st, workflow.NewManager(cfg, st, runner, nil, nil), nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := other.Start(ctx); err == nil {
		other.Stop()
		t.Fatal("expected lock contention for a second daemon")
	}

	resp, err := http.Get("http://" + d.APIAddress() + "/api/status")
	if err != nil {
		t.Fatalf("GET /api/status: %v", err)
	}
	defer resp.Body.Close()
	var payload daemon.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !payload.Running || payload.Database != st.Path() {
		t.Fatalf("unexpected status payload: %+v", payload)
	}

	d.Stop()
	if d.Running() || d.Status(ctx).Running {
		t.Fatal("expected daemon to be stopped")
	}
}

func TestDaemonWorkersDrainSubmittedJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	iv := testsupport.NewInterview(t, st, cfg, "Onboarding call", "SPEAKER A: hello")
	runner := &stubRunner{}
	d, err := daemon.New(cfg, st, workflow.NewManager(cfg, st, runner, nil, nil), nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	job, created, err := d.Enqueue(ctx, daemon.Submission{InterviewID: iv.ID, ResumeFrom: "Personas"})
	if err != nil || !created {
		t.Fatalf("Enqueue: created=%v err=%v", created, err)
	}
	if job.ResumeFrom != "personas" {
		t.Fatalf("expected normalized resume step, got %q", job.ResumeFrom)
	}

	deadline := time.Now().Add(5 * time.Second)
	for runner.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if runner.count() == 0 {
		t.Fatal("expected the worker to run the submitted job")
	}
	if got := runner.reqs[0].ResumeFrom; got != workflow.StepPersonas {
		t.Fatalf("expected resume from personas, got %q", got)
	}
}

func TestEnqueueValidation(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	iv := testsupport.NewInterview(t, st, cfg, "Call", "SPEAKER A: hi")
	d, err := daemon.New(cfg, st, workflow.NewManager(cfg, st, &stubRunner{}, nil, nil), nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	ctx := context.Background()

	cases := []struct {
		name string
		sub  daemon.Submission
		want error
	}{
		{"missing id", daemon.Submission{}, services.ErrValidation},
		{"unknown interview", daemon.Submission{InterviewID: "nope"}, services.ErrNotFound},
		{"bad resume step", daemon.Submission{InterviewID: iv.ID, ResumeFrom: "render"}, services.ErrValidation},
		{"bad skip step", daemon.Submission{InterviewID: iv.ID, SkipSteps: []string{"encode"}}, services.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := d.Enqueue(ctx, tc.sub); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	first, created, err := d.Enqueue(ctx, daemon.Submission{InterviewID: iv.ID, IdempotencyKey: "k1"})
	if err != nil || !created {
		t.Fatalf("first enqueue: created=%v err=%v", created, err)
	}
	again, created, err := d.Enqueue(ctx, daemon.Submission{InterviewID: iv.ID, IdempotencyKey: "k1"})
	if err != nil || created || again.ID != first.ID {
		t.Fatalf("expected idempotent enqueue, got created=%v id=%s err=%v", created, again.ID, err)
	}
}

func TestSweepRequiresScheduler(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	d, err := daemon.New(cfg, st, workflow.NewManager(cfg, st, &stubRunner{}, nil, nil), nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if _, err := d.Sweep(context.Background()); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
