package daemonctl_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"gleaner/internal/daemon"
	"gleaner/internal/daemonctl"
	"gleaner/internal/testsupport"
	"gleaner/internal/workflow"
)

type nopRunner struct{}

func (nopRunner) Run(_ context.Context, req workflow.RunRequest) (*workflow.RunResult, error) {
	return &workflow.RunResult{RunID: req.RunID}, nil
}

func TestClientAgainstRunningDaemon(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.API.Token = "tok"
	st := testsupport.MustOpenStore(t, cfg)
	d, err := daemon.New(cfg, st, workflow.NewManager(cfg, st, nopRunner{}, nil, nil), nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	clientCfg := *cfg
	clientCfg.API.Bind = d.APIAddress()
	client, err := daemonctl.NewClient(&clientCfg)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	status, err := client.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.Running || status.Database != cfg.DatabasePath() {
		t.Fatalf("unexpected status %+v", status)
	}

	iv := testsupport.NewInterview(t, st, cfg, "Onboarding", "SPEAKER A: hello")
	submitted, err := client.Submit(ctx, daemon.SubmitRequest{InterviewID: iv.ID, ResumeFrom: "answers"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !submitted.Created || submitted.Job.ResumeFrom != "answers" {
		t.Fatalf("unexpected submit response %+v", submitted)
	}
	jobs, err := client.Jobs(ctx, iv.ID, 10)
	if err != nil {
		t.Fatalf("Jobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != submitted.Job.ID {
		t.Fatalf("unexpected jobs %+v", jobs)
	}

	_, err = client.Submit(ctx, daemon.SubmitRequest{InterviewID: "missing"})
	var apiErr *daemonctl.APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound {
		t.Fatalf("expected 404 api error, got %v", err)
	}

	_, err = client.Sweep(ctx)
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusConflict {
		t.Fatalf("expected 409 without scheduler, got %v", err)
	}

	notify, err := client.NotifyTest(ctx)
	if err != nil {
		t.Fatalf("NotifyTest: %v", err)
	}
	if notify.Sent {
		t.Fatalf("expected no notification without a topic, got %+v", notify)
	}

	logs, err := client.Logs(ctx, daemonctl.LogQuery{Tail: true, Limit: 5})
	if err != nil {
		t.Fatalf("Logs: %v", err)
	}
	if len(logs.Events) != 0 {
		t.Fatalf("expected no events without a hub, got %d", len(logs.Events))
	}
}

func TestClientRejectsWrongToken(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.API.Token = "right"
	st := testsupport.MustOpenStore(t, cfg)
	d, err := daemon.New(cfg, st, workflow.NewManager(cfg, st, nopRunner{}, nil, nil), nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	clientCfg := *cfg
	clientCfg.API.Bind = d.APIAddress()
	clientCfg.API.Token = "wrong"
	client, err := daemonctl.NewClient(&clientCfg)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	_, err = client.Status(context.Background())
	var apiErr *daemonctl.APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestNewClientRequiresBind(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.API.Bind = ""
	if _, err := daemonctl.NewClient(cfg); !errors.Is(err, daemonctl.ErrAPIDisabled) {
		t.Fatalf("expected ErrAPIDisabled, got %v", err)
	}
}

func TestClientReportsUnreachableDaemon(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.API.Bind = "127.0.0.1:1"
	client, err := daemonctl.NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, err := client.Status(context.Background()); !errors.Is(err, daemonctl.ErrDaemonNotRunning) {
		t.Fatalf("expected ErrDaemonNotRunning, got %v", err)
	}
}

func TestStopWithoutPIDFile(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if _, _, err := daemonctl.Stop(context.Background(), cfg, 0); !errors.Is(err, daemonctl.ErrDaemonNotRunning) {
		t.Fatalf("expected ErrDaemonNotRunning, got %v", err)
	}
}
