package main

import (
	"context"
	"strings"
	"testing"

	"gleaner/internal/store"
	"gleaner/internal/testsupport"
)

func TestRunQueuesWithoutDaemon(t *testing.T) {
	env := setupCLITestEnv(t)
	st := env.store(t)
	iv := testsupport.NewInterview(t, st, env.cfg, "Pricing call", "SPEAKER A: hello")

	out, err := runCLI(t, env, "run", iv.ID, "--queue", "--from", "Personas", "--skip", "answers")
	if err != nil {
		t.Fatalf("run --queue: %v", err)
	}
	requireContains(t, out, "Queued job")
	requireContains(t, out, "Daemon not running")

	jobs, err := st.ListJobs(context.Background(), iv.ID, 10)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(jobs))
	}
	job := jobs[0]
	if job.Status != store.JobPending || job.ResumeFrom != "personas" {
		t.Fatalf("unexpected job %+v", job)
	}
	if len(job.SkipSteps) != 1 || job.SkipSteps[0] != "answers" {
		t.Fatalf("expected skip [answers], got %v", job.SkipSteps)
	}
}

func TestRunUploadsFile(t *testing.T) {
	env := setupCLITestEnv(t)
	path := writeTranscript(t, env.baseDir, "pricing-call.txt", "SPEAKER A: what does it cost?\nSPEAKER B: too much")

	out, err := runCLI(t, env, "run", "--file", path, "--queue")
	if err != nil {
		t.Fatalf("run --file: %v", err)
	}
	requireContains(t, out, "Uploaded pricing-call.txt as ")

	st := env.store(t)
	interviews, err := st.ListInterviews(context.Background(), 5)
	if err != nil {
		t.Fatalf("ListInterviews: %v", err)
	}
	if len(interviews) != 1 {
		t.Fatalf("expected 1 interview, got %d", len(interviews))
	}
	iv := interviews[0]
	if iv.Title != "pricing call" || !strings.Contains(iv.Transcript, "too much") || iv.SourcePath != path {
		t.Fatalf("unexpected interview %+v", iv)
	}
	if iv.AccountID != env.cfg.Account.ID || iv.ProjectID != env.cfg.Account.ProjectID {
		t.Fatalf("expected configured account and project, got %s/%s", iv.AccountID, iv.ProjectID)
	}
}

func TestRunArgumentValidation(t *testing.T) {
	env := setupCLITestEnv(t)
	st := env.store(t)
	iv := testsupport.NewInterview(t, st, env.cfg, "Churn", "SPEAKER A: bye")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "no target", args: []string{"run"}, want: "interview id or --file"},
		{name: "both targets", args: []string{"run", iv.ID, "--file", "x.txt"}, want: "not both"},
		{name: "unknown step", args: []string{"resume", iv.ID, "--from", "bogus"}, want: "bogus"},
		{name: "unknown skip", args: []string{"resume", iv.ID, "--skip", "nope", "--queue"}, want: "nope"},
		{name: "missing interview", args: []string{"resume", "missing", "--queue"}, want: "not found"},
		{name: "unsupported file", args: []string{"run", "--file", "notes.pdf", "--queue"}, want: "unsupported file type"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := runCLI(t, env, tc.args...)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestDaemonRetryOffline(t *testing.T) {
	env := setupCLITestEnv(t)
	st := env.store(t)
	iv := testsupport.NewInterview(t, st, env.cfg, "Retry", "SPEAKER A: again")
	ctx := context.Background()
	job, _, err := st.EnqueueJob(ctx, store.JobRequest{InterviewID: iv.ID})
	if err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if err := st.FailJob(ctx, job.ID, "llm timeout"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	out, err := runCLI(t, env, "daemon", "retry")
	if err != nil {
		t.Fatalf("daemon retry: %v", err)
	}
	requireContains(t, out, "Requeued 1 job")

	out, err = runCLI(t, env, "daemon", "retry")
	if err != nil {
		t.Fatalf("daemon retry: %v", err)
	}
	requireContains(t, out, "No failed jobs to retry")
}
