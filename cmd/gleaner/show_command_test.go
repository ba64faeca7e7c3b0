package main

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"gleaner/internal/store"
	"gleaner/internal/testsupport"
	"gleaner/internal/workflow"
)

func TestShowNewInterview(t *testing.T) {
	env := setupCLITestEnv(t)
	st := env.store(t)
	iv := testsupport.NewInterview(t, st, env.cfg, "Onboarding call", "SPEAKER A: hi")
	if _, _, err := st.EnqueueJob(context.Background(), store.JobRequest{InterviewID: iv.ID, ResumeFrom: "answers"}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	out, err := runCLI(t, env, "show", iv.ID)
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	requireContains(t, out, "== Onboarding call ==")
	requireContains(t, out, "Next run")
	requireContains(t, out, "enrich-person")
	requireContains(t, out, "0 units")
	requireContains(t, out, "Jobs")
	requireContains(t, out, "answers")
}

func TestShowJSONPlansEveryStep(t *testing.T) {
	env := setupCLITestEnv(t)
	st := env.store(t)
	iv := testsupport.NewInterview(t, st, env.cfg, "Renewal", "SPEAKER A: renew")

	out, err := runCLI(t, env, "show", iv.ID, "--json")
	if err != nil {
		t.Fatalf("show --json: %v", err)
	}
	var view showView
	if err := json.Unmarshal([]byte(out), &view); err != nil {
		t.Fatalf("decode show output: %v\n%s", err, out)
	}
	if view.ID != iv.ID || view.Evidence != 0 || len(view.CompletedSteps) != 0 {
		t.Fatalf("unexpected view %+v", view)
	}
	if len(view.NextRun) != len(workflow.Order) {
		t.Fatalf("expected %d planned steps, got %d", len(workflow.Order), len(view.NextRun))
	}
	for _, p := range view.NextRun {
		if p.Action != workflow.ActionRun {
			t.Fatalf("expected every step to run for a new interview, got %+v", p)
		}
	}
}

func TestShowMissingInterview(t *testing.T) {
	env := setupCLITestEnv(t)
	_, err := runCLI(t, env, "show", "missing")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestJobsListing(t *testing.T) {
	env := setupCLITestEnv(t)
	out, err := runCLI(t, env, "jobs")
	if err != nil {
		t.Fatalf("jobs: %v", err)
	}
	requireContains(t, out, "No jobs")

	st := env.store(t)
	iv := testsupport.NewInterview(t, st, env.cfg, "Listing", "SPEAKER A: list")
	job, _, err := st.EnqueueJob(context.Background(), store.JobRequest{InterviewID: iv.ID})
	if err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	out, err = runCLI(t, env, "jobs", "--interview", iv.ID)
	if err != nil {
		t.Fatalf("jobs: %v", err)
	}
	requireContains(t, out, job.ID)
	requireContains(t, out, "pending")
}

func TestParityCleanInterview(t *testing.T) {
	env := setupCLITestEnv(t)
	st := env.store(t)
	iv := testsupport.NewInterview(t, st, env.cfg, "Parity", "SPEAKER A: check")

	out, err := runCLI(t, env, "parity", iv.ID)
	if err != nil {
		t.Fatalf("parity: %v", err)
	}
	requireContains(t, out, "[OK] 0 facet mentions consistent")

	if _, err := runCLI(t, env, "parity", "missing"); err == nil {
		t.Fatal("expected parity on a missing interview to fail")
	}
}
