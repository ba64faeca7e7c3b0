package store_test

import (
	"context"
	"testing"
	"time"

	"gleaner/internal/store"
	"gleaner/internal/testsupport"
)

func TestEnqueueJobIsIdempotent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	iv := testsupport.NewInterview(t, st, cfg, "Call", "")

	req := store.JobRequest{InterviewID: iv.ID, IdempotencyKey: "sweep-1", ResumeFrom: "personas", SkipSteps: []string{"upload"}}
	job, created, err := st.EnqueueJob(ctx, req)
	if err != nil || !created {
		t.Fatalf("EnqueueJob failed: created=%v err=%v", created, err)
	}
	again, created, err := st.EnqueueJob(ctx, req)
	if err != nil {
		t.Fatalf("EnqueueJob repeat failed: %v", err)
	}
	if created || again.ID != job.ID {
		t.Fatalf("expected existing job %s, got %s created=%v", job.ID, again.ID, created)
	}
	if again.ResumeFrom != "personas" || len(again.SkipSteps) != 1 || again.SkipSteps[0] != "upload" {
		t.Fatalf("unexpected job: %#v", again)
	}
	stats, err := st.JobStats(ctx)
	if err != nil || stats.Pending != 1 {
		t.Fatalf("expected 1 pending job, got %#v err=%v", stats, err)
	}
}

func TestClaimCompleteAndFailJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	a := testsupport.NewInterview(t, st, cfg, "A", "")
	b := testsupport.NewInterview(t, st, cfg, "B", "")

	clock := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	st.SetClock(func() time.Time { return clock })
	if _, _, err := st.EnqueueJob(ctx, store.JobRequest{InterviewID: a.ID, IdempotencyKey: "a-1"}); err != nil {
		t.Fatalf("EnqueueJob failed: %v", err)
	}
	clock = clock.Add(time.Second)
	if _, _, err := st.EnqueueJob(ctx, store.JobRequest{InterviewID: a.ID, IdempotencyKey: "a-2"}); err != nil {
		t.Fatalf("EnqueueJob failed: %v", err)
	}
	clock = clock.Add(time.Second)
	if _, _, err := st.EnqueueJob(ctx, store.JobRequest{InterviewID: b.ID, IdempotencyKey: "b-1"}); err != nil {
		t.Fatalf("EnqueueJob failed: %v", err)
	}

	first, err := st.ClaimNextJob(ctx)
	if err != nil || first == nil {
		t.Fatalf("ClaimNextJob failed: %v %v", first, err)
	}
	if first.IdempotencyKey != "a-1" || first.Status != store.JobRunning || first.Attempts != 1 {
		t.Fatalf("unexpected first claim: %#v", first)
	}
	second, err := st.ClaimNextJob(ctx)
	if err != nil || second == nil {
		t.Fatalf("ClaimNextJob failed: %v %v", second, err)
	}
	if second.IdempotencyKey != "b-1" {
		t.Fatalf("expected interview A to be skipped while running, got %s", second.IdempotencyKey)
	}
	none, err := st.ClaimNextJob(ctx)
	if err != nil || none != nil {
		t.Fatalf("expected nothing claimable, got %#v err=%v", none, err)
	}

	if err := st.CompleteJob(ctx, first.ID); err != nil {
		t.Fatalf("CompleteJob failed: %v", err)
	}
	if err := st.FailJob(ctx, second.ID, "boom"); err != nil {
		t.Fatalf("FailJob failed: %v", err)
	}
	failed, err := st.GetJob(ctx, second.ID)
	if err != nil || failed.Status != store.JobFailed || failed.LastError != "boom" || failed.FinishedAt == nil {
		t.Fatalf("unexpected failed job: %#v err=%v", failed, err)
	}

	third, err := st.ClaimNextJob(ctx)
	if err != nil || third == nil || third.IdempotencyKey != "a-2" {
		t.Fatalf("expected a-2 claimable after a-1 finished, got %#v err=%v", third, err)
	}

	retried, err := st.RetryFailedJobs(ctx)
	if err != nil || retried != 1 {
		t.Fatalf("RetryFailedJobs: got %d err=%v", retried, err)
	}
	stats, err := st.JobStats(ctx)
	if err != nil {
		t.Fatalf("JobStats failed: %v", err)
	}
	if stats.Done != 1 || stats.Running != 1 || stats.Pending != 1 || stats.Failed != 0 {
		t.Fatalf("unexpected stats: %#v", stats)
	}
}

func TestReclaimStaleJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	iv := testsupport.NewInterview(t, st, cfg, "Call", "")

	clock := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	st.SetClock(func() time.Time { return clock })
	if _, _, err := st.EnqueueJob(ctx, store.JobRequest{InterviewID: iv.ID}); err != nil {
		t.Fatalf("EnqueueJob failed: %v", err)
	}
	job, err := st.ClaimNextJob(ctx)
	if err != nil || job == nil {
		t.Fatalf("ClaimNextJob failed: %v", err)
	}

	count, err := st.ReclaimStaleJobs(ctx, clock.Add(-time.Minute))
	if err != nil || count != 0 {
		t.Fatalf("expected fresh job to stay running, got %d err=%v", count, err)
	}
	count, err = st.ReclaimStaleJobs(ctx, clock.Add(time.Minute))
	if err != nil || count != 1 {
		t.Fatalf("expected stale job reclaimed, got %d err=%v", count, err)
	}
	reclaimed, err := st.GetJob(ctx, job.ID)
	if err != nil || reclaimed.Status != store.JobPending || reclaimed.HeartbeatAt != nil {
		t.Fatalf("unexpected reclaimed job: %#v err=%v", reclaimed, err)
	}
}
