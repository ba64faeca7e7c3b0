package store_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"gleaner/internal/testsupport"
)

func TestMergeWorkflowStatePreservesOmittedFields(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	iv := testsupport.NewInterview(t, st, cfg, "Call", "")

	if _, ok, err := st.LoadWorkflowState(ctx, iv.ID); err != nil || ok {
		t.Fatalf("expected no state yet: ok=%v err=%v", ok, err)
	}

	if err := st.MergeWorkflowState(ctx, iv.ID, json.RawMessage(`{"current_step":"evidence","evidence_ids":["a","b"]}`)); err != nil {
		t.Fatalf("MergeWorkflowState failed: %v", err)
	}
	if err := st.MergeWorkflowState(ctx, iv.ID, json.RawMessage(`{"current_step":"insights"}`)); err != nil {
		t.Fatalf("MergeWorkflowState partial failed: %v", err)
	}

	raw, ok, err := st.LoadWorkflowState(ctx, iv.ID)
	if err != nil || !ok {
		t.Fatalf("LoadWorkflowState failed: ok=%v err=%v", ok, err)
	}
	var state map[string]any
	if err := json.Unmarshal(raw, &state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if state["current_step"] != "insights" {
		t.Fatalf("expected current_step insights, got %v", state["current_step"])
	}
	ids, _ := state["evidence_ids"].([]any)
	if len(ids) != 2 {
		t.Fatalf("expected evidence_ids preserved, got %v", state["evidence_ids"])
	}
}

func TestMergeAnalysisIsIdempotent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	iv := testsupport.NewInterview(t, st, cfg, "Call", "")

	clock := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	st.SetClock(func() time.Time { return clock })

	patch := map[string]any{
		"current_step":    "evidence",
		"progress":        30,
		"completed_steps": []string{"upload"},
		"workflow_state":  map[string]any{"current_step": "evidence"},
	}
	if err := st.MergeAnalysis(ctx, iv.ID, patch); err != nil {
		t.Fatalf("MergeAnalysis failed: %v", err)
	}
	first, err := st.GetInterview(ctx, iv.ID)
	if err != nil {
		t.Fatalf("GetInterview failed: %v", err)
	}

	clock = clock.Add(time.Hour)
	if err := st.MergeAnalysis(ctx, iv.ID, patch); err != nil {
		t.Fatalf("MergeAnalysis repeat failed: %v", err)
	}
	second, err := st.GetInterview(ctx, iv.ID)
	if err != nil {
		t.Fatalf("GetInterview failed: %v", err)
	}
	if !second.UpdatedAt.Equal(first.UpdatedAt) {
		t.Fatalf("expected identical merge to skip the write, updated_at moved from %s to %s", first.UpdatedAt, second.UpdatedAt)
	}

	analysis, ok, err := st.GetAnalysis(ctx, iv.ID)
	if err != nil || !ok {
		t.Fatalf("GetAnalysis failed: ok=%v err=%v", ok, err)
	}
	if analysis.CurrentStep != "evidence" || analysis.Progress != 30 || len(analysis.CompletedSteps) != 1 {
		t.Fatalf("unexpected analysis: %#v", analysis)
	}

	if err := st.MergeAnalysis(ctx, iv.ID, map[string]any{"progress": 85}); err != nil {
		t.Fatalf("MergeAnalysis progress failed: %v", err)
	}
	analysis, _, _ = st.GetAnalysis(ctx, iv.ID)
	if analysis.Progress != 85 || analysis.CurrentStep != "evidence" {
		t.Fatalf("expected progress update to keep current_step, got %#v", analysis)
	}
}

func TestProcessingMetadataMerge(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	iv := testsupport.NewInterview(t, st, cfg, "Call", "")

	if err := st.MergeProcessingMetadata(ctx, iv.ID, map[string]any{"idempotency_key": "evidence-x-1", "run_id": "1"}); err != nil {
		t.Fatalf("MergeProcessingMetadata failed: %v", err)
	}
	if err := st.MergeProcessingMetadata(ctx, iv.ID, map[string]any{"current_step": "insights"}); err != nil {
		t.Fatalf("MergeProcessingMetadata second failed: %v", err)
	}
	meta, err := st.GetProcessingMetadata(ctx, iv.ID)
	if err != nil {
		t.Fatalf("GetProcessingMetadata failed: %v", err)
	}
	if meta["idempotency_key"] != "evidence-x-1" || meta["current_step"] != "insights" {
		t.Fatalf("unexpected metadata: %#v", meta)
	}
}

func TestListAnalysesUpdatedSince(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	st.SetClock(func() time.Time { return base })
	old := testsupport.NewInterview(t, st, cfg, "Old", "")
	if err := st.MergeAnalysis(ctx, old.ID, map[string]any{"progress": 100}); err != nil {
		t.Fatalf("MergeAnalysis failed: %v", err)
	}

	st.SetClock(func() time.Time { return base.Add(48 * time.Hour) })
	recent := testsupport.NewInterview(t, st, cfg, "Recent", "")
	if err := st.MergeAnalysis(ctx, recent.ID, map[string]any{"progress": 100}); err != nil {
		t.Fatalf("MergeAnalysis failed: %v", err)
	}
	testsupport.NewInterview(t, st, cfg, "Untouched", "")

	records, err := st.ListAnalysesUpdatedSince(ctx, base.Add(24*time.Hour), 10)
	if err != nil {
		t.Fatalf("ListAnalysesUpdatedSince failed: %v", err)
	}
	if len(records) != 1 || records[0].InterviewID != recent.ID {
		t.Fatalf("expected only the recent interview, got %#v", records)
	}
}
