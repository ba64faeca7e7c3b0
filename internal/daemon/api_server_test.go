package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"gleaner/internal/logging"
	"gleaner/internal/store"
	"gleaner/internal/testsupport"
	"gleaner/internal/workflow"
)

type nopRunner struct{}

func (nopRunner) Run(context.Context, workflow.RunRequest) (*workflow.RunResult, error) {
	return &workflow.RunResult{}, nil
}

type apiFixture struct {
	daemon  *Daemon
	store   *store.Store
	handler http.Handler
	hub     *logging.StreamHub
}

func newAPIFixture(t *testing.T, token string) *apiFixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	hub := logging.NewStreamHub(32)
	d, err := New(cfg, st, workflow.NewManager(cfg, st, nopRunner{}, nil, nil), nil, WithLogStream(hub))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &apiFixture{daemon: d, store: st, handler: d.api.routes(token), hub: hub}
}

func (f *apiFixture) do(t *testing.T, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if len(header) == 2 {
		req.Header.Set(header[0], header[1])
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return out
}

func TestAPIRequiresBearerToken(t *testing.T) {
	f := newAPIFixture(t, "secret")

	if w := f.do(t, http.MethodGet, "/api/status", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/api/status", "", "Authorization", "Bearer wrong"); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", w.Code)
	}
	w := f.do(t, http.MethodGet, "/api/status", "", "Authorization", "Bearer secret")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", w.Code)
	}
	if status := decode[StatusResponse](t, w); status.Running {
		t.Fatalf("expected stopped daemon, got %+v", status)
	}
}

func TestAPISubmitRun(t *testing.T) {
	f := newAPIFixture(t, "")
	iv := testsupport.NewInterview(t, f.store, f.daemon.cfg, "Pricing call", "SPEAKER A: hi")
	body := `{"resumeFrom":"personas","idempotencyKey":"rerun-1"}`

	w := f.do(t, http.MethodPost, "/api/interviews/"+iv.ID+"/run", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	first := decode[SubmitResponse](t, w)
	if !first.Created || first.Job.ResumeFrom != "personas" || first.Job.InterviewID != iv.ID {
		t.Fatalf("unexpected submit response: %+v", first)
	}

	w = f.do(t, http.MethodPost, "/api/interviews/"+iv.ID+"/run", body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for a repeated key, got %d", w.Code)
	}
	if again := decode[SubmitResponse](t, w); again.Created || again.Job.ID != first.Job.ID {
		t.Fatalf("expected existing job, got %+v", again)
	}

	if w := f.do(t, http.MethodPost, "/api/interviews/"+iv.ID+"/run", `{"resumeFrom":"render"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown step, got %d", w.Code)
	}
	if w := f.do(t, http.MethodPost, "/api/interviews/missing/run", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown interview, got %d", w.Code)
	}
	if w := f.do(t, http.MethodPost, "/api/jobs", `{"interviewId":`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", w.Code)
	}

	w = f.do(t, http.MethodGet, "/api/jobs?interview="+iv.ID, "")
	jobs := decode[map[string][]Job](t, w)
	if len(jobs["jobs"]) != 1 {
		t.Fatalf("expected one job listed, got %+v", jobs)
	}
}

func TestAPIInterviewView(t *testing.T) {
	f := newAPIFixture(t, "")
	iv := testsupport.NewInterview(t, f.store, f.daemon.cfg, "Churn interview", "SPEAKER A: hi")
	ctx := context.Background()
	if err := f.store.MergeAnalysis(ctx, iv.ID, map[string]any{
		"completed_steps": []string{"upload"},
		"current_step":    "evidence",
		"progress":        30,
	}); err != nil {
		t.Fatalf("MergeAnalysis: %v", err)
	}

	w := f.do(t, http.MethodGet, "/api/interviews/"+iv.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	view := decode[InterviewResponse](t, w)
	if view.Title != "Churn interview" || view.CurrentStep != "evidence" || view.Progress != 30 {
		t.Fatalf("unexpected view: %+v", view)
	}
	if len(view.CompletedSteps) != 1 || view.CompletedSteps[0] != "upload" {
		t.Fatalf("unexpected completed steps: %v", view.CompletedSteps)
	}
	if w := f.do(t, http.MethodGet, "/api/interviews/missing", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestAPIRetryFailedJobs(t *testing.T) {
	f := newAPIFixture(t, "")
	iv := testsupport.NewInterview(t, f.store, f.daemon.cfg, "Call", "SPEAKER A: hi")
	ctx := context.Background()
	job, _, err := f.store.EnqueueJob(ctx, store.JobRequest{InterviewID: iv.ID})
	if err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if err := f.store.FailJob(ctx, job.ID, "boom"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	w := f.do(t, http.MethodPost, "/api/jobs/retry", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := decode[map[string]int64](t, w); got["retried"] != 1 {
		t.Fatalf("expected one retried job, got %v", got)
	}
	reloaded, err := f.store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if reloaded.Status != store.JobPending {
		t.Fatalf("expected pending job, got %s", reloaded.Status)
	}
}

func TestAPISweepWithoutScheduler(t *testing.T) {
	f := newAPIFixture(t, "")
	if w := f.do(t, http.MethodPost, "/api/sweep", ""); w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestAPILogsFilterByInterview(t *testing.T) {
	f := newAPIFixture(t, "")
	f.hub.Publish(logging.LogEvent{Message: "first", InterviewID: "a", Component: "workflow"})
	f.hub.Publish(logging.LogEvent{Message: "second", InterviewID: "b", Component: "workflow"})
	f.hub.Publish(logging.LogEvent{Message: "third", InterviewID: "a", Component: "people"})

	w := f.do(t, http.MethodGet, "/api/logs?tail=1&interview=a", "")
	resp := decode[LogsResponse](t, w)
	if len(resp.Events) != 2 || resp.Next != 3 {
		t.Fatalf("expected two events for interview a, got %+v", resp)
	}

	w = f.do(t, http.MethodGet, "/api/logs?since=1&component=workflow", "")
	resp = decode[LogsResponse](t, w)
	if len(resp.Events) != 1 || resp.Events[0].Message != "second" {
		t.Fatalf("expected only the second event, got %+v", resp.Events)
	}
}

func TestAPIRejectsWrongMethod(t *testing.T) {
	f := newAPIFixture(t, "")
	if w := f.do(t, http.MethodDelete, "/api/status", ""); w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for an unsupported method, got %d", w.Code)
	}
}

func TestAPINotifyTestWithoutTopic(t *testing.T) {
	f := newAPIFixture(t, "")
	w := f.do(t, http.MethodPost, "/api/notify/test", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode[NotifyResponse](t, w)
	if resp.Sent || !strings.Contains(resp.Message, "not configured") {
		t.Fatalf("unexpected notify response %+v", resp)
	}
}
