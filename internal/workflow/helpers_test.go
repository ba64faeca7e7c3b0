package workflow_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"gleaner/internal/config"
	"gleaner/internal/notifications"
	"gleaner/internal/services"
	"gleaner/internal/services/embeddings"
	"gleaner/internal/services/llm"
	"gleaner/internal/store"
	"gleaner/internal/testsupport"
	"gleaner/internal/workflow"
)

type fakeLLM struct {
	mu         sync.Mutex
	evidence   llm.EvidenceResponse
	evidenceFn func(req llm.EvidenceRequest) (llm.EvidenceResponse, error)
	insights   llm.InsightResponse
	personas   llm.PersonaResponse
	answers    llm.AnswerResponse
	enrich     llm.EnrichResponse
	calls      map[string]int
}

func (f *fakeLLM) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[name]++
}

func (f *fakeLLM) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeLLM) ExtractEvidence(_ context.Context, req llm.EvidenceRequest) (llm.EvidenceResponse, error) {
	f.record("evidence")
	if f.evidenceFn != nil {
		return f.evidenceFn(req)
	}
	return f.evidence, nil
}

func (f *fakeLLM) GenerateInsights(context.Context, llm.InsightRequest) (llm.InsightResponse, error) {
	f.record("insights")
	return f.insights, nil
}

func (f *fakeLLM) AssignPersonas(context.Context, llm.PersonaRequest) (llm.PersonaResponse, error) {
	f.record("personas")
	return f.personas, nil
}

func (f *fakeLLM) AttributeAnswers(context.Context, llm.AnswerRequest) (llm.AnswerResponse, error) {
	f.record("answers")
	return f.answers, nil
}

func (f *fakeLLM) EnrichPerson(context.Context, llm.EnrichRequest) (llm.EnrichResponse, error) {
	f.record("enrich")
	return f.enrich, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
}

func (r *recordingNotifier) Publish(_ context.Context, event notifications.Event, _ notifications.Payload) error {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
	return nil
}

const namedTranscript = "SPEAKER A: Honestly the pricing is too expensive for a team our size.\nSPEAKER A: Onboarding took us three weeks."

func namedSpeakerLLM() *fakeLLM {
	return &fakeLLM{
		evidence: llm.EvidenceResponse{
			Evidence: []llm.EvidenceUnit{
				{
					PersonKey:     "sarah",
					Verbatim:      "the pricing is too expensive for a team our size",
					Gist:          "Pricing is a blocker",
					Confidence:    "high",
					FacetMentions: []llm.FacetMention{{KindSlug: "pain", Value: "Pricing"}},
				},
				{
					PersonKey:     "sarah",
					Verbatim:      "Onboarding took us three weeks",
					FacetMentions: []llm.FacetMention{{KindSlug: "pain", Value: "Slow onboarding"}},
				},
			},
			People: []llm.PersonUnit{{
				PersonKey: "sarah", SpeakerLabel: "SPEAKER A", Role: "participant", DisplayName: "Sarah Chen",
			}},
		},
		insights: llm.InsightResponse{Themes: []llm.ThemeUnit{{
			Name:      "Pricing is too expensive",
			Statement: "Teams find pricing too expensive for their size",
		}}},
		enrich: llm.EnrichResponse{Description: "Team lead at a small agency", Organization: "Acme"},
	}
}

type harness struct {
	cfg   *config.Config
	store *store.Store
	llm   *fakeLLM
	orch  *workflow.Orchestrator
}

func newHarness(t *testing.T, client *fakeLLM, opts ...workflow.OrchestratorOption) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	opts = append([]workflow.OrchestratorOption{workflow.WithRetryPolicy(services.RetryPolicy{
		MaxAttempts: 2,
		Sleep:       func(context.Context, time.Duration) error { return nil },
	})}, opts...)
	orch := workflow.NewOrchestrator(cfg, st, workflow.Dependencies{
		LLM:      client,
		Embedder: embeddings.LocalEmbedder{},
	}, nil, opts...)
	return &harness{cfg: cfg, store: st, llm: client, orch: orch}
}

func (h *harness) interview(t *testing.T, transcript string) *store.Interview {
	t.Helper()
	return testsupport.NewInterview(t, h.store, h.cfg, "Discovery call", transcript)
}

func (h *harness) state(t *testing.T, id string) *workflow.State {
	t.Helper()
	state, ok, err := h.orch.States().Load(context.Background(), id)
	if err != nil || !ok {
		t.Fatalf("load state: ok=%v err=%v", ok, err)
	}
	return state
}

func (h *harness) analysis(t *testing.T, id string) store.Analysis {
	t.Helper()
	a, ok, err := h.store.GetAnalysis(context.Background(), id)
	if err != nil || !ok {
		t.Fatalf("load analysis: ok=%v err=%v", ok, err)
	}
	return a
}
