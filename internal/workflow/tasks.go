package workflow

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	"gleaner/internal/config"
	"gleaner/internal/evidence"
	"gleaner/internal/services/llm"
	"gleaner/internal/services/whisperx"
	"gleaner/internal/store"
	"gleaner/internal/themes"
)

// LLM is the model capability the steps call.
type LLM interface {
	evidence.Client
	GenerateInsights(ctx context.Context, req llm.InsightRequest) (llm.InsightResponse, error)
	AssignPersonas(ctx context.Context, req llm.PersonaRequest) (llm.PersonaResponse, error)
	AttributeAnswers(ctx context.Context, req llm.AnswerRequest) (llm.AnswerResponse, error)
	EnrichPerson(ctx context.Context, req llm.EnrichRequest) (llm.EnrichResponse, error)
}

// Transcriber turns a media file into a timed transcript.
type Transcriber interface {
	Transcribe(ctx context.Context, source, workDir string) (whisperx.Transcript, error)
}

func buildTasks(cfg *config.Config, st *store.Store, deps Dependencies, logger *slog.Logger) map[Step]Task {
	var extractorOpts []evidence.Option
	if deps.Matcher != nil {
		extractorOpts = append(extractorOpts, evidence.WithIdentityMatcher(deps.Matcher))
	}
	return map[Step]Task{
		StepUpload: &uploadTask{
			store:       st,
			transcriber: deps.Transcriber,
			workDir:     filepath.Join(cfg.Paths.StateDir, "work"),
			logger:      logger,
		},
		StepEvidence: &evidenceTask{
			extractor: evidence.New(cfg, deps.LLM, st, logger, extractorOpts...),
		},
		StepInsights: &insightsTask{
			llm:    deps.LLM,
			themes: themes.New(cfg, st, deps.Embedder, logger),
			store:  st,
			logger: logger,
		},
		StepPersonas:     &personasTask{llm: deps.LLM, store: st, logger: logger},
		StepAnswers:      &answersTask{llm: deps.LLM, store: st, logger: logger},
		StepFinalize:     &finalizeTask{store: st, logger: logger},
		StepEnrichPerson: &enrichTask{llm: deps.LLM, store: st, logger: logger},
	}
}

// loadUnits returns the interview's evidence units, preferring workflow
// state and falling back to the evidence table for older documents.
func loadUnits(ctx context.Context, st *store.Store, in TaskInput) ([]evidence.Unit, error) {
	if in.State != nil && in.State.EvidenceUnits != nil {
		return in.State.EvidenceUnits, nil
	}
	rows, err := st.ListEvidence(ctx, in.Interview.ID)
	if err != nil {
		return nil, err
	}
	links, err := st.ListEvidencePeople(ctx, in.Interview.ID)
	if err != nil {
		return nil, err
	}
	personByEvidence := make(map[string]string, len(links))
	for _, link := range links {
		if _, ok := personByEvidence[link.EvidenceID]; !ok {
			personByEvidence[link.EvidenceID] = link.PersonID
		}
	}
	units := make([]evidence.Unit, 0, len(rows))
	for _, row := range rows {
		u := evidence.Unit{
			ID:       row.ID,
			PersonID: personByEvidence[row.ID],
			Verbatim: row.Verbatim,
			Gist:     row.Gist,
			Topic:    row.Topic,
		}
		if len(row.Anchors) > 0 {
			ms := row.Anchors[0].StartMS
			u.StartMS = &ms
		}
		units = append(units, u)
	}
	return units, nil
}

func evidenceRefs(units []evidence.Unit) []llm.EvidenceRef {
	refs := make([]llm.EvidenceRef, 0, len(units))
	for i, u := range units {
		refs = append(refs, llm.EvidenceRef{Index: i, Gist: u.Gist, Verbatim: u.Verbatim, Topic: u.Topic})
	}
	return refs
}

func refsToIDs(units []evidence.Unit, refs []int) []string {
	ids := make([]string, 0, len(refs))
	seen := make(map[string]struct{}, len(refs))
	for _, ref := range refs {
		if ref < 0 || ref >= len(units) {
			continue
		}
		id := units[ref].ID
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

// personIDs returns the people resolved for the interview, from state or
// from the interview links.
func personIDs(ctx context.Context, st *store.Store, in TaskInput) ([]string, error) {
	if in.State != nil && in.State.PersonIDs != nil {
		return in.State.PersonIDs, nil
	}
	links, err := st.ListInterviewPeople(ctx, in.Interview.ID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(links))
	for _, link := range links {
		ids = append(ids, link.PersonID)
	}
	return ids, nil
}

func nonNil[T any](values []T) []T {
	if values == nil {
		return []T{}
	}
	return values
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func reportProgress(in TaskInput, percent int, detail string) {
	if in.Progress != nil {
		in.Progress(percent, detail)
	}
}
