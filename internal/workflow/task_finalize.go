package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gleaner/internal/logging"
	"gleaner/internal/people"
	"gleaner/internal/services"
	"gleaner/internal/services/llm"
	"gleaner/internal/store"
)

const (
	taskKindSpeakerReview = "speaker_review"
	maxEnrichEvidence     = 20
)

// finalizeTask marks the interview ready and raises hygiene tasks.
type finalizeTask struct {
	store  *store.Store
	logger *slog.Logger
}

func (t *finalizeTask) Run(ctx context.Context, in TaskInput) (State, error) {
	logger := logging.WithContext(ctx, t.logger)
	iv := in.Interview
	count, err := t.store.CountEvidence(ctx, iv.ID)
	if err != nil {
		return State{}, err
	}

	t.flagPlaceholderSpeakers(ctx, logger, iv)

	if err := t.store.UpdateInterviewStatus(ctx, iv.ID, store.StatusReady); err != nil {
		return State{}, err
	}
	if err := t.store.MergeAnalysis(ctx, iv.ID, map[string]any{
		"evidence_count": count,
		"completed_at":   time.Now().UTC().Format(time.RFC3339),
		"status_detail":  "Ready",
	}); err != nil {
		return State{}, err
	}
	if count == 0 {
		logging.WarnWithContext(logger, "interview finalized with zero evidence", "zero_evidence",
			logging.String(logging.FieldErrorHint, "check the transcript or rerun evidence with instructions"),
			logging.String(logging.FieldImpact, "interview contributes no evidence to themes"))
	}
	logger.Info("interview finalized", logging.Int("evidence_count", count))
	return State{}, nil
}

// flagPlaceholderSpeakers marks interviews whose linked speakers still
// carry diarization labels. Failures are logged and never fail the step.
func (t *finalizeTask) flagPlaceholderSpeakers(ctx context.Context, logger *slog.Logger, iv *store.Interview) {
	links, err := t.store.ListInterviewPeople(ctx, iv.ID)
	if err != nil {
		logger.Warn("speaker review check failed", logging.Error(err))
		return
	}
	var placeholders []string
	for _, link := range links {
		if people.PlaceholderSpeaker.MatchString(strings.TrimSpace(link.DisplayName)) {
			placeholders = append(placeholders, link.DisplayName)
		}
	}
	if len(placeholders) == 0 {
		return
	}
	if err := t.store.SetSpeakerReviewNeeded(ctx, iv.ID, true); err != nil {
		logger.Warn("flag speaker review failed", logging.Error(err))
		return
	}
	title := fmt.Sprintf("#speakers Review speakers: %s", firstNonEmpty(iv.Title, iv.ID))
	created, err := t.store.CreateTask(ctx, store.Task{
		ProjectID:   iv.ProjectID,
		InterviewID: iv.ID,
		Kind:        taskKindSpeakerReview,
		Title:       title,
	})
	if err != nil {
		logger.Warn("create speaker review task failed", logging.Error(err))
		return
	}
	logging.WarnWithContext(logger, "speakers need review", "speaker_review_needed",
		logging.Any("speakers", placeholders),
		logging.Bool("task_created", created),
		logging.String(logging.FieldErrorHint, "name the speakers in the interview"),
		logging.String(logging.FieldImpact, "evidence from these speakers is not attributed to a person"))
}

// enrichTask fills empty profile fields on the interview's people.
type enrichTask struct {
	llm    LLM
	store  *store.Store
	logger *slog.Logger
}

func (t *enrichTask) Run(ctx context.Context, in TaskInput) (State, error) {
	logger := logging.WithContext(ctx, t.logger)
	ids, err := personIDs(ctx, t.store, in)
	if err != nil {
		return State{}, err
	}
	units, err := loadUnits(ctx, t.store, in)
	if err != nil {
		return State{}, err
	}

	enriched := []string{}
	for i, id := range ids {
		person, err := t.store.GetPerson(ctx, id)
		if err != nil {
			return State{EnrichedPersonIDs: enriched}, err
		}
		if person.IsInternal || (person.Description != "" && person.Organization != "") {
			logger.Debug("person needs no enrichment", logging.String("person_id", id))
			continue
		}
		if t.llm == nil {
			return State{EnrichedPersonIDs: enriched}, services.Wrap(services.ErrConfiguration,
				string(StepEnrichPerson), "enrich", "llm client not configured", nil)
		}
		var refs []llm.EvidenceRef
		for idx, u := range units {
			if u.PersonID != id {
				continue
			}
			refs = append(refs, llm.EvidenceRef{Index: idx, Gist: u.Gist, Verbatim: u.Verbatim, Topic: u.Topic})
			if len(refs) == maxEnrichEvidence {
				break
			}
		}
		resp, err := t.llm.EnrichPerson(ctx, llm.EnrichRequest{
			Name:     person.Name,
			Role:     person.Role,
			Summary:  person.Description,
			Evidence: refs,
		})
		if err != nil {
			return State{EnrichedPersonIDs: enriched}, services.Wrap(services.ErrExternalTool,
				string(StepEnrichPerson), "enrich", "enrich call", err)
		}
		changed, err := t.store.EnrichPerson(ctx, id, resp.Description, resp.Role, resp.Segment)
		if err != nil {
			return State{EnrichedPersonIDs: enriched}, err
		}
		if resp.Organization != "" && person.Organization == "" {
			if err := t.store.SetPersonOrganization(ctx, id, resp.Organization); err != nil {
				return State{EnrichedPersonIDs: enriched}, err
			}
			changed = true
		}
		if changed {
			enriched = append(enriched, id)
		}
		reportProgress(in, (i+1)*100/len(ids), "Enriching people")
	}
	logger.Info("people enriched",
		logging.Int("people", len(ids)),
		logging.Int("enriched", len(enriched)))
	return State{EnrichedPersonIDs: enriched}, nil
}
