package workflow

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	"gleaner/internal/logging"
	"gleaner/internal/services"
	"gleaner/internal/services/llm"
	"gleaner/internal/store"
)

// personasTask assigns the interview's people to project personas.
type personasTask struct {
	llm    LLM
	store  *store.Store
	logger *slog.Logger
}

func (t *personasTask) Run(ctx context.Context, in TaskInput) (State, error) {
	logger := logging.WithContext(ctx, t.logger)
	ids, err := personIDs(ctx, t.store, in)
	if err != nil {
		return State{}, err
	}
	links, err := t.store.ListInterviewPeople(ctx, in.Interview.ID)
	if err != nil {
		return State{}, err
	}
	linkByPerson := make(map[string]store.InterviewPerson, len(links))
	for _, link := range links {
		linkByPerson[link.PersonID] = link
	}

	briefs := make([]llm.PersonBrief, 0, len(ids))
	known := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		person, err := t.store.GetPerson(ctx, id)
		if err != nil {
			return State{}, err
		}
		if person.IsInternal || linkByPerson[id].Role == "interviewer" {
			continue
		}
		known[id] = struct{}{}
		briefs = append(briefs, llm.PersonBrief{
			PersonID: id,
			Name:     firstNonEmpty(linkByPerson[id].DisplayName, person.Name),
			Role:     person.Role,
			Summary:  person.Description,
			Segments: nonEmpty(person.Segment),
		})
	}
	if len(briefs) == 0 {
		logger.Info("no participants to assign; skipping personas",
			logging.Args(logging.DecisionAttrs("personas", "skipped", "no resolved participants")...)...)
		return State{PersonaIDs: []string{}}, nil
	}
	if t.llm == nil {
		return State{}, services.Wrap(services.ErrConfiguration, string(StepPersonas), "assign", "llm client not configured", nil)
	}

	existing, err := t.store.ListPersonas(ctx, in.Interview.ProjectID)
	if err != nil {
		return State{}, err
	}
	names := make([]string, 0, len(existing))
	for _, p := range existing {
		names = append(names, p.Name)
	}
	units, err := loadUnits(ctx, t.store, in)
	if err != nil {
		return State{}, err
	}

	reportProgress(in, 20, "Assigning personas")
	resp, err := t.llm.AssignPersonas(ctx, llm.PersonaRequest{
		People:           briefs,
		ExistingPersonas: names,
		Evidence:         evidenceRefs(units),
	})
	if err != nil {
		return State{}, services.Wrap(services.ErrExternalTool, string(StepPersonas), "assign", "persona call", err)
	}

	personaIDs := []string{}
	for _, unit := range resp.Personas {
		if strings.TrimSpace(unit.Name) == "" {
			continue
		}
		persona, err := t.store.UpsertPersona(ctx, in.Interview.ProjectID, unit.Name, unit.Description)
		if err != nil {
			return State{PersonaIDs: personaIDs}, err
		}
		linked := 0
		for _, member := range unit.Members {
			if _, ok := known[member.PersonID]; !ok {
				logger.Debug("persona member is not an interview participant",
					logging.String("persona", persona.Name),
					logging.String("person_id", member.PersonID))
				continue
			}
			if err := t.store.LinkPersonaPerson(ctx, persona.ID, member.PersonID, in.Interview.ID, member.Confidence); err != nil {
				return State{PersonaIDs: personaIDs}, err
			}
			linked++
		}
		if linked > 0 && !slices.Contains(personaIDs, persona.ID) {
			personaIDs = append(personaIDs, persona.ID)
		}
	}
	logger.Info("personas assigned",
		logging.Int("people", len(briefs)),
		logging.Int("personas", len(personaIDs)))
	reportProgress(in, 100, "Personas assigned")
	return State{PersonaIDs: personaIDs}, nil
}

// answersTask answers the project's research questions from this
// interview's evidence.
type answersTask struct {
	llm    LLM
	store  *store.Store
	logger *slog.Logger
}

func (t *answersTask) Run(ctx context.Context, in TaskInput) (State, error) {
	logger := logging.WithContext(ctx, t.logger)
	questions, err := t.store.ListQuestions(ctx, in.Interview.ProjectID)
	if err != nil {
		return State{}, err
	}
	units, err := loadUnits(ctx, t.store, in)
	if err != nil {
		return State{}, err
	}
	if len(questions) == 0 || len(units) == 0 {
		logger.Info("nothing to answer; skipping answers",
			logging.Args(append(logging.DecisionAttrs("answers", "skipped", "no questions or no evidence"),
				logging.Int("questions", len(questions)),
				logging.Int("evidence", len(units)))...)...)
		return State{AnswerIDs: []string{}}, nil
	}
	if t.llm == nil {
		return State{}, services.Wrap(services.ErrConfiguration, string(StepAnswers), "attribute", "llm client not configured", nil)
	}

	briefs := make([]llm.QuestionBrief, 0, len(questions))
	valid := make(map[string]struct{}, len(questions))
	for _, q := range questions {
		briefs = append(briefs, llm.QuestionBrief{ID: q.ID, Question: q.Question})
		valid[q.ID] = struct{}{}
	}
	reportProgress(in, 20, "Answering research questions")
	resp, err := t.llm.AttributeAnswers(ctx, llm.AnswerRequest{Questions: briefs, Evidence: evidenceRefs(units)})
	if err != nil {
		return State{}, services.Wrap(services.ErrExternalTool, string(StepAnswers), "attribute", "answer call", err)
	}

	answerIDs := []string{}
	for _, a := range resp.Answers {
		if _, ok := valid[a.QuestionID]; !ok || strings.TrimSpace(a.Answer) == "" {
			continue
		}
		id, err := t.store.UpsertAnswer(ctx, store.Answer{
			QuestionID:  a.QuestionID,
			InterviewID: in.Interview.ID,
			Answer:      strings.TrimSpace(a.Answer),
			Confidence:  a.Confidence,
			EvidenceIDs: refsToIDs(units, a.EvidenceRefs),
		})
		if err != nil {
			return State{AnswerIDs: answerIDs}, err
		}
		answerIDs = append(answerIDs, id)
	}
	logger.Info("answers attributed",
		logging.Int("questions", len(questions)),
		logging.Int("answers", len(answerIDs)))
	reportProgress(in, 100, "Answers ready")
	return State{AnswerIDs: answerIDs}, nil
}

func nonEmpty(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return []string{value}
}
