package workflow

import (
	"context"

	"gleaner/internal/evidence"
	"gleaner/internal/services"
)

type evidenceTask struct {
	extractor *evidence.Extractor
}

func (t *evidenceTask) Run(ctx context.Context, in TaskInput) (State, error) {
	transcript := in.Interview.Transcript
	data := rawJSON(in.Interview.TranscriptJSON)
	language := in.Interview.Language
	if in.State != nil {
		transcript = firstNonEmpty(in.State.FullTranscript, transcript)
		if in.State.TranscriptData != nil {
			data = in.State.TranscriptData
		}
		language = firstNonEmpty(in.State.Language, language)
	}
	if transcript == "" {
		return State{}, services.Wrap(services.ErrValidation, string(StepEvidence), "extract",
			"transcript is empty; run upload first", nil)
	}

	res, err := t.extractor.Extract(ctx, evidence.Input{
		Interview:      in.Interview,
		Transcript:     transcript,
		TranscriptData: data,
		Language:       language,
		Instructions:   in.Request.Instructions,
		Progress: func(_ context.Context, percent int, detail string) {
			reportProgress(in, percent, detail)
		},
	})
	if err != nil {
		return State{}, err
	}
	return State{
		EvidenceIDs:   nonNil(res.EvidenceIDs),
		EvidenceUnits: nonNil(res.Units),
		PersonID:      res.PrimaryPersonID,
		PersonName:    res.PrimaryPersonName,
		PersonIDs:     nonNil(res.PersonIDs),
	}, nil
}
