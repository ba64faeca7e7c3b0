package workflow

import (
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"strings"

	"gleaner/internal/logging"
	"gleaner/internal/services"
	"gleaner/internal/store"
)

// uploadTask makes sure the interview has a transcript. An uploaded
// transcript is used as-is; otherwise the media is transcribed.
type uploadTask struct {
	store       *store.Store
	transcriber Transcriber
	workDir     string
	logger      *slog.Logger
}

func (t *uploadTask) Run(ctx context.Context, in TaskInput) (State, error) {
	logger := logging.WithContext(ctx, t.logger)
	iv := in.Interview
	if strings.TrimSpace(iv.Transcript) != "" {
		logger.Info("using uploaded transcript",
			logging.Args(append(logging.DecisionAttrs("transcript_source", "uploaded", "interview already has a transcript"),
				logging.Int("chars", len(iv.Transcript)))...)...)
		reportProgress(in, 100, "Transcript ready")
		return State{
			InterviewID:    iv.ID,
			FullTranscript: iv.Transcript,
			Language:       iv.Language,
			TranscriptData: rawJSON(iv.TranscriptJSON),
		}, nil
	}

	source := firstNonEmpty(iv.MediaPath, iv.SourcePath)
	if source == "" {
		return State{}, services.Wrap(services.ErrValidation, string(StepUpload), "transcript", "interview has no transcript or media", nil)
	}
	if t.transcriber == nil {
		return State{}, services.Wrap(services.ErrConfiguration, string(StepUpload), "transcribe",
			"media uploaded but transcription is disabled", nil)
	}

	if err := t.store.UpdateInterviewStatus(ctx, iv.ID, store.StatusTranscribing); err != nil {
		return State{}, err
	}
	reportProgress(in, 10, "Transcribing media")
	logger.Info("transcribing media", logging.String("source", source))
	tr, err := t.transcriber.Transcribe(ctx, source, filepath.Join(t.workDir, iv.ID))
	if err != nil {
		return State{}, err
	}
	if strings.TrimSpace(tr.Text) == "" {
		return State{}, services.Wrap(services.ErrValidation, string(StepUpload), "transcribe", "transcription produced no text", nil)
	}
	if err := t.store.UpdateTranscript(ctx, iv.ID, store.TranscriptUpdate{
		Transcript:      tr.Text,
		TranscriptJSON:  string(tr.Data),
		Language:        tr.Language,
		DurationSeconds: tr.DurationSeconds,
	}); err != nil {
		return State{}, err
	}
	if err := t.store.UpdateInterviewStatus(ctx, iv.ID, store.StatusProcessing); err != nil {
		return State{}, err
	}
	reportProgress(in, 100, "Transcription complete")
	return State{
		InterviewID:    iv.ID,
		FullTranscript: tr.Text,
		Language:       tr.Language,
		TranscriptData: rawJSON(string(tr.Data)),
	}, nil
}

// rawJSON returns value as a raw message when it is valid JSON.
func rawJSON(value string) json.RawMessage {
	value = strings.TrimSpace(value)
	if value == "" || !json.Valid([]byte(value)) {
		return nil
	}
	return json.RawMessage(value)
}
