package evidence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"gleaner/internal/config"
	"gleaner/internal/facets"
	"gleaner/internal/logging"
	"gleaner/internal/people"
	"gleaner/internal/services"
	"gleaner/internal/services/llm"
	"gleaner/internal/store"
	"gleaner/internal/timestamps"
)

const (
	maxFacetHints      = 300
	mentionConfidence  = 0.8
	progressSetup      = 25
	progressBatchStart = 30
	progressBatchEnd   = 70
	progressPersisted  = 85
	progressComplete   = 100
)

// Client is the extraction capability the extractor consumes.
type Client interface {
	ExtractEvidence(ctx context.Context, req llm.EvidenceRequest) (llm.EvidenceResponse, error)
}

// ProgressFunc receives percent-complete checkpoints during a run. Long
// runs call it once per batch so callers can heartbeat.
type ProgressFunc func(ctx context.Context, percent int, detail string)

// Input is one interview's transcript and run options.
type Input struct {
	Interview      *store.Interview
	Transcript     string
	TranscriptData json.RawMessage
	Language       string
	Instructions   string
	Progress       ProgressFunc
}

// Unit is the compact form of a persisted evidence unit kept in workflow
// state for later steps.
type Unit struct {
	ID        string `json:"id"`
	PersonKey string `json:"person_key,omitempty"`
	PersonID  string `json:"person_id,omitempty"`
	Verbatim  string `json:"verbatim"`
	Gist      string `json:"gist,omitempty"`
	Topic     string `json:"topic,omitempty"`
	StartMS   *int64 `json:"start_ms,omitempty"`
}

// Result summarizes one extraction run.
type Result struct {
	EvidenceIDs        []string
	Units              []Unit
	PrimaryPersonID    string
	PrimaryPersonName  string
	PersonIDs          []string
	Unlinked           []string
	UsedFallback       bool
	InteractionContext string
	Batches            int
	AnchorStages       map[string]int
	Facets             facets.Stats
	Parity             people.ParityReport
}

// Extractor runs evidence extraction for one interview at a time.
type Extractor struct {
	client          Client
	store           *store.Store
	matcher         people.IdentityMatcher
	maxTokens       int
	autoHeal        bool
	interviewerName string
	logger          *slog.Logger
}

// Option customizes an Extractor.
type Option func(*Extractor)

// WithIdentityMatcher replaces the store-backed identity matcher.
func WithIdentityMatcher(m people.IdentityMatcher) Option {
	return func(e *Extractor) {
		if m != nil {
			e.matcher = m
		}
	}
}

// New builds an extractor from the [workflow] and [account] sections.
func New(cfg *config.Config, client Client, st *store.Store, logger *slog.Logger, opts ...Option) *Extractor {
	e := &Extractor{
		client:          client,
		store:           st,
		matcher:         people.NewStoreMatcher(st),
		maxTokens:       cfg.Workflow.MaxEvidenceTokens,
		autoHeal:        cfg.Workflow.ParityAutoHeal,
		interviewerName: cfg.Account.InterviewerName,
		logger:          logging.NewComponentLogger(logger, "evidence"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type batchOutput struct {
	units   []llm.EvidenceUnit
	keys    []string
	context string
	conf    *float64
}

// Extract runs the full extraction for in.Interview and replaces its
// evidence. A run that yields no evidence still resolves a fallback person
// and succeeds with an empty result.
func (e *Extractor) Extract(ctx context.Context, in Input) (*Result, error) {
	iv := in.Interview
	if iv == nil || strings.TrimSpace(iv.ID) == "" {
		return nil, services.Wrap(services.ErrValidation, "evidence", "extract", "interview required", nil)
	}
	logger := logging.WithContext(ctx, e.logger).With(logging.String("interview_id", iv.ID))
	progress := in.Progress
	if progress == nil {
		progress = func(context.Context, int, string) {}
	}

	matcher, err := facets.NewMatcher(ctx, e.store, iv.AccountID, logger)
	if err != nil {
		return nil, err
	}
	progress(ctx, progressSetup, "preparing transcript")

	utts := ParseUtterances(in.Transcript)
	batches := BatchUtterances(utts, e.maxTokens)
	speakers := Speakers(utts)
	hints := facetHints(matcher.Entries())

	merger := newParticipantMerger()
	out := batchOutput{}
	for i, batch := range batches {
		req := llm.EvidenceRequest{
			Transcript:   RenderBatch(batch),
			Speakers:     speakers,
			Facets:       hints,
			Language:     in.Language,
			Instructions: in.Instructions,
			BatchIndex:   i,
			BatchCount:   len(batches),
		}
		resp, err := e.client.ExtractEvidence(ctx, req)
		if err != nil {
			return nil, services.Wrap(services.ErrExternalTool, "evidence", "extract",
				fmt.Sprintf("batch %d of %d", i+1, len(batches)), err)
		}
		rewrite := merger.add(i, resp.People, len(out.units))
		for _, unit := range resp.Evidence {
			key := strings.TrimSpace(unit.PersonKey)
			if mapped, ok := rewrite[key]; ok {
				key = mapped
			}
			out.units = append(out.units, unit)
			out.keys = append(out.keys, key)
		}
		if ctxText := strings.TrimSpace(resp.InteractionContext); ctxText != "" &&
			(out.context == "" || confidenceOf(resp.ContextConfidence) > confidenceOf(out.conf)) {
			out.context, out.conf = ctxText, resp.ContextConfidence
		}
		pct := progressBatchStart + (progressBatchEnd-progressBatchStart)*(i+1)/len(batches)
		progress(ctx, pct, fmt.Sprintf("extracted batch %d of %d", i+1, len(batches)))
		logger.Debug("evidence batch extracted",
			logging.Int("batch", i+1),
			logging.Int("batches", len(batches)),
			logging.Int("evidence", len(resp.Evidence)),
			logging.Int("people", len(resp.People)))
	}

	resolver := people.NewResolver(e.matcher, e.store, logger)
	res, err := resolver.Resolve(ctx, people.Metadata{
		AccountID:       iv.AccountID,
		ProjectID:       iv.ProjectID,
		InterviewID:     iv.ID,
		ParticipantName: iv.ParticipantName,
		InterviewerName: e.interviewerName,
	}, merger.list())
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "evidence", "resolve people", "", err)
	}

	anchors := newAnchorer(ctx, in, iv, logger)
	result := &Result{
		PrimaryPersonID:    res.PrimaryPersonID,
		PrimaryPersonName:  res.PrimaryName,
		Unlinked:           res.Unlinked,
		UsedFallback:       res.UsedFallback,
		InteractionContext: out.context,
		Batches:            len(batches),
		AnchorStages:       make(map[string]int),
	}

	var bundle store.EvidenceBundle
	personFacets := make(map[string]struct{})
	for i, unit := range out.units {
		verbatim := SanitizeVerbatim(unit.Verbatim)
		if verbatim == "" {
			continue
		}
		personKey, personID := res.Attribute(out.keys[i])
		confidence := NormalizeConfidence(unit.Confidence)
		weights := WeightsFor(confidence)

		ev := store.Evidence{
			ID:              uuid.NewString(),
			InterviewID:     iv.ID,
			ProjectID:       iv.ProjectID,
			Verbatim:        verbatim,
			Chunk:           firstNonEmpty(SanitizeVerbatim(unit.Chunk), verbatim),
			Gist:            firstNonEmpty(strings.TrimSpace(unit.Gist), verbatim),
			Topic:           strings.TrimSpace(unit.Topic),
			Confidence:      confidence,
			WeightQuality:   weights.Quality,
			WeightRelevance: weights.Relevance,
			IsQuestion:      unit.IsQuestion,
		}

		compact := Unit{ID: ev.ID, PersonKey: personKey, PersonID: personID, Verbatim: verbatim, Gist: ev.Gist, Topic: ev.Topic}
		if seconds, stage, ok := anchors.resolve(verbatim, unit.Anchors); ok {
			ms := int64(math.Round(seconds * 1000))
			ev.Anchors = []store.Anchor{{StartMS: ms, MediaKey: anchors.mediaKey}}
			compact.StartMS = &ms
			result.AnchorStages[stage]++
		} else {
			result.AnchorStages[timestamps.StageNone.String()]++
		}

		seen := make(map[string]struct{}, len(unit.FacetMentions))
		var mainTag string
		for _, mention := range unit.FacetMentions {
			entry, err := matcher.Resolve(ctx, mention.KindSlug, mention.Value)
			if err != nil {
				if errors.Is(err, facets.ErrEmptyMention) {
					continue
				}
				return nil, err
			}
			if _, dup := seen[entry.ID]; dup {
				continue
			}
			seen[entry.ID] = struct{}{}
			if mainTag == "" {
				mainTag = entry.Label
			}
			bundle.Facets = append(bundle.Facets, store.EvidenceFacet{
				EvidenceID: ev.ID,
				FacetID:    entry.ID,
				PersonID:   personID,
				KindSlug:   entry.KindSlug,
				Label:      entry.Label,
				Confidence: mentionConfidence,
				Quote:      SanitizeVerbatim(firstNonEmpty(mention.Quote, verbatim)),
			})
			if personID != "" {
				personFacets[personID+"|"+entry.ID] = struct{}{}
			}
		}
		if mainTag == "" && len(unit.KindTags) > 0 {
			mainTag = unit.KindTags[0]
		}
		ev.IndependenceKey = IndependenceKey(verbatim, mainTag)

		if personID != "" {
			bundle.People = append(bundle.People, store.EvidencePerson{
				EvidenceID: ev.ID,
				PersonID:   personID,
				Role:       res.RoleByPersonID[personID],
			})
		}
		bundle.Evidence = append(bundle.Evidence, ev)
		result.Units = append(result.Units, compact)
	}

	for key, observed := range merger.facets {
		personID := res.PersonIDByKey[key]
		if personID == "" {
			continue
		}
		for _, f := range observed {
			entry, err := matcher.Resolve(ctx, f.Kind, f.Value)
			if err != nil {
				if errors.Is(err, facets.ErrEmptyMention) {
					continue
				}
				return nil, err
			}
			personFacets[personID+"|"+entry.ID] = struct{}{}
		}
	}

	ids, err := e.store.ReplaceEvidence(ctx, iv.ID, bundle)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "evidence", "persist", "replace evidence", err)
	}
	result.EvidenceIDs = ids
	for pair := range personFacets {
		personID, facetID, _ := strings.Cut(pair, "|")
		if err := e.store.UpsertPersonFacet(ctx, personID, facetID, iv.ID); err != nil {
			return nil, services.Wrap(services.ErrTransient, "evidence", "persist", "person facet", err)
		}
	}
	if result.InteractionContext != "" {
		if err := e.store.SetInteractionContext(ctx, iv.ID, result.InteractionContext, out.conf); err != nil {
			return nil, services.Wrap(services.ErrTransient, "evidence", "persist", "interaction context", err)
		}
	}
	progress(ctx, progressPersisted, fmt.Sprintf("persisted %d evidence units", len(ids)))

	seenPerson := make(map[string]struct{})
	for _, id := range res.PersonIDByKey {
		if _, ok := seenPerson[id]; id != "" && !ok {
			seenPerson[id] = struct{}{}
			result.PersonIDs = append(result.PersonIDs, id)
		}
	}
	if _, ok := seenPerson[res.PrimaryPersonID]; !ok && res.PrimaryPersonID != "" {
		result.PersonIDs = append(result.PersonIDs, res.PrimaryPersonID)
	}

	report, err := people.CheckParity(ctx, e.store, iv.ID, e.autoHeal, logger)
	if err != nil {
		return nil, err
	}
	result.Parity = report
	result.Facets = matcher.Stats()

	if len(ids) == 0 {
		logging.WarnWithContext(logger, "extraction produced no evidence", "evidence_empty",
			logging.Int("batches", len(batches)),
			logging.String("person_id", res.PrimaryPersonID),
			logging.String(logging.FieldErrorHint, "check the transcript content and model output"),
			logging.String(logging.FieldImpact, "interview completes with zero evidence"))
	}
	logger.Info("evidence extracted",
		logging.Int("evidence", len(ids)),
		logging.Int("batches", len(batches)),
		logging.Int("people", len(result.PersonIDs)),
		logging.Int("unlinked", len(res.Unlinked)),
		logging.Int("facets_matched", result.Facets.Matched),
		logging.Int("facets_created", result.Facets.Created),
		logging.Bool("parity_passed", report.Passed))
	progress(ctx, progressComplete, "evidence complete")
	return result, nil
}

func facetHints(entries []store.FacetEntry) []llm.FacetHint {
	n := min(len(entries), maxFacetHints)
	hints := make([]llm.FacetHint, 0, n)
	for _, entry := range entries[:n] {
		hints = append(hints, llm.FacetHint{Kind: entry.KindSlug, Label: entry.Label})
	}
	return hints
}

func confidenceOf(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// anchorer resolves playback positions for one interview.
type anchorer struct {
	resolver *timestamps.Resolver
	mediaKey string
}

func newAnchorer(ctx context.Context, in Input, iv *store.Interview, logger *slog.Logger) *anchorer {
	tl := timestamps.Timeline{FullTranscript: in.Transcript, DurationSeconds: iv.DurationSeconds}
	if len(in.TranscriptData) > 0 {
		parsed, err := timestamps.TimelineFromJSON(in.TranscriptData, in.Transcript, iv.DurationSeconds)
		if err != nil {
			logging.WarnWithContext(logging.WithContext(ctx, logger), "transcript timing unreadable", "timeline_parse",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "re-run upload to regenerate transcript JSON"),
				logging.String(logging.FieldImpact, "anchors fall back to model timings and estimates"))
		} else {
			tl = parsed
		}
	}
	return &anchorer{
		resolver: timestamps.NewResolver(tl),
		mediaKey: firstNonEmpty(iv.MediaPath, iv.SourcePath),
	}
}

// resolve prefers a textual match against the timeline, then a timing the
// model attached, then a proportional estimate.
func (a *anchorer) resolve(verbatim string, raw []llm.RawAnchor) (float64, string, bool) {
	match, found := a.resolver.Find(verbatim)
	if found && match.Stage != timestamps.StageEstimate {
		return match.Seconds, match.Stage.String(), true
	}
	for _, anchor := range raw {
		if seconds, ok := modelAnchorSeconds(anchor); ok {
			return seconds, "model", true
		}
	}
	if found {
		return match.Seconds, match.Stage.String(), true
	}
	return 0, "", false
}

// modelAnchorSeconds reads start_seconds, then start_ms. Bare numbers in
// start_ms are always milliseconds.
func modelAnchorSeconds(anchor llm.RawAnchor) (float64, bool) {
	if anchor.StartSeconds != nil {
		if s, ok := timestamps.CoerceSeconds(anchor.StartSeconds); ok {
			return s, true
		}
	}
	switch v := anchor.StartMS.(type) {
	case nil:
		return 0, false
	case float64:
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return v / 1000, true
	case string:
		if ms, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && ms >= 0 {
			return ms / 1000, true
		}
		return timestamps.CoerceSeconds(v)
	default:
		return timestamps.CoerceSeconds(v)
	}
}
