package workflow

import (
	"context"
	"log/slog"
	"strings"

	"gleaner/internal/logging"
	"gleaner/internal/services"
	"gleaner/internal/services/llm"
	"gleaner/internal/store"
	"gleaner/internal/themes"
)

// insightsTask asks the model for themes and folds them into the
// project's theme set.
type insightsTask struct {
	llm    LLM
	themes *themes.Deduplicator
	store  *store.Store
	logger *slog.Logger
}

func (t *insightsTask) Run(ctx context.Context, in TaskInput) (State, error) {
	logger := logging.WithContext(ctx, t.logger)
	units, err := loadUnits(ctx, t.store, in)
	if err != nil {
		return State{}, err
	}
	if len(units) == 0 {
		logger.Info("no evidence; skipping insight generation",
			logging.Args(logging.DecisionAttrs("insights", "skipped", "zero evidence units")...)...)
		return State{InsightIDs: []string{}}, nil
	}
	if t.llm == nil {
		return State{}, services.Wrap(services.ErrConfiguration, string(StepInsights), "generate", "llm client not configured", nil)
	}

	existing, err := t.store.ListThemes(ctx, in.Interview.ProjectID)
	if err != nil {
		return State{}, err
	}
	names := make([]string, 0, len(existing))
	for _, th := range existing {
		names = append(names, th.Name)
	}

	reportProgress(in, 10, "Generating insights")
	resp, err := t.llm.GenerateInsights(ctx, llm.InsightRequest{
		Evidence:       evidenceRefs(units),
		ExistingThemes: names,
		Instructions:   in.Request.Instructions,
	})
	if err != nil {
		return State{}, services.Wrap(services.ErrExternalTool, string(StepInsights), "generate", "insight call", err)
	}

	proposals := make([]themes.Proposal, 0, len(resp.Themes))
	for _, th := range resp.Themes {
		if strings.TrimSpace(th.Name) == "" {
			continue
		}
		proposals = append(proposals, themes.Proposal{
			Name:              th.Name,
			Statement:         th.Statement,
			InclusionCriteria: th.InclusionCriteria,
		})
	}
	texts := make([]themes.EvidenceText, 0, len(units))
	for _, u := range units {
		texts = append(texts, themes.EvidenceText{ID: u.ID, Text: firstNonEmpty(u.Gist+" "+u.Verbatim, u.Verbatim)})
	}

	reportProgress(in, 60, "Deduplicating themes")
	res, err := t.themes.Apply(ctx, in.Interview.ProjectID, proposals, texts)
	if err != nil {
		return State{}, err
	}
	logger.Info("insights applied",
		logging.Int("proposed", len(proposals)),
		logging.Int("themes", len(res.ThemeIDs)),
		logging.Int("unlinked", len(res.Unlinked)))
	reportProgress(in, 100, "Insights ready")
	return State{InsightIDs: nonNil(res.ThemeIDs)}, nil
}
