// Package themes folds proposed insights into project-level themes and links
// them to the evidence that supports them.
package themes

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"gleaner/internal/config"
	"gleaner/internal/logging"
	"gleaner/internal/services"
	"gleaner/internal/store"
	"gleaner/internal/textutil"
)

// Resolution actions.
const (
	ActionMatched = "matched"
	ActionSynonym = "synonym"
	ActionCreated = "created"
)

// Embedder maps texts to vectors, one per input in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Store is the theme persistence the deduplicator needs.
type Store interface {
	ListThemes(ctx context.Context, projectID string) ([]store.Theme, error)
	InsertTheme(ctx context.Context, th store.Theme) (store.Theme, bool, error)
	UpdateThemeStatement(ctx context.Context, id, statement, criteria string) error
	AddThemeSynonym(ctx context.Context, id, synonym string) error
	UpsertThemeEvidence(ctx context.Context, links []store.ThemeEvidence) error
}

// Proposal is an insight proposed for one interview.
type Proposal struct {
	Name              string
	Statement         string
	InclusionCriteria string
}

// EvidenceText is an evidence unit available for linking.
type EvidenceText struct {
	ID   string
	Text string
}

// Outcome records how one proposal was resolved.
type Outcome struct {
	ThemeID    string
	Name       string
	Action     string
	Similarity float64
	Links      int
}

// Result summarizes a deduplication pass.
type Result struct {
	ThemeIDs []string
	Outcomes []Outcome
	Unlinked []string
}

// Deduplicator resolves proposals against a project's existing themes.
type Deduplicator struct {
	store          Store
	embedder       Embedder
	dedupThreshold float64
	linkThreshold  float64
	logger         *slog.Logger
}

// New builds a deduplicator with thresholds from the [embeddings] section.
func New(cfg *config.Config, st Store, embedder Embedder, logger *slog.Logger) *Deduplicator {
	return &Deduplicator{
		store:          st,
		embedder:       embedder,
		dedupThreshold: cfg.Embeddings.DedupThreshold,
		linkThreshold:  cfg.Embeddings.LinkThreshold,
		logger:         logging.NewComponentLogger(logger, "themes"),
	}
}

// Apply resolves each proposal to a theme and links it to evidence from the
// current interview. Proposals are resolved in order, so a later proposal
// can match a theme an earlier one created.
func (d *Deduplicator) Apply(ctx context.Context, projectID string, proposals []Proposal, evidence []EvidenceText) (*Result, error) {
	logger := logging.WithContext(ctx, d.logger)
	proposals = cleanProposals(proposals)
	result := &Result{}
	if len(proposals) == 0 {
		return result, nil
	}

	existing, err := d.store.ListThemes(ctx, projectID)
	if err != nil {
		return nil, err
	}
	texts := make([]string, len(proposals))
	for i, p := range proposals {
		texts[i] = combinedText(p.Name, p.Statement, "")
	}
	vectors, err := d.embed(ctx, texts)
	if err != nil {
		return nil, err
	}

	resolved := make([]store.Theme, 0, len(proposals))
	for i, p := range proposals {
		theme, outcome, err := d.resolve(ctx, projectID, p, vectors[i], &existing)
		if err != nil {
			return nil, err
		}
		logger.Debug("theme resolved",
			logging.Args(append(logging.DecisionAttrs("theme_dedup", outcome.Action, "best available match"),
				logging.String("theme", outcome.Name),
				logging.String("proposal", p.Name),
				logging.Float64("similarity", outcome.Similarity))...)...)
		resolved = append(resolved, theme)
		result.Outcomes = append(result.Outcomes, outcome)
		result.ThemeIDs = appendUnique(result.ThemeIDs, theme.ID)
	}

	if err := d.link(ctx, resolved, evidence, result); err != nil {
		return nil, err
	}
	for _, name := range result.Unlinked {
		logging.WarnWithContext(logger, "theme has no supporting evidence", "theme_unlinked",
			logging.String("theme", name),
			logging.Float64("link_threshold", d.linkThreshold),
			logging.String(logging.FieldErrorHint, "review the theme or lower embeddings.link_threshold"),
			logging.String(logging.FieldImpact, "theme shows no evidence for this interview"))
	}
	logger.Info("themes applied",
		logging.Int("proposals", len(proposals)),
		logging.Int("themes", len(result.ThemeIDs)),
		logging.Int("unlinked", len(result.Unlinked)))
	return result, nil
}

func (d *Deduplicator) resolve(ctx context.Context, projectID string, p Proposal, vector []float32, existing *[]store.Theme) (store.Theme, Outcome, error) {
	for _, th := range *existing {
		if th.Name != p.Name {
			continue
		}
		if p.Statement != "" || p.InclusionCriteria != "" {
			if err := d.store.UpdateThemeStatement(ctx, th.ID, p.Statement, p.InclusionCriteria); err != nil {
				return store.Theme{}, Outcome{}, err
			}
		}
		return th, Outcome{ThemeID: th.ID, Name: th.Name, Action: ActionMatched, Similarity: 1}, nil
	}

	bestIdx, bestScore := -1, 0.0
	for i, th := range *existing {
		score := textutil.CosineVectors(vector, th.Embedding)
		if score > bestScore {
			bestIdx, bestScore = i, score
		}
	}
	if bestIdx >= 0 && bestScore >= d.dedupThreshold {
		th := (*existing)[bestIdx]
		if err := d.store.AddThemeSynonym(ctx, th.ID, p.Name); err != nil {
			return store.Theme{}, Outcome{}, err
		}
		th.Synonyms = appendUnique(th.Synonyms, p.Name)
		(*existing)[bestIdx] = th
		return th, Outcome{ThemeID: th.ID, Name: th.Name, Action: ActionSynonym, Similarity: bestScore}, nil
	}

	created, _, err := d.store.InsertTheme(ctx, store.Theme{
		ProjectID:         projectID,
		Name:              p.Name,
		Statement:         p.Statement,
		InclusionCriteria: p.InclusionCriteria,
		Embedding:         vector,
	})
	if err != nil {
		return store.Theme{}, Outcome{}, err
	}
	*existing = append(*existing, created)
	return created, Outcome{ThemeID: created.ID, Name: created.Name, Action: ActionCreated, Similarity: bestScore}, nil
}

// link scores every resolved theme against every evidence unit and keeps
// links at or above the link threshold.
func (d *Deduplicator) link(ctx context.Context, themes []store.Theme, evidence []EvidenceText, result *Result) error {
	var usable []EvidenceText
	for _, ev := range evidence {
		if strings.TrimSpace(ev.Text) != "" {
			usable = append(usable, ev)
		}
	}
	texts := make([]string, 0, len(themes)+len(usable))
	for _, th := range themes {
		texts = append(texts, combinedText(th.Name, th.Statement, th.InclusionCriteria))
	}
	for _, ev := range usable {
		texts = append(texts, ev.Text)
	}
	vectors, err := d.embed(ctx, texts)
	if err != nil {
		return err
	}
	themeVectors, evidenceVectors := vectors[:len(themes)], vectors[len(themes):]

	for i, th := range themes {
		var links []store.ThemeEvidence
		for j, ev := range usable {
			score := textutil.CosineVectors(themeVectors[i], evidenceVectors[j])
			if score >= d.linkThreshold {
				links = append(links, store.ThemeEvidence{ThemeID: th.ID, EvidenceID: ev.ID, Confidence: score})
			}
		}
		if err := d.store.UpsertThemeEvidence(ctx, links); err != nil {
			return err
		}
		result.Outcomes[i].Links = len(links)
		if len(links) == 0 {
			result.Unlinked = appendUnique(result.Unlinked, th.Name)
		}
	}
	return nil
}

func (d *Deduplicator) embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vectors, err := d.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "insights", "embed", "theme embeddings", err)
	}
	if len(vectors) != len(texts) {
		return nil, services.Wrap(services.ErrExternalTool, "insights", "embed",
			fmt.Sprintf("got %d vectors for %d texts", len(vectors), len(texts)), nil)
	}
	return vectors, nil
}

func cleanProposals(in []Proposal) []Proposal {
	out := make([]Proposal, 0, len(in))
	for _, p := range in {
		p.Name = textutil.CollapseWhitespace(p.Name)
		p.Statement = strings.TrimSpace(p.Statement)
		p.InclusionCriteria = strings.TrimSpace(p.InclusionCriteria)
		if p.Name != "" {
			out = append(out, p)
		}
	}
	return out
}

func combinedText(name, statement, criteria string) string {
	parts := []string{name}
	for _, s := range []string{statement, criteria} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ". ")
}

func appendUnique(values []string, value string) []string {
	for _, v := range values {
		if v == value {
			return values
		}
	}
	return append(values, value)
}
