package themes_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"gleaner/internal/services"
	"gleaner/internal/store"
	"gleaner/internal/testsupport"
	"gleaner/internal/themes"
)

// keywordEmbedder places texts on axes by keyword so similarity is predictable.
type keywordEmbedder struct {
	calls int
	err   error
}

var axes = [][]string{
	{"pricing", "price", "cost", "expensive"},
	{"onboarding", "setup"},
	{"spreadsheet", "export"},
}

func (k *keywordEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	k.calls++
	if k.err != nil {
		return nil, k.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		lower := strings.ToLower(text)
		vec := make([]float32, len(axes)+1)
		for a, words := range axes {
			for _, w := range words {
				if strings.Contains(lower, w) {
					vec[a] = 1
					break
				}
			}
		}
		vec[len(axes)] = 0.05
		out[i] = vec
	}
	return out, nil
}

func seedEvidence(t *testing.T, st *store.Store, interviewID string, quotes ...string) []themes.EvidenceText {
	t.Helper()
	bundle := store.EvidenceBundle{}
	for _, q := range quotes {
		bundle.Evidence = append(bundle.Evidence, store.Evidence{Verbatim: q})
	}
	ids, err := st.ReplaceEvidence(context.Background(), interviewID, bundle)
	if err != nil {
		t.Fatalf("ReplaceEvidence failed: %v", err)
	}
	out := make([]themes.EvidenceText, len(ids))
	for i, id := range ids {
		out[i] = themes.EvidenceText{ID: id, Text: quotes[i]}
	}
	return out
}

func TestApplyCreatesAndLinksThemes(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	iv := testsupport.NewInterview(t, st, cfg, "Call", "")
	ctx := context.Background()
	evidence := seedEvidence(t, st, iv.ID, "The price is too expensive", "Setup took weeks of onboarding")

	d := themes.New(cfg, st, &keywordEmbedder{}, nil)
	res, err := d.Apply(ctx, iv.ProjectID, []themes.Proposal{
		{Name: "Pricing friction", Statement: "Cost blocks adoption"},
		{Name: "Slow onboarding", Statement: "Setup takes too long"},
	}, evidence)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if len(res.ThemeIDs) != 2 {
		t.Fatalf("expected 2 themes, got %+v", res)
	}
	for i, outcome := range res.Outcomes {
		if outcome.Action != themes.ActionCreated || outcome.Links != 1 {
			t.Fatalf("outcome %d = %+v", i, outcome)
		}
	}
	links, err := st.ListThemeEvidence(ctx, res.ThemeIDs[0])
	if err != nil {
		t.Fatalf("ListThemeEvidence failed: %v", err)
	}
	if len(links) != 1 || links[0].EvidenceID != evidence[0].ID || links[0].Confidence < 0.5 {
		t.Fatalf("unexpected pricing links: %+v", links)
	}
}

func TestApplyAddsSynonymForNearDuplicate(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	iv := testsupport.NewInterview(t, st, cfg, "Call", "")
	ctx := context.Background()
	evidence := seedEvidence(t, st, iv.ID, "It is too expensive")
	d := themes.New(cfg, st, &keywordEmbedder{}, nil)

	first, err := d.Apply(ctx, iv.ProjectID, []themes.Proposal{{Name: "Pricing friction", Statement: "Cost blocks adoption"}}, evidence)
	if err != nil {
		t.Fatalf("first Apply failed: %v", err)
	}
	second, err := d.Apply(ctx, iv.ProjectID, []themes.Proposal{{Name: "Too expensive", Statement: "Price concerns"}}, evidence)
	if err != nil {
		t.Fatalf("second Apply failed: %v", err)
	}
	if second.Outcomes[0].Action != themes.ActionSynonym || second.ThemeIDs[0] != first.ThemeIDs[0] {
		t.Fatalf("expected synonym on existing theme, got %+v", second.Outcomes)
	}
	all, err := st.ListThemes(ctx, iv.ProjectID)
	if err != nil {
		t.Fatalf("ListThemes failed: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected no duplicate theme, got %d", len(all))
	}
	if len(all[0].Synonyms) != 1 || all[0].Synonyms[0] != "Too expensive" {
		t.Fatalf("unexpected synonyms: %v", all[0].Synonyms)
	}
}

func TestApplyExactNameUpdatesStatement(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	iv := testsupport.NewInterview(t, st, cfg, "Call", "")
	ctx := context.Background()
	d := themes.New(cfg, st, &keywordEmbedder{}, nil)

	if _, err := d.Apply(ctx, iv.ProjectID, []themes.Proposal{{Name: "Exports", Statement: "old"}}, nil); err != nil {
		t.Fatalf("first Apply failed: %v", err)
	}
	res, err := d.Apply(ctx, iv.ProjectID, []themes.Proposal{{Name: "Exports", Statement: "Teams live in spreadsheet exports"}}, nil)
	if err != nil {
		t.Fatalf("second Apply failed: %v", err)
	}
	if res.Outcomes[0].Action != themes.ActionMatched {
		t.Fatalf("expected exact match, got %+v", res.Outcomes[0])
	}
	all, _ := st.ListThemes(ctx, iv.ProjectID)
	if len(all) != 1 || all[0].Statement != "Teams live in spreadsheet exports" {
		t.Fatalf("expected statement update, got %+v", all)
	}
}

func TestApplyCaseSensitiveNameFallsThroughToSimilarity(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	iv := testsupport.NewInterview(t, st, cfg, "Call", "")
	ctx := context.Background()
	d := themes.New(cfg, st, &keywordEmbedder{}, nil)

	if _, err := d.Apply(ctx, iv.ProjectID, []themes.Proposal{{Name: "Pricing"}}, nil); err != nil {
		t.Fatalf("first Apply failed: %v", err)
	}
	res, err := d.Apply(ctx, iv.ProjectID, []themes.Proposal{{Name: "pricing"}}, nil)
	if err != nil {
		t.Fatalf("second Apply failed: %v", err)
	}
	if res.Outcomes[0].Action != themes.ActionSynonym {
		t.Fatalf("expected lowercase name to dedupe by similarity, got %+v", res.Outcomes[0])
	}
}

func TestApplyReportsUnlinkedThemes(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	iv := testsupport.NewInterview(t, st, cfg, "Call", "")
	evidence := seedEvidence(t, st, iv.ID, "We export to a spreadsheet every Friday")
	d := themes.New(cfg, st, &keywordEmbedder{}, nil)

	res, err := d.Apply(context.Background(), iv.ProjectID, []themes.Proposal{{Name: "Onboarding pain"}}, evidence)
	if err != nil {
		t.Fatalf("Apply must not fail on unlinked themes: %v", err)
	}
	if len(res.Unlinked) != 1 || res.Unlinked[0] != "Onboarding pain" || res.Outcomes[0].Links != 0 {
		t.Fatalf("expected unlinked theme reported, got %+v", res)
	}
}

func TestApplyEmbedderFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	emb := &keywordEmbedder{err: errors.New("boom")}
	_, err := themes.New(cfg, st, emb, nil).Apply(context.Background(), "p", []themes.Proposal{{Name: "X"}}, nil)
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}

	res, err := themes.New(cfg, st, emb, nil).Apply(context.Background(), "p", []themes.Proposal{{Name: "  "}}, nil)
	if err != nil || len(res.ThemeIDs) != 0 {
		t.Fatalf("expected empty proposals to be a no-op, got %+v, %v", res, err)
	}
}
