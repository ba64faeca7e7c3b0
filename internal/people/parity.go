package people

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"gleaner/internal/logging"
	"gleaner/internal/store"
)

// ParityStore is the persistence the parity check reads and heals.
type ParityStore interface {
	ListEvidencePeople(ctx context.Context, interviewID string) ([]store.EvidencePerson, error)
	ListEvidenceFacets(ctx context.Context, interviewID string) ([]store.EvidenceFacet, error)
	HealFacetPersons(ctx context.Context, interviewID string) (int, error)
}

// ParityMismatch is one facet mention whose person disagrees with the
// evidence_people attribution of its evidence unit.
type ParityMismatch struct {
	EvidenceID       string
	FacetID          string
	FacetPersonID    string
	EvidencePersonID string
}

// ParityReport summarizes one validation pass.
type ParityReport struct {
	InterviewID string
	Checked     int
	Mismatches  []ParityMismatch
	Healed      int
	Passed      bool
}

// CheckParity compares each facet mention's person against the people
// linked to its evidence unit. With heal set, drifted rows are re-synced
// from evidence_people and the report reflects the state after healing.
// Mismatches are logged as warnings and never returned as errors.
func CheckParity(ctx context.Context, st ParityStore, interviewID string, heal bool, logger *slog.Logger) (ParityReport, error) {
	logger = logging.WithContext(ctx, logging.NewComponentLogger(logger, "parity"))
	report, err := computeParity(ctx, st, interviewID)
	if err != nil {
		return report, err
	}
	if len(report.Mismatches) > 0 && heal {
		healed, err := st.HealFacetPersons(ctx, interviewID)
		if err != nil {
			return report, fmt.Errorf("heal parity: %w", err)
		}
		after, err := computeParity(ctx, st, interviewID)
		if err != nil {
			return report, err
		}
		after.Healed = healed
		logger.Info("parity healed",
			logging.Args(append(logging.DecisionAttrs("parity_heal", "healed", "auto heal enabled"),
				logging.Int("healed", healed),
				logging.Int("remaining", len(after.Mismatches)))...)...)
		report = after
	}
	if !report.Passed {
		logging.WarnWithContext(logger, "attribution parity mismatch", "parity_mismatch",
			logging.Int("checked", report.Checked),
			logging.Int("mismatches", len(report.Mismatches)),
			logging.String(logging.FieldErrorHint, "run gleaner parity to inspect or enable workflow.parity_auto_heal"),
			logging.String(logging.FieldImpact, "facet mentions attributed to a different person than their evidence"))
	}
	return report, nil
}

func computeParity(ctx context.Context, st ParityStore, interviewID string) (ParityReport, error) {
	report := ParityReport{InterviewID: interviewID}
	people, err := st.ListEvidencePeople(ctx, interviewID)
	if err != nil {
		return report, fmt.Errorf("parity evidence people: %w", err)
	}
	facets, err := st.ListEvidenceFacets(ctx, interviewID)
	if err != nil {
		return report, fmt.Errorf("parity evidence facets: %w", err)
	}
	attributed := make(map[string][]string, len(people))
	for _, link := range people {
		attributed[link.EvidenceID] = append(attributed[link.EvidenceID], link.PersonID)
	}
	for _, ids := range attributed {
		sort.Strings(ids)
	}
	for _, facet := range facets {
		report.Checked++
		expected := attributed[facet.EvidenceID]
		if matchesAny(facet.PersonID, expected) {
			continue
		}
		var want string
		if len(expected) > 0 {
			want = expected[0]
		}
		report.Mismatches = append(report.Mismatches, ParityMismatch{
			EvidenceID:       facet.EvidenceID,
			FacetID:          facet.FacetID,
			FacetPersonID:    facet.PersonID,
			EvidencePersonID: want,
		})
	}
	report.Passed = len(report.Mismatches) == 0
	return report, nil
}

func matchesAny(personID string, expected []string) bool {
	if len(expected) == 0 {
		return personID == ""
	}
	for _, id := range expected {
		if id == personID {
			return true
		}
	}
	return false
}
