package evidence

import (
	"fmt"
	"strings"

	"gleaner/internal/people"
	"gleaner/internal/services/llm"
	"gleaner/internal/textutil"
)

// observedFacet is a participant facet with evidence refs rebased onto the
// run-wide evidence index.
type observedFacet struct {
	Kind     string
	Value    string
	Evidence []int
}

// participantMerger folds per-batch people into one participant list. Each
// batch is a separate model call, so the same speaker can come back under a
// different person_key; the speaker label is the stable join key.
type participantMerger struct {
	participants []people.Participant
	facets       map[string][]observedFacet
	byLabel      map[string]int
	byKey        map[string]int
}

func newParticipantMerger() *participantMerger {
	return &participantMerger{
		facets:  make(map[string][]observedFacet),
		byLabel: make(map[string]int),
		byKey:   make(map[string]int),
	}
}

// add merges one batch's people. offset is the number of evidence units
// collected before this batch. The returned map rewrites the batch's raw
// person keys to run-wide keys.
func (m *participantMerger) add(batch int, units []llm.PersonUnit, offset int) map[string]string {
	rewrite := make(map[string]string, len(units))
	for _, unit := range units {
		raw := strings.TrimSpace(unit.PersonKey)
		label := normalizeLabel(unit.SpeakerLabel)

		idx, ok := -1, false
		if label != "" {
			idx, ok = m.byLabel[label]
		}
		if !ok && raw != "" {
			if existing, found := m.byKey[raw]; found {
				existingLabel := normalizeLabel(m.participants[existing].SpeakerLabel)
				if existingLabel == "" || label == "" || existingLabel == label {
					idx, ok = existing, true
				}
			}
		}

		if ok {
			mergeParticipant(&m.participants[idx], unit)
		} else {
			key := people.SanitizePersonKey(raw, fmt.Sprintf("person-%d", len(m.participants)))
			if _, taken := m.byKey[key]; taken {
				key = fmt.Sprintf("%s-b%d", key, batch)
			}
			m.participants = append(m.participants, toParticipant(key, unit))
			idx = len(m.participants) - 1
			m.byKey[key] = idx
		}
		if label != "" {
			if _, seen := m.byLabel[label]; !seen {
				m.byLabel[label] = idx
			}
		}

		key := m.participants[idx].PersonKey
		if raw != "" {
			rewrite[raw] = key
		}
		for _, f := range unit.Facets {
			refs := make([]int, 0, len(f.EvidenceRefs))
			for _, ref := range f.EvidenceRefs {
				if ref >= 0 {
					refs = append(refs, ref+offset)
				}
			}
			m.facets[key] = append(m.facets[key], observedFacet{Kind: f.KindSlug, Value: f.Value, Evidence: refs})
		}
	}
	return rewrite
}

func (m *participantMerger) list() []people.Participant {
	return m.participants
}

func toParticipant(key string, unit llm.PersonUnit) people.Participant {
	return people.Participant{
		PersonKey:    key,
		SpeakerLabel: unit.SpeakerLabel,
		Role:         unit.Role,
		DisplayName:  unit.DisplayName,
		InferredName: unit.InferredName,
		Organization: unit.Organization,
		Summary:      unit.Summary,
		Segments:     append([]string(nil), unit.Segments...),
		Personas:     append([]string(nil), unit.Personas...),
	}
}

// mergeParticipant fills empty fields from a later sighting.
func mergeParticipant(p *people.Participant, unit llm.PersonUnit) {
	fill := func(dst *string, src string) {
		if strings.TrimSpace(*dst) == "" {
			*dst = src
		}
	}
	fill(&p.SpeakerLabel, unit.SpeakerLabel)
	fill(&p.Role, unit.Role)
	fill(&p.DisplayName, unit.DisplayName)
	fill(&p.InferredName, unit.InferredName)
	fill(&p.Organization, unit.Organization)
	fill(&p.Summary, unit.Summary)
	if len(p.Segments) == 0 {
		p.Segments = append([]string(nil), unit.Segments...)
	}
	if len(p.Personas) == 0 {
		p.Personas = append([]string(nil), unit.Personas...)
	}
}

func normalizeLabel(label string) string {
	return strings.ToLower(textutil.CollapseWhitespace(strings.NewReplacer("_", " ", "-", " ").Replace(label)))
}
