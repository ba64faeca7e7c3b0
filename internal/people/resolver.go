package people

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"gleaner/internal/logging"
	"gleaner/internal/store"
)

// RoleInterviewer marks the participant who ran the interview.
const RoleInterviewer = "interviewer"

// Participant is one speaker as reported by extraction.
type Participant struct {
	PersonKey    string
	SpeakerLabel string
	Role         string
	DisplayName  string
	InferredName string
	Organization string
	Summary      string
	Segments     []string
	Personas     []string
}

// Metadata is the upload context resolution falls back on.
type Metadata struct {
	AccountID       string
	ProjectID       string
	InterviewID     string
	ParticipantName string
	Segment         string
	// InterviewerName is the account's own interviewer. When set, the
	// interviewer participant binds to that internal identity.
	InterviewerName string
}

// LinkStore persists interview to person links.
type LinkStore interface {
	ListInterviewPeople(ctx context.Context, interviewID string) ([]store.InterviewPerson, error)
	UpsertInterviewPerson(ctx context.Context, link store.InterviewPerson) error
}

// Resolution is the outcome of resolving one interview's participants.
type Resolution struct {
	Participants    []Participant
	PersonIDByKey   map[string]string
	RoleByPersonID  map[string]string
	PrimaryKey      string
	PrimaryPersonID string
	PrimaryName     string
	Unlinked        []string
	UsedFallback    bool
}

// Participant returns the normalized participant for key.
func (r *Resolution) Participant(key string) (Participant, bool) {
	for _, p := range r.Participants {
		if p.PersonKey == key {
			return p, true
		}
	}
	return Participant{}, false
}

// Attribute maps an evidence unit's raw person key to the key and person it
// is attributed to. Keys that name no participant go to the primary
// participant. A known speaker that was left unlinked yields an empty
// person id unless the whole interview fell back to a placeholder person.
func (r *Resolution) Attribute(rawKey string) (personKey, personID string) {
	personKey = r.PrimaryKey
	if key := strings.TrimSpace(rawKey); key != "" {
		if _, ok := r.Participant(key); ok {
			personKey = key
		}
	}
	if id, ok := r.PersonIDByKey[personKey]; ok {
		return personKey, id
	}
	if personKey == r.PrimaryKey || r.UsedFallback {
		return personKey, r.PrimaryPersonID
	}
	return personKey, ""
}

// Resolver binds participants to durable people and links them to the
// interview.
type Resolver struct {
	matcher IdentityMatcher
	links   LinkStore
	logger  *slog.Logger
}

func NewResolver(matcher IdentityMatcher, links LinkStore, logger *slog.Logger) *Resolver {
	return &Resolver{
		matcher: matcher,
		links:   links,
		logger:  logging.NewComponentLogger(logger, "people"),
	}
}

// NormalizeParticipants trims participant fields, assigns keys to keyless
// participants, and disambiguates duplicate keys with an index suffix.
func NormalizeParticipants(in []Participant) []Participant {
	out := make([]Participant, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for i, p := range in {
		key := SanitizePersonKey(p.PersonKey, "person-"+strconv.Itoa(i))
		if _, dup := seen[key]; dup {
			key = key + "-" + strconv.Itoa(i)
		}
		seen[key] = struct{}{}
		out = append(out, Participant{
			PersonKey:    key,
			SpeakerLabel: strings.TrimSpace(p.SpeakerLabel),
			Role:         strings.ToLower(strings.TrimSpace(p.Role)),
			DisplayName:  strings.TrimSpace(p.DisplayName),
			InferredName: strings.TrimSpace(p.InferredName),
			Organization: strings.TrimSpace(p.Organization),
			Summary:      strings.TrimSpace(p.Summary),
			Segments:     trimAll(p.Segments),
			Personas:     trimAll(p.Personas),
		})
	}
	return out
}

// Resolve binds each participant to a person, picks the primary
// participant, and upserts interview links. Generic speakers are never
// created as people.
func (r *Resolver) Resolve(ctx context.Context, meta Metadata, participants []Participant) (*Resolution, error) {
	logger := logging.WithContext(ctx, r.logger)
	normalized := NormalizeParticipants(participants)
	if len(normalized) == 0 {
		normalized = []Participant{{
			PersonKey:   "person-0",
			Role:        "participant",
			DisplayName: FallbackPersonName(meta),
		}}
		logger.Info("no participants reported; synthesizing fallback participant",
			logging.Args(logging.DecisionAttrs("participant_fallback", "synthesized", "extraction returned no people")...)...)
	}

	existing, err := r.links.ListInterviewPeople(ctx, meta.InterviewID)
	if err != nil {
		return nil, fmt.Errorf("load interview links: %w", err)
	}
	linkedByLabel := make(map[string]store.InterviewPerson, len(existing))
	linkedByPerson := make(map[string]store.InterviewPerson, len(existing))
	for _, link := range existing {
		if key := labelKey(link.TranscriptKey); key != "" {
			linkedByLabel[key] = link
		}
		linkedByPerson[link.PersonID] = link
	}

	res := &Resolution{
		Participants:   normalized,
		PersonIDByKey:  make(map[string]string, len(normalized)),
		RoleByPersonID: make(map[string]string, len(normalized)),
	}
	displayByPerson := make(map[string]string, len(normalized))
	labelByPerson := make(map[string]string, len(normalized))

	var internal *store.Person
	for i, p := range normalized {
		var (
			personID string
			display  string
		)
		if p.Role == RoleInterviewer && strings.TrimSpace(meta.InterviewerName) != "" {
			if internal == nil {
				internal, _, err = r.matcher.Match(ctx, Candidate{
					AccountID: meta.AccountID,
					ProjectID: meta.ProjectID,
					Name:      meta.InterviewerName,
					Role:      RoleInterviewer,
					Internal:  true,
				})
				if err != nil {
					return nil, fmt.Errorf("bind interviewer: %w", err)
				}
			}
			personID = internal.ID
			display = firstNonEmpty(internal.Name, p.DisplayName)
			if display == "" {
				display, _ = ResolveName(p, i, meta)
			}
		} else {
			name, source := ResolveName(p, i, meta)
			if source == SourceFallback || IsGenericLabel(name) {
				if link, ok := r.existingLink(linkedByLabel, p); ok {
					personID = link.PersonID
					display = link.DisplayName
					logger.Debug("generic speaker reuses existing link",
						logging.String("person_key", p.PersonKey),
						logging.String("person_id", personID))
				} else {
					res.Unlinked = append(res.Unlinked, firstNonEmpty(p.SpeakerLabel, p.PersonKey))
					logger.Info("speaker left unlinked",
						logging.Args(append(logging.DecisionAttrs("person_resolution", "skipped", "generic label"),
							logging.String("person_key", p.PersonKey),
							logging.String("label", name))...)...)
					continue
				}
			} else {
				person, created, err := r.matcher.Match(ctx, Candidate{
					AccountID:    meta.AccountID,
					ProjectID:    meta.ProjectID,
					Name:         name,
					Organization: p.Organization,
					Role:         p.Role,
					Segment:      firstNonEmpty(firstOf(p.Segments), meta.Segment),
					Description:  p.Summary,
				})
				if err != nil {
					return nil, fmt.Errorf("resolve participant %s: %w", p.PersonKey, err)
				}
				personID = person.ID
				display = name
				if created {
					logger.Info("person created",
						logging.String("person_id", person.ID),
						logging.String("person_key", p.PersonKey),
						logging.String("name_source", string(source)))
				}
			}
		}
		res.PersonIDByKey[p.PersonKey] = personID
		if _, ok := res.RoleByPersonID[personID]; !ok {
			res.RoleByPersonID[personID] = firstNonEmpty(p.Role, "participant")
		}
		if _, ok := displayByPerson[personID]; !ok {
			displayByPerson[personID] = display
			labelByPerson[personID] = firstNonEmpty(p.SpeakerLabel, p.PersonKey)
		}
	}

	r.pickPrimary(res)
	if res.PrimaryPersonID == "" {
		name := FallbackPersonName(meta)
		person, _, err := r.matcher.Match(ctx, Candidate{
			AccountID: meta.AccountID,
			ProjectID: meta.ProjectID,
			Name:      name,
			Role:      "participant",
			Segment:   meta.Segment,
		})
		if err != nil {
			return nil, fmt.Errorf("ensure fallback person: %w", err)
		}
		res.PrimaryPersonID = person.ID
		res.PrimaryName = person.Name
		res.UsedFallback = true
		res.RoleByPersonID[person.ID] = "participant"
		displayByPerson[person.ID] = person.Name
		logging.WarnWithContext(logger, "no named participant; attributing to fallback person", "people_fallback",
			logging.String("person_id", person.ID),
			logging.String("person_name", person.Name),
			logging.String(logging.FieldErrorHint, "set participant_name on upload or review speakers"),
			logging.String(logging.FieldImpact, "evidence attributed to a placeholder person"))
	}

	for personID, aiName := range displayByPerson {
		link := store.InterviewPerson{
			InterviewID:   meta.InterviewID,
			PersonID:      personID,
			Role:          res.RoleByPersonID[personID],
			TranscriptKey: labelByPerson[personID],
			DisplayName:   chooseDisplayName(linkedByPerson[personID].DisplayName, aiName),
		}
		if err := r.links.UpsertInterviewPerson(ctx, link); err != nil {
			return nil, fmt.Errorf("link person %s: %w", personID, err)
		}
	}
	return res, nil
}

// pickPrimary selects the first resolved non-interviewer, then the first
// resolved participant of any role.
func (r *Resolver) pickPrimary(res *Resolution) {
	for _, p := range res.Participants {
		id := res.PersonIDByKey[p.PersonKey]
		if id == "" || p.Role == RoleInterviewer {
			continue
		}
		res.PrimaryKey, res.PrimaryPersonID = p.PersonKey, id
		res.PrimaryName, _ = ResolveName(p, 0, Metadata{})
		return
	}
	for _, p := range res.Participants {
		if id := res.PersonIDByKey[p.PersonKey]; id != "" {
			res.PrimaryKey, res.PrimaryPersonID = p.PersonKey, id
			res.PrimaryName, _ = ResolveName(p, 0, Metadata{})
			return
		}
	}
	if len(res.Participants) > 0 {
		res.PrimaryKey = res.Participants[0].PersonKey
	}
}

func (r *Resolver) existingLink(byLabel map[string]store.InterviewPerson, p Participant) (store.InterviewPerson, bool) {
	for _, key := range []string{p.SpeakerLabel, p.PersonKey} {
		if link, ok := byLabel[labelKey(key)]; ok && key != "" {
			return link, true
		}
	}
	return store.InterviewPerson{}, false
}

// chooseDisplayName keeps a stored real name over whatever extraction
// reported, and prefers a real extracted name over a stored placeholder.
func chooseDisplayName(stored, extracted string) string {
	stored = strings.TrimSpace(stored)
	extracted = strings.TrimSpace(extracted)
	switch {
	case stored != "" && !IsGenericDisplayName(stored):
		return stored
	case extracted != "" && !IsGenericDisplayName(extracted):
		return extracted
	case stored != "":
		return stored
	default:
		return extracted
	}
}

func labelKey(label string) string {
	return strings.ToLower(keySeparators.ReplaceAllString(strings.TrimSpace(label), " "))
}

func trimAll(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func firstOf(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
