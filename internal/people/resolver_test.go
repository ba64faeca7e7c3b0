package people_test

import (
	"context"
	"testing"

	"gleaner/internal/people"
	"gleaner/internal/store"
	"gleaner/internal/testsupport"
)

func newResolver(t *testing.T, st *store.Store) *people.Resolver {
	t.Helper()
	return people.NewResolver(people.NewStoreMatcher(st), st, nil)
}

func metaFor(iv *store.Interview) people.Metadata {
	return people.Metadata{AccountID: iv.AccountID, ProjectID: iv.ProjectID, InterviewID: iv.ID}
}

func TestResolveSingleNamedSpeaker(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	iv := testsupport.NewInterview(t, st, cfg, "Discovery", "hello")
	ctx := context.Background()

	res, err := newResolver(t, st).Resolve(ctx, metaFor(iv), []people.Participant{
		{PersonKey: "sarah", SpeakerLabel: "SPEAKER A", Role: "participant", DisplayName: "Sarah Chen", Organization: "Acme"},
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.PrimaryKey != "sarah" || res.PrimaryPersonID == "" {
		t.Fatalf("unexpected primary: %+v", res)
	}
	person, err := st.GetPerson(ctx, res.PrimaryPersonID)
	if err != nil {
		t.Fatalf("GetPerson failed: %v", err)
	}
	if person.FirstName != "Sarah" || person.LastName != "Chen" || person.Organization != "Acme" {
		t.Fatalf("unexpected person: %+v", person)
	}
	links, err := st.ListInterviewPeople(ctx, iv.ID)
	if err != nil {
		t.Fatalf("ListInterviewPeople failed: %v", err)
	}
	if len(links) != 1 || links[0].TranscriptKey != "SPEAKER A" || links[0].DisplayName != "Sarah Chen" {
		t.Fatalf("unexpected links: %+v", links)
	}
	for _, raw := range []string{"sarah", "", "unknown-key"} {
		key, id := res.Attribute(raw)
		if key != "sarah" || id != res.PrimaryPersonID {
			t.Fatalf("Attribute(%q) = %q, %q", raw, key, id)
		}
	}
}

func TestResolveLeavesUnnamedSpeakerUnlinked(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	iv := testsupport.NewInterview(t, st, cfg, "Two speakers", "hello")
	ctx := context.Background()

	res, err := newResolver(t, st).Resolve(ctx, metaFor(iv), []people.Participant{
		{PersonKey: "speaker-a", SpeakerLabel: "SPEAKER A", Role: "participant", DisplayName: "Dana Park"},
		{PersonKey: "speaker-b", SpeakerLabel: "SPEAKER B", Role: "participant"},
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(res.PersonIDByKey) != 1 {
		t.Fatalf("expected exactly one resolved person, got %v", res.PersonIDByKey)
	}
	if len(res.Unlinked) != 1 || res.Unlinked[0] != "SPEAKER B" {
		t.Fatalf("expected SPEAKER B unlinked, got %v", res.Unlinked)
	}
	if matches, _ := st.FindPeopleByName(ctx, iv.AccountID, "Speaker B"); len(matches) != 0 {
		t.Fatalf("generic speaker must not become a person: %+v", matches)
	}
	links, _ := st.ListInterviewPeople(ctx, iv.ID)
	if len(links) != 1 {
		t.Fatalf("expected one interview link, got %+v", links)
	}
	if key, id := res.Attribute("speaker-b"); key != "speaker-b" || id != "" {
		t.Fatalf("expected unlinked attribution, got %q %q", key, id)
	}
}

func TestResolveReusesExistingLinkForGenericSpeaker(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	iv := testsupport.NewInterview(t, st, cfg, "Relinked", "hello")
	ctx := context.Background()

	manual, _, err := st.InsertPerson(ctx, &store.Person{AccountID: iv.AccountID, Name: "Lee Wong"})
	if err != nil {
		t.Fatalf("InsertPerson failed: %v", err)
	}
	if err := st.UpsertInterviewPerson(ctx, store.InterviewPerson{
		InterviewID: iv.ID, PersonID: manual.ID, Role: "participant", TranscriptKey: "SPEAKER B", DisplayName: "Lee Wong",
	}); err != nil {
		t.Fatalf("UpsertInterviewPerson failed: %v", err)
	}

	res, err := newResolver(t, st).Resolve(ctx, metaFor(iv), []people.Participant{
		{PersonKey: "speaker-b", SpeakerLabel: "SPEAKER B", Role: "participant", DisplayName: "Speaker B"},
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.PersonIDByKey["speaker-b"] != manual.ID {
		t.Fatalf("expected manual link reuse, got %v", res.PersonIDByKey)
	}
	links, _ := st.ListInterviewPeople(ctx, iv.ID)
	if len(links) != 1 || links[0].DisplayName != "Lee Wong" {
		t.Fatalf("expected stored display name preserved, got %+v", links)
	}
}

func TestResolveBindsInterviewerToInternalIdentity(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	iv := testsupport.NewInterview(t, st, cfg, "Interviewed", "hello")
	ctx := context.Background()

	meta := metaFor(iv)
	meta.InterviewerName = "Riley Ortiz"
	res, err := newResolver(t, st).Resolve(ctx, meta, []people.Participant{
		{PersonKey: "interviewer", SpeakerLabel: "SPEAKER A", Role: "Interviewer"},
		{PersonKey: "customer", SpeakerLabel: "SPEAKER B", Role: "participant", InferredName: "Morgan Blake"},
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.PrimaryKey != "customer" {
		t.Fatalf("expected non-interviewer primary, got %q", res.PrimaryKey)
	}
	interviewer, err := st.GetPerson(ctx, res.PersonIDByKey["interviewer"])
	if err != nil {
		t.Fatalf("GetPerson failed: %v", err)
	}
	if !interviewer.IsInternal || interviewer.Name != "Riley Ortiz" {
		t.Fatalf("unexpected interviewer person: %+v", interviewer)
	}
	if res.RoleByPersonID[interviewer.ID] != people.RoleInterviewer {
		t.Fatalf("expected interviewer role, got %v", res.RoleByPersonID)
	}
}

func TestResolveSynthesizesFallbackPerson(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	iv := testsupport.NewInterview(t, st, cfg, "Silent", "")
	ctx := context.Background()

	res, err := newResolver(t, st).Resolve(ctx, metaFor(iv), nil)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.PrimaryKey != "person-0" || res.PrimaryPersonID == "" {
		t.Fatalf("expected fallback participant, got %+v", res)
	}
	person, _ := st.GetPerson(ctx, res.PrimaryPersonID)
	if person.Name != people.FallbackName {
		t.Fatalf("expected %q, got %q", people.FallbackName, person.Name)
	}
}

func TestResolveAllGenericFallsBackToPlaceholder(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	iv := testsupport.NewInterview(t, st, cfg, "Generic", "hello")
	ctx := context.Background()

	meta := metaFor(iv)
	meta.ParticipantName = "Jordan Lee"
	res, err := newResolver(t, st).Resolve(ctx, meta, []people.Participant{
		{PersonKey: "speaker-a", Role: "participant"},
		{PersonKey: "speaker-b", Role: "participant"},
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !res.UsedFallback || res.PrimaryName != "Jordan Lee" {
		t.Fatalf("expected fallback to participant name, got %+v", res)
	}
	if _, id := res.Attribute("speaker-b"); id != res.PrimaryPersonID {
		t.Fatalf("expected all evidence on fallback person, got %q", id)
	}
}

func TestNormalizeParticipantsDisambiguatesKeys(t *testing.T) {
	out := people.NormalizeParticipants([]people.Participant{
		{PersonKey: " dup ", Role: " Participant "},
		{PersonKey: "dup"},
		{},
	})
	keys := []string{out[0].PersonKey, out[1].PersonKey, out[2].PersonKey}
	want := []string{"dup", "dup-1", "person-2"}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("keys = %v, want %v", keys, want)
		}
	}
	if out[0].Role != "participant" {
		t.Fatalf("expected lowercased role, got %q", out[0].Role)
	}
}

func TestStoreMatcherIsOrganizationAware(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	m := people.NewStoreMatcher(st)

	first, created, err := m.Match(ctx, people.Candidate{AccountID: "acct", Name: "Alex Kim"})
	if err != nil || !created {
		t.Fatalf("expected creation, got created=%v err=%v", created, err)
	}
	adopted, created, err := m.Match(ctx, people.Candidate{AccountID: "acct", Name: "alex  kim", Organization: "Acme"})
	if err != nil || created || adopted.ID != first.ID {
		t.Fatalf("expected org adoption on existing person, got %+v created=%v err=%v", adopted, created, err)
	}
	other, created, err := m.Match(ctx, people.Candidate{AccountID: "acct", Name: "Alex Kim", Organization: "Globex"})
	if err != nil || !created || other.ID == first.ID {
		t.Fatalf("expected new person for different org, got %+v created=%v err=%v", other, created, err)
	}
}
