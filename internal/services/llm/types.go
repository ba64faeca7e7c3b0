package llm

// FacetHint grounds extraction in the existing facet catalog.
type FacetHint struct {
	Kind  string `json:"kind_slug"`
	Label string `json:"label"`
}

// EvidenceRequest is one transcript batch sent for evidence extraction.
type EvidenceRequest struct {
	Transcript   string      `json:"transcript"`
	Speakers     []string    `json:"speakers,omitempty"`
	Facets       []FacetHint `json:"facet_catalog,omitempty"`
	Language     string      `json:"language,omitempty"`
	Instructions string      `json:"instructions,omitempty"`
	BatchIndex   int         `json:"batch_index"`
	BatchCount   int         `json:"batch_count"`
}

// EvidenceResponse is the extraction payload for one batch.
type EvidenceResponse struct {
	Evidence           []EvidenceUnit `json:"evidence"`
	People             []PersonUnit   `json:"people"`
	InteractionContext string         `json:"interaction_context"`
	ContextConfidence  *float64       `json:"context_confidence"`
	ContextReasoning   string         `json:"context_reasoning"`
}

// EvidenceUnit is a quote the model judged worth keeping.
type EvidenceUnit struct {
	PersonKey     string         `json:"person_key"`
	Verbatim      string         `json:"verbatim"`
	Chunk         string         `json:"chunk"`
	Gist          string         `json:"gist"`
	Topic         string         `json:"topic"`
	Confidence    string         `json:"confidence"`
	IsQuestion    bool           `json:"is_question"`
	Anchors       []RawAnchor    `json:"anchors"`
	FacetMentions []FacetMention `json:"facet_mentions"`
	KindTags      []string       `json:"kind_tags"`
}

// RawAnchor holds whatever timing the model attached. Values are coerced
// later because models return numbers, "mm:ss" strings, and "NNNms" alike.
type RawAnchor struct {
	StartMS      any `json:"start_ms"`
	StartSeconds any `json:"start_seconds"`
}

// FacetMention is a trait observed in one evidence unit.
type FacetMention struct {
	KindSlug string `json:"kind_slug"`
	Value    string `json:"value"`
	Quote    string `json:"quote"`
}

// PersonUnit is a participant as the model understood them.
type PersonUnit struct {
	PersonKey    string        `json:"person_key"`
	SpeakerLabel string        `json:"speaker_label"`
	Role         string        `json:"role"`
	DisplayName  string        `json:"display_name"`
	InferredName string        `json:"inferred_name"`
	Organization string        `json:"organization"`
	Summary      string        `json:"summary"`
	Segments     []string      `json:"segments"`
	Personas     []string      `json:"personas"`
	Facets       []PersonFacet `json:"facets"`
}

// PersonFacet is a synthesized trait of a participant.
type PersonFacet struct {
	KindSlug     string   `json:"kind_slug"`
	Value        string   `json:"value"`
	EvidenceRefs []int    `json:"evidence_refs"`
	Confidence   *float64 `json:"confidence"`
	Reasoning    string   `json:"reasoning"`
}

// EvidenceRef is an evidence unit handed back to the model by position.
type EvidenceRef struct {
	Index    int    `json:"index"`
	Gist     string `json:"gist"`
	Verbatim string `json:"verbatim"`
	Topic    string `json:"topic,omitempty"`
}

// InsightRequest asks for themes across an interview's evidence.
type InsightRequest struct {
	Evidence       []EvidenceRef `json:"evidence"`
	ExistingThemes []string      `json:"existing_themes,omitempty"`
	Instructions   string        `json:"instructions,omitempty"`
}

// InsightResponse lists proposed themes.
type InsightResponse struct {
	Themes []ThemeUnit `json:"themes"`
}

// ThemeUnit is a proposed theme and the evidence that supports it.
type ThemeUnit struct {
	Name              string `json:"name"`
	Statement         string `json:"statement"`
	InclusionCriteria string `json:"inclusion_criteria"`
	EvidenceRefs      []int  `json:"evidence_refs"`
}

// PersonBrief describes a resolved person for persona assignment.
type PersonBrief struct {
	PersonID string   `json:"person_id"`
	Name     string   `json:"name"`
	Role     string   `json:"role,omitempty"`
	Summary  string   `json:"summary,omitempty"`
	Segments []string `json:"segments,omitempty"`
}

// PersonaRequest asks which personas the interview's people belong to.
type PersonaRequest struct {
	People           []PersonBrief `json:"people"`
	ExistingPersonas []string      `json:"existing_personas,omitempty"`
	Evidence         []EvidenceRef `json:"evidence,omitempty"`
}

// PersonaResponse lists personas and their members.
type PersonaResponse struct {
	Personas []PersonaUnit `json:"personas"`
}

// PersonaUnit is one persona with assigned people.
type PersonaUnit struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Members     []PersonaMember `json:"members"`
}

// PersonaMember assigns a person to a persona.
type PersonaMember struct {
	PersonID   string  `json:"person_id"`
	Confidence float64 `json:"confidence"`
}

// QuestionBrief is a project research question.
type QuestionBrief struct {
	ID       string `json:"id"`
	Question string `json:"question"`
}

// AnswerRequest asks the model to answer project questions from evidence.
type AnswerRequest struct {
	Questions []QuestionBrief `json:"questions"`
	Evidence  []EvidenceRef   `json:"evidence"`
}

// AnswerResponse lists answers keyed by question id.
type AnswerResponse struct {
	Answers []AnswerUnit `json:"answers"`
}

// AnswerUnit answers one question.
type AnswerUnit struct {
	QuestionID   string  `json:"question_id"`
	Answer       string  `json:"answer"`
	Confidence   float64 `json:"confidence"`
	EvidenceRefs []int   `json:"evidence_refs"`
}

// EnrichRequest asks for profile details of one person.
type EnrichRequest struct {
	Name     string        `json:"name"`
	Role     string        `json:"role,omitempty"`
	Summary  string        `json:"summary,omitempty"`
	Evidence []EvidenceRef `json:"evidence,omitempty"`
}

// EnrichResponse carries the inferred profile fields.
type EnrichResponse struct {
	Description  string `json:"description"`
	Organization string `json:"organization"`
	Role         string `json:"role"`
	Segment      string `json:"segment"`
}
