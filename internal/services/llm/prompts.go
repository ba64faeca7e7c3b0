package llm

// EvidencePrompt drives per-batch evidence and participant extraction.
const EvidencePrompt = `You extract research evidence from customer interview transcripts.
The user message is JSON with a transcript batch, the speaker labels present, and the facet catalog.
Return a JSON object with keys:
  "evidence": array of {"person_key","verbatim","chunk","gist","topic","confidence","is_question","anchors","facet_mentions","kind_tags"}
  "people": array of {"person_key","speaker_label","role","display_name","inferred_name","organization","summary","segments","personas","facets"}
  "interaction_context": one of "research","sales","support","internal","other"
  "context_confidence": number 0-1
  "context_reasoning": short string
Rules:
- "verbatim" must be copied exactly from the transcript. Never paraphrase a verbatim.
- "confidence" is "high", "medium", or "low".
- "anchors" is a list of {"start_ms"} or {"start_seconds"} when the transcript shows timing.
- "person_key" on evidence must match a person_key in "people".
- Use "display_name" only when the speaker's real name is stated. Leave it empty for unnamed speakers; never invent names.
- "role" is "interviewer" for the person asking questions, otherwise "participant".
- Prefer facet labels from the catalog; "facet_mentions" is a list of {"kind_slug","value","quote"}.
- Person "facets" is a list of {"kind_slug","value","evidence_refs","confidence","reasoning"} where evidence_refs index into "evidence".`

// InsightPrompt proposes themes from an interview's evidence.
const InsightPrompt = `You synthesize themes from interview evidence.
The user message is JSON with numbered evidence and the names of themes that already exist in the project.
Return a JSON object {"themes": [{"name","statement","inclusion_criteria","evidence_refs"}]}.
Reuse an existing theme name exactly when the evidence fits it. "evidence_refs" are evidence indexes.
Keep names short (2-6 words). Return at most 8 themes.`

// PersonaPrompt assigns interview people to project personas.
const PersonaPrompt = `You group interview participants into personas.
The user message is JSON with people, existing persona names, and supporting evidence.
Return a JSON object {"personas": [{"name","description","members": [{"person_id","confidence"}]}]}.
Reuse an existing persona name exactly when a person fits it. Only use person_id values from the input.
Interviewers are never assigned to personas.`

// AnswerPrompt attributes evidence to project research questions.
const AnswerPrompt = `You answer research questions using interview evidence.
The user message is JSON with questions and numbered evidence.
Return a JSON object {"answers": [{"question_id","answer","confidence","evidence_refs"}]}.
Answer only questions the evidence addresses. "confidence" is 0-1. Cite evidence by index.`

// EnrichPrompt fills a person's profile from what they said.
const EnrichPrompt = `You write short profiles of interview participants.
The user message is JSON with the person's name, role, summary, and their quotes.
Return a JSON object {"description","organization","role","segment"}.
Leave a field empty when the quotes do not support it. Description is at most two sentences.`
