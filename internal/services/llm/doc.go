// Package llm provides an OpenRouter-compatible chat client and the typed
// calls the interview pipeline makes through it.
//
// # Calls
//
// ExtractEvidence: one transcript batch in, evidence units and participants out.
// GenerateInsights: evidence in, proposed themes out.
// AssignPersonas: resolved people in, persona memberships out.
// AttributeAnswers: project questions and evidence in, answers out.
// EnrichPerson: one person's quotes in, profile fields out.
//
// Every call sends a system prompt plus the JSON-encoded request and asks
// for a JSON object back. Responses wrapped in code fences or surrounded by
// prose are tolerated by DecodeLLMJSON.
//
// # Retry Behaviour
//
// The client retries HTTP 408/429/5xx, empty completions, and network
// timeouts with exponential backoff (base 1s, max 10s, 5 attempts by
// default), honoring Retry-After. Requests the provider rejects as
// malformed, unauthorized, or over the context length fail immediately with
// services.ErrNonRetryable. A call that uses every attempt fails with
// services.ErrRetriesExhausted, which step-level retry does not repeat.
package llm
