// Package services defines shared utilities consumed by the workflow steps
// and external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp interview IDs, step names, run IDs, and
//     correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that translate failures
//     into consistent status details.
//   - Retry classification and bounded exponential backoff shared by the LLM
//     client and the step runner.
package services
