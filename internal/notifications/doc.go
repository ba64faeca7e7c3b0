// Package notifications delivers pipeline run events over ntfy.
//
// NewService returns a no-op implementation when no topic is configured, so
// the workflow manager can publish unconditionally. Completed and failed run
// events can be silenced independently from config.toml.
package notifications
