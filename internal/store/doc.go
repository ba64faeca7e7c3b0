// Package store persists interviews, workflow progress documents, people,
// evidence, facet catalogs, themes, and queued orchestrator jobs in SQLite.
//
// Every write is an upsert keyed by natural uniqueness (interview and person,
// evidence and facet, project and theme name, job idempotency key) so steps
// can be re-run after a crash without duplicating rows. Busy databases are
// retried with a short exponential backoff.
package store
