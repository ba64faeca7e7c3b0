// Package scheduler sweeps recently updated interviews on a cron schedule
// and queues the deferred workflow steps of those whose core steps are done.
//
// Each sweep reads the persisted workflow state, picks interviews where
// evidence and finalize completed but a deferred step (personas, answers,
// enrich-person by default) has not, and enqueues one resume job per
// interview. Jobs carry an idempotency key bucketed by time so repeated
// sweeps inside one window never queue the same interview twice.
package scheduler
