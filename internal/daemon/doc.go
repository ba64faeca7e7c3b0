// Package daemon runs the long-lived gleanerd process.
//
// It ties configuration, the interview store, the workflow manager, the
// deferred-step scheduler, and the inbox watcher into one lifecycle guarded
// by a flock so only one daemon owns a state directory. An optional HTTP API
// exposes status, job submission, sweeps, and the live log stream.
//
// Pipeline logic belongs in workflow and its step packages; this package only
// starts, stops, and reports on them.
package daemon
