// Package evidence turns a transcript into persisted, attributable evidence.
//
// One extraction run batches the transcript under a token budget, asks the
// model for evidence units and participants, resolves participants to durable
// people, anchors each quote to a playback position, matches facet mentions
// against the account catalog, and replaces the interview's evidence in a
// single transaction. The run finishes with an attribution parity check.
package evidence
