// Package facets resolves free-text trait mentions against the facet catalog.
//
// A Matcher snapshots the catalog (global entries plus the account's own)
// once per extraction run into a two-level index keyed by kind slug and then
// by normalized label or synonym. Hits reuse the catalog id; a hit on a
// global entry creates an account override that points back at it, leaving
// the global row untouched. Misses create a new account entry.
package facets
