// Package main hosts the gleaner CLI entrypoint and command graph.
//
// Commands either run the pipeline in-process against the local database or,
// when a daemon is reachable over its HTTP API, hand the work to it. Both
// paths share the runtime wiring in internal/daemonrun so an in-process run
// and a daemon run behave identically.
package main
