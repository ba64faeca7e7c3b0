// Package timestamps maps evidence snippets to playback positions.
//
// A Resolver is built once per interview from the transcript's timing data
// and answers lookups with a four-stage fallback: an exact word-window match
// against the word timeline, a normalized substring match against segments,
// a token-overlap match against segments, and finally a proportional
// estimate from the snippet's offset inside the full transcript. The first
// stage that succeeds wins. Snippets that no stage can place are left
// unanchored.
package timestamps
