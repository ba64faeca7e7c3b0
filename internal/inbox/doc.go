// Package inbox turns files dropped into the configured inbox directory
// into interviews with a queued workflow run.
//
// Plain-text and JSON transcripts are read immediately. Audio and video
// files are accepted only when transcription is enabled; their interview
// starts without a transcript and the upload step transcribes them.
// Ingested files move to the processed/ subdirectory, and files that
// cannot be read move to failed/.
package inbox
