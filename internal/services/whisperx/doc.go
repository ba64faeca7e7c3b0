// Package whisperx transcribes interview recordings with WhisperX.
//
// Media is first converted to mono 16kHz WAV with ffmpeg, then passed to
// WhisperX through uvx. The WhisperX JSON output is reshaped into the
// transcript document the pipeline stores: plain text with speaker labels,
// a word timeline, and a segment timeline. With a Hugging Face token,
// diarization is enabled and segments carry SPEAKER_NN labels.
package whisperx
