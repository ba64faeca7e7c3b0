package timestamps

import (
	"encoding/json"
	"fmt"
	"strings"
)

// WordEntry is one word from the word-level timeline.
type WordEntry struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
}

// SegmentEntry is one utterance or segment. Start is nil when the provider
// gave no timing; such segments still take part in substring matching.
type SegmentEntry struct {
	Text  string   `json:"text"`
	Start *float64 `json:"start"`
}

var segmentKeys = []string{"utterances", "speaker_transcripts", "segments"}

// ParseTranscriptData decodes raw transcript JSON into a generic document.
func ParseTranscriptData(raw []byte) (map[string]any, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return map[string]any{}, nil
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode transcript data: %w", err)
	}
	if data == nil {
		data = map[string]any{}
	}
	return data, nil
}

// BuildWordTimeline extracts words with a usable start time. Text is
// lowercased. When the document carries no top-level words, words nested
// under segments are used instead.
func BuildWordTimeline(data map[string]any) []WordEntry {
	words, ok := data["words"].([]any)
	if !ok {
		words, ok = data["word_segments"].([]any)
	}
	if !ok {
		for _, seg := range asSlice(data["segments"]) {
			if m, isMap := seg.(map[string]any); isMap {
				words = append(words, asSlice(m["words"])...)
			}
		}
	}
	out := make([]WordEntry, 0, len(words))
	for _, raw := range words {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		text := firstString(m, "text", "word")
		if text == "" {
			continue
		}
		start, ok := startSeconds(m)
		if !ok {
			continue
		}
		out = append(out, WordEntry{Text: strings.ToLower(text), Start: start})
	}
	return out
}

// BuildSegmentTimeline collects utterances, speaker transcripts, and
// segments in that order. Text falls back to the gist.
func BuildSegmentTimeline(data map[string]any) []SegmentEntry {
	var out []SegmentEntry
	for _, key := range segmentKeys {
		for _, raw := range asSlice(data[key]) {
			m, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			text := firstString(m, "text", "gist")
			if text == "" {
				continue
			}
			entry := SegmentEntry{Text: text}
			if start, ok := startSeconds(m); ok {
				entry.Start = &start
			}
			out = append(out, entry)
		}
	}
	return out
}

func startSeconds(m map[string]any) (float64, bool) {
	if v, ok := m["start"]; ok {
		if s, ok := CoerceSeconds(v); ok {
			return s, true
		}
	}
	if v, ok := m["start_ms"]; ok {
		return millisToSeconds(v)
	}
	return 0, false
}

func firstString(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := m[key].(string); ok {
			if trimmed := strings.TrimSpace(s); trimmed != "" {
				return trimmed
			}
		}
	}
	return ""
}

func asSlice(v any) []any {
	s, _ := v.([]any)
	return s
}
