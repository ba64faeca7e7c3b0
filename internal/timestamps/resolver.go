package timestamps

import (
	"strings"

	"gleaner/internal/textutil"
)

const (
	wordWindowSize     = 4
	snippetSearchChars = 160
	fuzzyMinTokens     = 3
	fuzzyMinOverlap    = 0.4
)

// Stage identifies which fallback produced a match.
type Stage int

const (
	StageNone Stage = iota
	StageWord
	StageSegment
	StageFuzzy
	StageEstimate
)

func (s Stage) String() string {
	switch s {
	case StageWord:
		return "word"
	case StageSegment:
		return "segment"
	case StageFuzzy:
		return "fuzzy"
	case StageEstimate:
		return "estimate"
	default:
		return "none"
	}
}

// Match is a resolved playback position.
type Match struct {
	Seconds float64
	Stage   Stage
}

// Timeline is the timing data available for one interview.
type Timeline struct {
	Words           []WordEntry
	Segments        []SegmentEntry
	FullTranscript  string
	DurationSeconds float64
}

// TimelineFromJSON builds a Timeline from raw transcript JSON plus the
// plain transcript and duration stored on the interview.
func TimelineFromJSON(raw []byte, fullTranscript string, durationSeconds float64) (Timeline, error) {
	data, err := ParseTranscriptData(raw)
	if err != nil {
		return Timeline{}, err
	}
	return Timeline{
		Words:           BuildWordTimeline(data),
		Segments:        BuildSegmentTimeline(data),
		FullTranscript:  fullTranscript,
		DurationSeconds: durationSeconds,
	}, nil
}

type wordToken struct {
	token string
	start float64
}

type segmentIndex struct {
	normalized string
	tokens     []string
	start      *float64
}

// Resolver answers snippet lookups against one interview's timeline. It
// normalizes the timeline once so repeated lookups stay cheap.
type Resolver struct {
	words      []wordToken
	segments   []segmentIndex
	transcript string
	duration   float64
}

// NewResolver indexes the timeline.
func NewResolver(tl Timeline) *Resolver {
	r := &Resolver{
		transcript: textutil.NormalizeSearchText(tl.FullTranscript),
		duration:   tl.DurationSeconds,
	}
	for _, w := range tl.Words {
		for _, token := range textutil.NormalizeTokens(w.Text) {
			r.words = append(r.words, wordToken{token: token, start: w.Start})
		}
	}
	for _, seg := range tl.Segments {
		r.segments = append(r.segments, segmentIndex{
			normalized: textutil.NormalizeSearchText(seg.Text),
			tokens:     textutil.NormalizeTokens(seg.Text),
			start:      seg.Start,
		})
	}
	return r
}

// Find locates the snippet. The boolean is false when no stage matched.
func (r *Resolver) Find(snippet string) (Match, bool) {
	if r == nil || strings.TrimSpace(snippet) == "" {
		return Match{}, false
	}
	tokens := textutil.NormalizeTokens(snippet)
	if s, ok := r.matchWords(tokens); ok {
		return Match{Seconds: s, Stage: StageWord}, true
	}
	needle := textutil.Truncate(textutil.NormalizeSearchText(snippet), snippetSearchChars)
	if s, ok := r.matchSegmentSubstring(needle); ok {
		return Match{Seconds: s, Stage: StageSegment}, true
	}
	if s, ok := r.matchSegmentOverlap(tokens); ok {
		return Match{Seconds: s, Stage: StageFuzzy}, true
	}
	if s, ok := r.estimate(needle); ok {
		return Match{Seconds: s, Stage: StageEstimate}, true
	}
	return Match{}, false
}

// FindSeconds is Find without the stage.
func (r *Resolver) FindSeconds(snippet string) (float64, bool) {
	m, ok := r.Find(snippet)
	return m.Seconds, ok
}

func (r *Resolver) matchWords(tokens []string) (float64, bool) {
	if len(tokens) == 0 || len(r.words) == 0 {
		return 0, false
	}
	window := tokens[:min(wordWindowSize, len(tokens))]
	for i := 0; i+len(window) <= len(r.words); i++ {
		matched := true
		for j, token := range window {
			if r.words[i+j].token != token {
				matched = false
				break
			}
		}
		if matched {
			return r.words[i].start, true
		}
	}
	return 0, false
}

func (r *Resolver) matchSegmentSubstring(needle string) (float64, bool) {
	if needle == "" {
		return 0, false
	}
	for _, seg := range r.segments {
		if seg.start == nil {
			continue
		}
		if strings.Contains(seg.normalized, needle) {
			return *seg.start, true
		}
	}
	return 0, false
}

func (r *Resolver) matchSegmentOverlap(tokens []string) (float64, bool) {
	distinct := distinctCount(tokens)
	if distinct < fuzzyMinTokens {
		return 0, false
	}
	bestScore := 0.0
	var best *float64
	for _, seg := range r.segments {
		if seg.start == nil || len(seg.tokens) < fuzzyMinTokens {
			continue
		}
		score := float64(textutil.TokenOverlap(tokens, seg.tokens)) / float64(distinct)
		if score > bestScore {
			bestScore = score
			best = seg.start
		}
	}
	if best == nil || bestScore < fuzzyMinOverlap {
		return 0, false
	}
	return *best, true
}

func (r *Resolver) estimate(needle string) (float64, bool) {
	if needle == "" || r.duration <= 0 || r.transcript == "" {
		return 0, false
	}
	idx := strings.Index(r.transcript, needle)
	if idx < 0 {
		return 0, false
	}
	seconds := r.duration * float64(idx) / float64(len(r.transcript))
	return max(0, min(seconds, r.duration)), true
}

func distinctCount(tokens []string) int {
	seen := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		seen[token] = struct{}{}
	}
	return len(seen)
}
