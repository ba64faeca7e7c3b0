package evidence

import (
	"math"
	"regexp"
	"strings"
	"unicode/utf8"

	"gleaner/internal/textutil"
)

const (
	charsPerToken        = 3.5
	defaultMaxTokens     = 12000
	promptOverheadTokens = 1500
	minBatchTokens       = 400
)

var speakerLine = regexp.MustCompile(`^([A-Za-z][\w.'\-]*(?: [\w.'\-]+){0,3}):\s*(.*)$`)

// Utterance is one transcript line, optionally prefixed by a speaker label.
type Utterance struct {
	Speaker string
	Text    string
}

func (u Utterance) String() string {
	if u.Speaker == "" {
		return u.Text
	}
	return u.Speaker + ": " + u.Text
}

// ParseUtterances splits a transcript into non-empty lines. "LABEL: text"
// lines keep their label.
func ParseUtterances(transcript string) []Utterance {
	var out []Utterance
	for _, line := range strings.Split(transcript, "\n") {
		line = textutil.CollapseWhitespace(textutil.StripControl(line))
		if line == "" {
			continue
		}
		if m := speakerLine.FindStringSubmatch(line); m != nil && strings.TrimSpace(m[2]) != "" {
			out = append(out, Utterance{Speaker: m[1], Text: strings.TrimSpace(m[2])})
			continue
		}
		out = append(out, Utterance{Text: line})
	}
	return out
}

// EstimateTokens approximates the token count of text.
func EstimateTokens(text string) int {
	return int(math.Ceil(float64(utf8.RuneCountInString(text)) / charsPerToken))
}

// BatchUtterances groups utterances in order so each batch's estimated size
// stays under maxTokens minus the prompt overhead. An utterance larger than
// the budget is split on word boundaries.
func BatchUtterances(utts []Utterance, maxTokens int) [][]Utterance {
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	budget := max(maxTokens-promptOverheadTokens, minBatchTokens)

	var (
		batches [][]Utterance
		current []Utterance
		used    int
	)
	flush := func() {
		if len(current) > 0 {
			batches = append(batches, current)
			current, used = nil, 0
		}
	}
	for _, u := range utts {
		for _, piece := range splitOversized(u, budget) {
			cost := EstimateTokens(piece.String()) + 1
			if used+cost > budget {
				flush()
			}
			current = append(current, piece)
			used += cost
		}
	}
	flush()
	return batches
}

func splitOversized(u Utterance, budget int) []Utterance {
	if EstimateTokens(u.String()) < budget {
		return []Utterance{u}
	}
	limit := int(float64(budget)*charsPerToken) - utf8.RuneCountInString(u.Speaker) - 2
	var (
		out     []Utterance
		builder strings.Builder
	)
	for _, word := range strings.Fields(u.Text) {
		if builder.Len() > 0 && utf8.RuneCountInString(builder.String())+1+utf8.RuneCountInString(word) > limit {
			out = append(out, Utterance{Speaker: u.Speaker, Text: builder.String()})
			builder.Reset()
		}
		if builder.Len() > 0 {
			builder.WriteByte(' ')
		}
		builder.WriteString(word)
	}
	if builder.Len() > 0 {
		out = append(out, Utterance{Speaker: u.Speaker, Text: builder.String()})
	}
	return out
}

// RenderBatch joins utterances back into transcript text.
func RenderBatch(batch []Utterance) string {
	lines := make([]string, 0, len(batch))
	for _, u := range batch {
		lines = append(lines, u.String())
	}
	return strings.Join(lines, "\n")
}

// Speakers lists distinct speaker labels in first-seen order.
func Speakers(utts []Utterance) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, u := range utts {
		if u.Speaker == "" {
			continue
		}
		if _, ok := seen[u.Speaker]; ok {
			continue
		}
		seen[u.Speaker] = struct{}{}
		out = append(out, u.Speaker)
	}
	return out
}
