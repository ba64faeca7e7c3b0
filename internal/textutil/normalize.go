package textutil

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	quoteReplacer = strings.NewReplacer(
		"\u2018", "'", "\u2019", "'", "\u201A", "'", "\u201B", "'",
		"\u201C", `"`, "\u201D", `"`, "\u201E", `"`, "\u201F", `"`,
		"\u00A0", " ", "\u2007", " ", "\u202F", " ",
	)
	nonTokenPattern = regexp.MustCompile(`[^\p{L}\p{N}']+`)
)

// FoldQuotes replaces typographic quotes with ASCII quotes and
// non-breaking spaces with plain spaces.
func FoldQuotes(text string) string {
	return quoteReplacer.Replace(text)
}

// CollapseWhitespace trims text and reduces every whitespace run to one space.
func CollapseWhitespace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// NormalizeSearchText prepares text for substring search.
func NormalizeSearchText(text string) string {
	if text == "" {
		return ""
	}
	return strings.ToLower(CollapseWhitespace(FoldQuotes(text)))
}

// NormalizeTokens lowercases text and splits it into word tokens. Apostrophes
// stay inside tokens; all other punctuation separates them.
func NormalizeTokens(text string) []string {
	lowered := strings.ToLower(FoldQuotes(text))
	raw := nonTokenPattern.Split(lowered, -1)
	out := make([]string, 0, len(raw))
	for _, token := range raw {
		token = strings.Trim(token, "'")
		if token == "" {
			continue
		}
		out = append(out, token)
	}
	return out
}

// FoldAccents removes combining marks after canonical decomposition.
func FoldAccents(text string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, text)
	if err != nil {
		return text
	}
	return out
}

// NormalizeLabel is the lookup key for catalog labels and synonyms.
func NormalizeLabel(label string) string {
	return strings.ToLower(CollapseWhitespace(FoldAccents(label)))
}

// StripControl replaces control characters with spaces.
func StripControl(text string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, text)
}

// Truncate returns at most n runes of text.
func Truncate(text string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range text {
		if count == n {
			return text[:i]
		}
		count++
	}
	return text
}
