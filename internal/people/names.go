package people

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// FallbackName is used when nothing better is known about a participant.
const FallbackName = "Unknown Participant"

// NameSource records which participant field produced a resolved name.
type NameSource string

const (
	SourceDisplay   NameSource = "display"
	SourceInferred  NameSource = "inferred"
	SourcePersonKey NameSource = "person_key"
	SourceMetadata  NameSource = "metadata"
	SourceFallback  NameSource = "fallback"
)

var (
	ordinalWords = `one|two|three|four|five|six|seven|eight|nine|ten|first|second|third|fourth|fifth`

	numberedLabel = regexp.MustCompile(`(?i)^(participant|speaker|person|respondent)(?:[\s_-]*(\d+|[a-z]|` + ordinalWords + `))?$`)
	roleLabel     = regexp.MustCompile(`(?i)^(interviewer|moderator|facilitator|host|customer|interviewee|user|client|respondent|guest|attendee)(?:[\s_-]*\d+)?$`)

	genericDisplayName = regexp.MustCompile(`(?i)^(participant|anonymous|speaker|person|interviewee)\s*\d*$`)

	// PlaceholderSpeaker matches diarization labels left unnamed after review.
	PlaceholderSpeaker = regexp.MustCompile(`^Speaker [A-Z]$`)

	keySeparators = regexp.MustCompile(`[_\-\s]+`)

	titleCaser = cases.Title(language.English)
)

// IsGenericLabel reports whether a name is a role or diarization label
// rather than a person's name. Empty input is not generic.
func IsGenericLabel(name string) bool {
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		return false
	}
	return numberedLabel.MatchString(name) || roleLabel.MatchString(name)
}

// IsGenericDisplayName reports whether a stored display name is a
// placeholder that a real name may replace.
func IsGenericDisplayName(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return true
	}
	return genericDisplayName.MatchString(name) || IsGenericLabel(name)
}

// ParseFullName splits a name into first name and the remaining tokens.
func ParseFullName(name string) (first, last string) {
	parts := strings.Fields(name)
	if len(parts) == 0 {
		return "", ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}

// FallbackPersonName names the fallback person from the upload metadata.
// The interview title and file name are never used.
func FallbackPersonName(meta Metadata) string {
	if name := strings.TrimSpace(meta.ParticipantName); name != "" {
		return name
	}
	return FallbackName
}

// HumanizeKey turns "john_doe" into "John Doe". Empty keys return "".
func HumanizeKey(key string) string {
	spaced := strings.TrimSpace(keySeparators.ReplaceAllString(key, " "))
	if spaced == "" {
		return ""
	}
	return titleCaser.String(spaced)
}

// SanitizePersonKey trims a participant key, substituting fallback when empty.
func SanitizePersonKey(key, fallback string) string {
	if key = strings.TrimSpace(key); key != "" {
		return key
	}
	return fallback
}

// ResolveName picks the best available name for a participant at index.
func ResolveName(p Participant, index int, meta Metadata) (string, NameSource) {
	if name := strings.TrimSpace(p.DisplayName); name != "" {
		return name, SourceDisplay
	}
	if name := strings.TrimSpace(p.InferredName); name != "" {
		return name, SourceInferred
	}
	if name := HumanizeKey(p.PersonKey); name != "" {
		return name, SourcePersonKey
	}
	if name := strings.TrimSpace(meta.ParticipantName); name != "" {
		return name, SourceMetadata
	}
	return "Participant " + strconv.Itoa(index+1), SourceFallback
}
