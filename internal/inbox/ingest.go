package inbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gleaner/internal/fileutil"
	"gleaner/internal/services"
	"gleaner/internal/store"
)

// Kind classifies an inbox file by extension.
type Kind int

const (
	KindUnknown Kind = iota
	KindText
	KindJSON
	KindMedia
)

var mediaExtensions = map[string]bool{
	".mp3": true, ".m4a": true, ".wav": true, ".flac": true, ".ogg": true,
	".mp4": true, ".mov": true, ".mkv": true, ".webm": true,
}

// Classify returns the kind of file at path. Hidden and partial files are
// unknown so editors and copy tools can finish writing.
func Classify(path string) Kind {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, ".part") || strings.HasSuffix(base, "~") {
		return KindUnknown
	}
	ext := strings.ToLower(filepath.Ext(base))
	switch {
	case ext == ".txt" || ext == ".md":
		return KindText
	case ext == ".json":
		return KindJSON
	case mediaExtensions[ext]:
		return KindMedia
	}
	return KindUnknown
}

// Document is an inbox file read into interview fields.
type Document struct {
	Title           string
	Transcript      string
	TranscriptJSON  string
	Language        string
	ParticipantName string
	MediaPath       string
}

type jsonSegment struct {
	Speaker string `json:"speaker"`
	Label   string `json:"speaker_label"`
	Text    string `json:"text"`
}

type jsonTranscript struct {
	Title           string        `json:"title"`
	Text            string        `json:"text"`
	Transcript      string        `json:"transcript"`
	Language        string        `json:"language"`
	LanguageCode    string        `json:"language_code"`
	ParticipantName string        `json:"participant_name"`
	Utterances      []jsonSegment `json:"utterances"`
	Segments        []jsonSegment `json:"segments"`
}

// Read loads the file at path. Media files are referenced, not read.
func Read(path string, kind Kind) (Document, error) {
	doc := Document{Title: titleFromPath(path)}
	switch kind {
	case KindMedia:
		doc.MediaPath = path
		return doc, nil
	case KindText:
		data, err := os.ReadFile(path)
		if err != nil {
			return doc, fmt.Errorf("read %s: %w", path, err)
		}
		doc.Transcript = strings.TrimSpace(string(data))
	case KindJSON:
		data, err := os.ReadFile(path)
		if err != nil {
			return doc, fmt.Errorf("read %s: %w", path, err)
		}
		if err := decodeJSON(data, &doc); err != nil {
			return doc, err
		}
	default:
		return doc, services.Wrap(services.ErrValidation, "upload", "inbox", "unsupported file "+filepath.Base(path), nil)
	}
	if doc.Transcript == "" {
		return doc, services.Wrap(services.ErrValidation, "upload", "inbox", "empty transcript in "+filepath.Base(path), nil)
	}
	return doc, nil
}

func decodeJSON(data []byte, doc *Document) error {
	var payload jsonTranscript
	if err := json.Unmarshal(data, &payload); err != nil {
		return services.Wrap(services.ErrValidation, "upload", "inbox", "decode transcript json", err)
	}
	if t := strings.TrimSpace(payload.Title); t != "" {
		doc.Title = t
	}
	doc.Language = firstNonEmpty(payload.Language, payload.LanguageCode)
	doc.ParticipantName = strings.TrimSpace(payload.ParticipantName)
	doc.TranscriptJSON = string(data)
	doc.Transcript = firstNonEmpty(payload.Transcript, payload.Text)
	if doc.Transcript == "" {
		segments := payload.Utterances
		if len(segments) == 0 {
			segments = payload.Segments
		}
		doc.Transcript = renderSegments(segments)
	}
	return nil
}

func renderSegments(segments []jsonSegment) string {
	lines := make([]string, 0, len(segments))
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		if speaker := speakerName(firstNonEmpty(seg.Label, seg.Speaker)); speaker != "" {
			text = speaker + ": " + text
		}
		lines = append(lines, text)
	}
	return strings.Join(lines, "\n")
}

// speakerName renders single-letter diarization speakers as "SPEAKER A".
func speakerName(raw string) string {
	raw = strings.TrimSpace(raw)
	if len(raw) == 1 && raw[0] >= 'A' && raw[0] <= 'Z' {
		return "SPEAKER " + raw
	}
	return raw
}

func titleFromPath(path string) string {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	title := strings.Join(strings.FieldsFunc(base, func(r rune) bool {
		return r == '_' || r == '-' || r == ' ' || r == '.'
	}), " ")
	if title == "" {
		return "Untitled interview"
	}
	return title
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// moveTo moves path into dir, suffixing the name when it is taken.
func moveTo(path, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("ensure %s: %w", dir, err)
	}
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	target := filepath.Join(dir, base)
	for i := 1; ; i++ {
		if _, err := os.Stat(target); errors.Is(err, os.ErrNotExist) {
			break
		}
		target = filepath.Join(dir, fmt.Sprintf("%s-%d%s", stem, i, ext))
	}
	if err := fileutil.MoveFile(path, target); err != nil {
		return "", fmt.Errorf("move %s: %w", base, err)
	}
	return target, nil
}

// Interview builds the uploaded interview row for doc. source is where the
// file now lives.
func (doc Document) Interview(accountID, projectID, source string) *store.Interview {
	return &store.Interview{
		AccountID:       accountID,
		ProjectID:       projectID,
		Title:           doc.Title,
		Status:          store.StatusUploaded,
		SourcePath:      source,
		MediaPath:       doc.MediaPath,
		ParticipantName: doc.ParticipantName,
		Transcript:      doc.Transcript,
		TranscriptJSON:  doc.TranscriptJSON,
		Language:        doc.Language,
	}
}
