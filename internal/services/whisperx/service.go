package whisperx

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"golang.org/x/text/language"

	"gleaner/internal/config"
	"gleaner/internal/services"
)

// Service provides WhisperX transcription capabilities.
type Service struct {
	cfg           Config
	ffmpegBinary  string
	commandRunner func(ctx context.Context, name string, args ...string) error
}

// NewService creates a WhisperX service with the given configuration.
func NewService(cfg Config, ffmpegBinary string) *Service {
	if ffmpegBinary == "" {
		ffmpegBinary = FFmpegCommand
	}
	return &Service{
		cfg:          cfg,
		ffmpegBinary: ffmpegBinary,
	}
}

// NewFromConfig builds a service from the [transcription] section.
func NewFromConfig(cfg *config.Config) *Service {
	return NewService(Config{
		Model:       cfg.Transcription.Model,
		Language:    cfg.Transcription.Language,
		CUDAEnabled: cfg.Transcription.CUDA,
		HFToken:     cfg.Transcription.HFToken,
	}, "")
}

// WithCommandRunner sets a custom command runner (for testing).
func (s *Service) WithCommandRunner(runner func(ctx context.Context, name string, args ...string) error) {
	s.commandRunner = runner
}

// Model returns the configured model name for logging.
func (s *Service) Model() string {
	if s.cfg.Model != "" {
		return s.cfg.Model
	}
	return DefaultModel
}

// Diarize reports whether speaker diarization is enabled.
func (s *Service) Diarize() bool {
	return strings.TrimSpace(s.cfg.HFToken) != ""
}

// run executes a command, using the custom runner if set.
func (s *Service) run(ctx context.Context, name string, args ...string) error {
	if s.commandRunner != nil {
		return s.commandRunner(ctx, name, args...)
	}
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec

	// Torch 2.6 changed torch.load default to weights_only=true, breaking WhisperX/pyannote.
	if os.Getenv("TORCH_FORCE_NO_WEIGHTS_ONLY_LOAD") == "" {
		cmd.Env = append(os.Environ(), "TORCH_FORCE_NO_WEIGHTS_ONLY_LOAD=1")
	}

	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(output)))
	}
	return nil
}

// Transcript is a finished transcription in the shape the pipeline stores.
type Transcript struct {
	// Text is one "LABEL: text" line per segment, or bare text without diarization.
	Text string
	// Data is the transcript JSON document with words and segments.
	Data            json.RawMessage
	Language        string
	DurationSeconds float64
}

// Transcribe converts media to WAV, runs WhisperX, and reshapes the output.
// workDir receives the intermediate WAV and WhisperX JSON.
func (s *Service) Transcribe(ctx context.Context, source, workDir string) (Transcript, error) {
	var result Transcript
	if strings.TrimSpace(source) == "" {
		return result, services.Wrap(services.ErrValidation, "upload", "transcribe", "source path required", nil)
	}
	if workDir == "" {
		workDir = filepath.Dir(source)
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return result, fmt.Errorf("transcribe: ensure work dir: %w", err)
	}

	baseName := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	wavPath := filepath.Join(workDir, baseName+".wav")
	if s.commandRunner != nil {
		if err := s.commandRunner(ctx, s.ffmpegBinary, buildFFmpegExtractArgs(source, wavPath)...); err != nil {
			return result, services.Wrap(services.ErrExternalTool, "upload", "ffmpeg", "extract audio", err)
		}
	} else if err := ExtractAudio(ctx, s.ffmpegBinary, source, wavPath); err != nil {
		return result, services.Wrap(services.ErrExternalTool, "upload", "ffmpeg", "extract audio", err)
	}

	if err := s.run(ctx, UVXCommand, s.buildArgs(wavPath, workDir)...); err != nil {
		return result, services.Wrap(services.ErrExternalTool, "upload", "whisperx", "transcribe", err)
	}

	payload, err := LoadPayload(filepath.Join(workDir, baseName+".json"))
	if err != nil {
		return result, services.Wrap(services.ErrExternalTool, "upload", "whisperx", "read output", err)
	}
	return BuildTranscript(payload)
}

// buildArgs constructs the uvx command arguments for WhisperX.
func (s *Service) buildArgs(source, outputDir string) []string {
	args := make([]string, 0, 32)

	if s.cfg.CUDAEnabled {
		args = append(args,
			"--index-url", CUDAIndexURL,
			"--extra-index-url", PypiIndexURL,
		)
	} else {
		args = append(args, "--index-url", PypiIndexURL)
	}

	args = append(args,
		"whisperx",
		source,
		"--model", s.Model(),
		"--batch_size", BatchSize,
		"--output_dir", outputDir,
		"--output_format", OutputFormat,
		"--segment_resolution", SegmentResolution,
		"--chunk_size", ChunkSize,
		"--vad_onset", VADOnset,
		"--vad_offset", VADOffset,
		"--beam_size", BeamSize,
		"--temperature", Temperature,
	)

	if s.Diarize() {
		args = append(args, "--vad_method", VADMethodPyannote, "--diarize", "--hf_token", s.cfg.HFToken)
	} else {
		args = append(args, "--vad_method", VADMethodSilero)
	}

	if lang := ISO2(s.cfg.Language); lang != "" {
		args = append(args, "--language", lang)
	}

	if s.cfg.CUDAEnabled {
		args = append(args, "--device", CUDADevice)
	} else {
		args = append(args, "--device", CPUDevice, "--compute_type", CPUComputeType)
	}

	return args
}

// ISO2 reduces a language tag such as "en-US" or "English" to its two
// letter base. Unknown values return "".
func ISO2(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	tag, err := language.Parse(value)
	if err != nil {
		return ""
	}
	base, confidence := tag.Base()
	if confidence == language.No {
		return ""
	}
	code := base.String()
	if len(code) != 2 {
		return ""
	}
	return code
}

// Word represents a single word with timing from WhisperX output.
type Word struct {
	Word    string   `json:"word"`
	Start   *float64 `json:"start"`
	End     *float64 `json:"end"`
	Speaker string   `json:"speaker"`
}

// Segment represents a transcribed segment from WhisperX JSON output.
type Segment struct {
	Text    string  `json:"text"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker"`
	Words   []Word  `json:"words"`
}

// Payload is the JSON structure from WhisperX output.
type Payload struct {
	Segments []Segment `json:"segments"`
	Language string    `json:"language"`
}

// LoadPayload loads a WhisperX JSON file.
func LoadPayload(jsonPath string) (Payload, error) {
	var payload Payload
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return payload, err
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return payload, fmt.Errorf("parse whisperx json: %w", err)
	}
	return payload, nil
}

type timedWord struct {
	Text    string `json:"text"`
	StartMS int64  `json:"start_ms"`
	Speaker string `json:"speaker,omitempty"`
}

type timedSegment struct {
	Text    string `json:"text"`
	StartMS int64  `json:"start_ms"`
	EndMS   int64  `json:"end_ms"`
	Speaker string `json:"speaker,omitempty"`
}

type transcriptDocument struct {
	Words    []timedWord    `json:"words"`
	Segments []timedSegment `json:"segments"`
	Language string         `json:"language,omitempty"`
}

// BuildTranscript reshapes WhisperX output. Times are written as integer
// milliseconds so later coercion never confuses seconds with ms.
func BuildTranscript(payload Payload) (Transcript, error) {
	doc := transcriptDocument{Language: payload.Language}
	var (
		lines    []string
		duration float64
	)
	for _, seg := range payload.Segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		doc.Segments = append(doc.Segments, timedSegment{
			Text:    text,
			StartMS: toMillis(seg.Start),
			EndMS:   toMillis(seg.End),
			Speaker: seg.Speaker,
		})
		if seg.Speaker != "" {
			lines = append(lines, speakerLabel(seg.Speaker)+": "+text)
		} else {
			lines = append(lines, text)
		}
		duration = math.Max(duration, seg.End)
		for _, w := range seg.Words {
			word := strings.TrimSpace(w.Word)
			if word == "" || w.Start == nil {
				continue
			}
			doc.Words = append(doc.Words, timedWord{Text: word, StartMS: toMillis(*w.Start), Speaker: w.Speaker})
		}
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return Transcript{}, fmt.Errorf("encode transcript: %w", err)
	}
	return Transcript{
		Text:            strings.Join(lines, "\n"),
		Data:            data,
		Language:        payload.Language,
		DurationSeconds: duration,
	}, nil
}

// speakerLabel turns "SPEAKER_01" into "SPEAKER B".
func speakerLabel(raw string) string {
	raw = strings.TrimSpace(raw)
	idx := strings.LastIndex(raw, "_")
	if idx < 0 || idx == len(raw)-1 {
		return raw
	}
	var n int
	if _, err := fmt.Sscanf(raw[idx+1:], "%d", &n); err != nil || n < 0 || n > 25 {
		return raw
	}
	return "SPEAKER " + string(rune('A'+n))
}

func toMillis(seconds float64) int64 {
	if seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return 0
	}
	return int64(math.Round(seconds * 1000))
}
