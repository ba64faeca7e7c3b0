package workflow

import (
	"fmt"
	"slices"
	"strings"
)

// Step names one pipeline stage.
type Step string

const (
	StepUpload       Step = "upload"
	StepEvidence     Step = "evidence"
	StepInsights     Step = "insights"
	StepPersonas     Step = "personas"
	StepAnswers      Step = "answers"
	StepFinalize     Step = "finalize"
	StepEnrichPerson Step = "enrich-person"
)

// Order is the fixed execution order.
var Order = []Step{
	StepUpload,
	StepEvidence,
	StepInsights,
	StepPersonas,
	StepAnswers,
	StepFinalize,
	StepEnrichPerson,
}

// CoreSteps must be complete before deferred steps are batched.
var CoreSteps = []Step{StepEvidence, StepFinalize}

// progressBand is the share of overall progress each step owns.
var progressBand = map[Step][2]int{
	StepUpload:       {0, 10},
	StepEvidence:     {10, 60},
	StepInsights:     {60, 75},
	StepPersonas:     {75, 82},
	StepAnswers:      {82, 90},
	StepFinalize:     {90, 100},
	StepEnrichPerson: {100, 100},
}

// ParseStep validates a step name.
func ParseStep(value string) (Step, error) {
	step := Step(strings.ToLower(strings.TrimSpace(value)))
	if step.Index() < 0 {
		return "", fmt.Errorf("unknown step %q", value)
	}
	return step, nil
}

// ParseSteps validates a list of step names, dropping blanks and duplicates.
func ParseSteps(values []string) ([]Step, error) {
	var out []Step
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			continue
		}
		step, err := ParseStep(v)
		if err != nil {
			return nil, err
		}
		if !slices.Contains(out, step) {
			out = append(out, step)
		}
	}
	return out, nil
}

// Index returns the step's position in Order, or -1.
func (s Step) Index() int {
	return slices.Index(Order, s)
}

func (s Step) String() string { return string(s) }

// overallProgress maps a within-step percentage onto the run as a whole.
func overallProgress(step Step, percent int) int {
	band, ok := progressBand[step]
	if !ok {
		return 0
	}
	percent = min(max(percent, 0), 100)
	return band[0] + (band[1]-band[0])*percent/100
}

func stepStrings(steps []Step) []string {
	out := make([]string, 0, len(steps))
	for _, s := range steps {
		out = append(out, string(s))
	}
	return out
}
