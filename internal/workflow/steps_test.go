package workflow

import (
	"reflect"
	"testing"
)

func TestParseSteps(t *testing.T) {
	got, err := ParseSteps([]string{" Personas", "", "answers", "personas"})
	if err != nil {
		t.Fatalf("ParseSteps: %v", err)
	}
	if want := []Step{StepPersonas, StepAnswers}; !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	if _, err := ParseSteps([]string{"transcode"}); err == nil {
		t.Fatal("expected unknown step error")
	}
}

func TestOverallProgress(t *testing.T) {
	tests := []struct {
		step    Step
		percent int
		want    int
	}{
		{StepUpload, 0, 0},
		{StepEvidence, 50, 35},
		{StepEvidence, 150, 60},
		{StepFinalize, 100, 100},
		{StepEnrichPerson, 40, 100},
		{Step("bogus"), 50, 0},
	}
	for _, tt := range tests {
		if got := overallProgress(tt.step, tt.percent); got != tt.want {
			t.Errorf("overallProgress(%s, %d) = %d, want %d", tt.step, tt.percent, got, tt.want)
		}
	}
}

func TestMarkCompletedKeepsPipelineOrder(t *testing.T) {
	var s State
	for _, step := range []Step{StepFinalize, StepUpload, StepEvidence, StepUpload} {
		s.markCompleted(step)
	}
	if want := []Step{StepUpload, StepEvidence, StepFinalize}; !reflect.DeepEqual(s.CompletedSteps, want) {
		t.Fatalf("got %v, want %v", s.CompletedSteps, want)
	}
}
