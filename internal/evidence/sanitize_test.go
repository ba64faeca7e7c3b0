package evidence

import "testing"

func TestSanitizeVerbatim(t *testing.T) {
	got := SanitizeVerbatim("  “It’s   too\texpensive”\n\u0000 ")
	if got != `"It's too expensive"` {
		t.Fatalf("SanitizeVerbatim = %q", got)
	}
}

func TestWeightsForConfidence(t *testing.T) {
	tests := []struct {
		raw       string
		level     string
		quality   float64
		relevance float64
	}{
		{"High", ConfidenceHigh, 0.95, 0.9},
		{"medium", ConfidenceMedium, 0.8, 0.8},
		{"", ConfidenceMedium, 0.8, 0.8},
		{"unsure", ConfidenceMedium, 0.8, 0.8},
		{" LOW ", ConfidenceLow, 0.6, 0.6},
	}
	for _, tt := range tests {
		level := NormalizeConfidence(tt.raw)
		if level != tt.level {
			t.Fatalf("NormalizeConfidence(%q) = %q, want %q", tt.raw, level, tt.level)
		}
		w := WeightsFor(level)
		if w.Quality != tt.quality || w.Relevance != tt.relevance {
			t.Fatalf("WeightsFor(%q) = %+v", level, w)
		}
	}
}

func TestIndependenceKey(t *testing.T) {
	a := IndependenceKey("It’s too   expensive", "Pricing")
	b := IndependenceKey("it's too expensive", "pricing")
	if a != b {
		t.Fatalf("expected normalized quotes to share a key: %s vs %s", a, b)
	}
	if len(a) != 8 {
		t.Fatalf("expected 8 hex characters, got %q", a)
	}
	if c := IndependenceKey("it's too expensive", "onboarding"); c == a {
		t.Fatal("different facet label should change the key")
	}
}
