package textutil

import (
	"math"
	"testing"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name    string
		a, b    *Fingerprint
		wantMin float64
		wantMax float64
	}{
		{"both nil", nil, nil, 0, 0},
		{"one nil", nil, NewFingerprint("slow onboarding process"), 0, 0},
		{"identical", NewFingerprint("onboarding took three weeks"), NewFingerprint("onboarding took three weeks"), 0.9999, 1.0001},
		{"disjoint", NewFingerprint("pricing billing invoices"), NewFingerprint("dashboard charts export"), 0, 0},
		{"partial", NewFingerprint("the slow onboarding process"), NewFingerprint("the fast onboarding flow"), 0.01, 0.99},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if got < tt.wantMin || got > tt.wantMax {
				t.Fatalf("CosineSimilarity() = %v, want in [%v, %v]", got, tt.wantMin, tt.wantMax)
			}
			if back := CosineSimilarity(tt.b, tt.a); math.Abs(back-got) > 1e-12 {
				t.Fatalf("CosineSimilarity not symmetric: %v vs %v", got, back)
			}
		})
	}
}

func TestNewFingerprintNorm(t *testing.T) {
	if fp := NewFingerprint("a an it to"); fp != nil {
		t.Fatal("expected nil for text with only short tokens")
	}
	fp := NewFingerprint("setup setup pain")
	if fp == nil {
		t.Fatal("expected fingerprint")
	}
	if math.Abs(fp.norm-math.Sqrt(5)) > 0.0001 {
		t.Fatalf("norm = %v, want sqrt(5)", fp.norm)
	}
	if fp.TokenCount() != 2 {
		t.Fatalf("TokenCount() = %d, want 2", fp.TokenCount())
	}
}

func TestTokenizeFiltersShortTokens(t *testing.T) {
	got := Tokenize("We hit a wall, it's SLOW!")
	want := []string{"hit", "wall", "slow"}
	if len(got) != len(want) {
		t.Fatalf("Tokenize() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("token[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestCosineVectors(t *testing.T) {
	if got := CosineVectors([]float32{1, 0}, []float32{1, 0}); math.Abs(got-1) > 1e-9 {
		t.Fatalf("identical vectors = %v, want 1", got)
	}
	if got := CosineVectors([]float32{1, 0}, []float32{0, 1}); got != 0 {
		t.Fatalf("orthogonal vectors = %v, want 0", got)
	}
	if got := CosineVectors([]float32{1, 0}, []float32{1, 0, 0}); got != 0 {
		t.Fatalf("mismatched lengths = %v, want 0", got)
	}
	if got := CosineVectors([]float32{0, 0}, []float32{1, 1}); got != 0 {
		t.Fatalf("zero vector = %v, want 0", got)
	}
}

func TestTokenOverlapCountsDistinctHits(t *testing.T) {
	got := TokenOverlap([]string{"team", "team", "setup", "pain"}, []string{"our", "team", "setup"})
	if got != 2 {
		t.Fatalf("TokenOverlap() = %d, want 2", got)
	}
}
