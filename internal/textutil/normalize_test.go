package textutil

import (
	"slices"
	"testing"
)

func TestNormalizeTokens(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"Hello World", []string{"hello", "world"}},
		{"It's a test!", []string{"it's", "a", "test"}},
		{"  foo   bar--baz  ", []string{"foo", "bar", "baz"}},
		{"", []string{}},
		{"version 2.0 release", []string{"version", "2", "0", "release"}},
		{"We\u2019re done", []string{"we're", "done"}},
	}
	for _, tt := range tests {
		got := NormalizeTokens(tt.input)
		if !slices.Equal(got, tt.want) {
			t.Errorf("NormalizeTokens(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestNormalizeSearchText(t *testing.T) {
	tests := map[string]string{
		"  Hello World  ":  "hello world",
		"\u2018test\u2019": "'test'",
		"\u201Ctest\u201D": `"test"`,
		"foo   bar\n\tbaz": "foo bar baz",
		"hello\u00A0world": "hello world",
		"":                 "",
	}
	for input, want := range tests {
		if got := NormalizeSearchText(input); got != want {
			t.Errorf("NormalizeSearchText(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestNormalizeLabelFoldsAccents(t *testing.T) {
	if got := NormalizeLabel("  Café   Ordering "); got != "cafe ordering" {
		t.Fatalf("NormalizeLabel() = %q", got)
	}
}

func TestStripControlAndTruncate(t *testing.T) {
	if got := StripControl("a\x00b\tc"); got != "a b c" {
		t.Fatalf("StripControl() = %q", got)
	}
	if got := Truncate("héllo", 2); got != "hé" {
		t.Fatalf("Truncate() = %q", got)
	}
	if got := Truncate("abc", 10); got != "abc" {
		t.Fatalf("Truncate() = %q", got)
	}
}
