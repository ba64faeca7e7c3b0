package timestamps

import (
	"encoding/json"
	"math"
	"testing"
)

func TestCoerceSeconds(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  float64
		ok    bool
	}{
		{"small number", 42.0, 42, true},
		{"zero", 0.0, 0, true},
		{"threshold stays seconds", 499.0, 499, true},
		{"large number is ms", 1000.0, 1, true},
		{"just over threshold", 501.0, 0.501, true},
		{"int", 60000, 60, true},
		{"json number", json.Number("12"), 12, true},
		{"nan", math.NaN(), 0, false},
		{"inf", math.Inf(1), 0, false},
		{"ms string", "1200ms", 1.2, true},
		{"zero ms", "0ms", 0, true},
		{"mm:ss", "2:30", 150, true},
		{"leading zero", "0:05", 5, true},
		{"hh:mm:ss", "1:00:05", 3605, true},
		{"numeric string", "42", 42, true},
		{"numeric string as ms", "1000", 1, true},
		{"garbage", "abc", 0, false},
		{"empty", "", 0, false},
		{"too many colons", "not:a:time:stamp", 0, false},
		{"nil", nil, 0, false},
		{"map", map[string]any{}, 0, false},
		{"slice", []any{}, 0, false},
		{"bool", true, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := CoerceSeconds(tt.input)
			if ok != tt.ok {
				t.Fatalf("CoerceSeconds(%v) ok = %v, want %v", tt.input, ok, tt.ok)
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Fatalf("CoerceSeconds(%v) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
