package timestamps

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// msThreshold is the largest value still read as seconds. Larger bare
// numbers are treated as milliseconds.
const msThreshold = 500

// CoerceSeconds converts a timing value from transcript JSON into seconds.
// Accepted forms are numbers, numeric strings, "NNNms", "mm:ss", and
// "hh:mm:ss". The boolean is false for anything else.
func CoerceSeconds(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return numberSeconds(v)
	case float32:
		return numberSeconds(float64(v))
	case int:
		return numberSeconds(float64(v))
	case int64:
		return numberSeconds(float64(v))
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return numberSeconds(f)
	case string:
		return stringSeconds(v)
	default:
		return 0, false
	}
}

func numberSeconds(v float64) (float64, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0, false
	}
	if v > msThreshold {
		return v / 1000, true
	}
	return v, true
}

func stringSeconds(raw string) (float64, bool) {
	s := strings.TrimSpace(strings.ToLower(raw))
	if s == "" {
		return 0, false
	}
	if trimmed, ok := strings.CutSuffix(s, "ms"); ok {
		ms, err := strconv.ParseFloat(strings.TrimSpace(trimmed), 64)
		if err != nil || ms < 0 || math.IsInf(ms, 0) || math.IsNaN(ms) {
			return 0, false
		}
		return ms / 1000, true
	}
	if strings.Contains(s, ":") {
		return clockSeconds(s)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return numberSeconds(f)
}

func clockSeconds(s string) (float64, bool) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, false
	}
	total := 0.0
	for _, part := range parts {
		n, err := strconv.ParseFloat(part, 64)
		if err != nil || n < 0 {
			return 0, false
		}
		total = total*60 + n
	}
	return total, true
}

func millisToSeconds(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return 0, false
		}
		return v / 1000, true
	case json.Number:
		f, err := v.Float64()
		if err != nil || f < 0 {
			return 0, false
		}
		return f / 1000, true
	case int:
		if v < 0 {
			return 0, false
		}
		return float64(v) / 1000, true
	case string:
		return stringSeconds(strings.TrimSpace(v) + "ms")
	default:
		return 0, false
	}
}
