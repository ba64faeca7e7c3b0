package logging

import "strings"

// ProgressSampler thins progress callbacks down to one log line per percent
// bucket, plus one whenever the detail text changes.
type ProgressSampler struct {
	bucketSize int
	lastDetail string
	lastBucket int
}

// NewProgressSampler returns a sampler with the given bucket width in
// percent. Non-positive widths fall back to 25.
func NewProgressSampler(bucketSize int) *ProgressSampler {
	if bucketSize <= 0 {
		bucketSize = 25
	}
	return &ProgressSampler{bucketSize: bucketSize, lastBucket: -1}
}

// ShouldLog reports whether this progress update deserves a log line.
// A nil sampler logs everything.
func (s *ProgressSampler) ShouldLog(percent int, detail string) bool {
	if s == nil {
		return true
	}
	emit := false
	if detail = strings.TrimSpace(detail); detail != "" && detail != s.lastDetail {
		s.lastDetail = detail
		s.lastBucket = -1
		emit = true
	}
	if percent >= 0 {
		if percent > 100 {
			percent = 100
		}
		if bucket := percent / s.bucketSize; bucket > s.lastBucket {
			s.lastBucket = bucket
			emit = true
		}
	}
	return emit
}
