package logging

// ProgressSampler suppresses per-step progress logs, emitting only when the
// completed fraction of a run crosses a percentage bucket.
type ProgressSampler struct {
	bucketSize float64
	lastBucket int
}

// NewProgressSampler constructs a sampler that emits each time progress crosses
// a bucket boundary (default 5%).
func NewProgressSampler(bucketSize float64) *ProgressSampler {
	if bucketSize <= 0 {
		bucketSize = 5
	}
	return &ProgressSampler{bucketSize: bucketSize, lastBucket: -1}
}

// ShouldLog reports whether completing step (zero-based) out of total should be logged.
func (s *ProgressSampler) ShouldLog(step, total int) bool {
	if s == nil {
		return true
	}
	if total <= 0 {
		return false
	}
	percent := float64(step+1) * 100 / float64(total)
	if percent > 100 {
		percent = 100
	}
	bucket := int(percent / s.bucketSize)
	if bucket > s.lastBucket {
		s.lastBucket = bucket
		return true
	}
	return false
}
