package textutil

import (
	"math"
	"strings"
)

// Fingerprint is a character-trigram frequency vector of a short name.
type Fingerprint struct {
	grams map[string]float64
	norm  float64
}

// NewFingerprint builds a fingerprint from name. Spaces, hyphens, and
// underscores are dropped so "dining table" and "diningtable" match exactly.
// Returns nil when the name has no letters or digits.
func NewFingerprint(name string) *Fingerprint {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	compact := b.String()
	if compact == "" {
		return nil
	}
	padded := "^" + compact + "$"
	grams := make(map[string]float64, len(padded))
	for i := 0; i+3 <= len(padded); i++ {
		grams[padded[i:i+3]]++
	}
	if len(padded) < 3 {
		grams[padded]++
	}
	var norm float64
	for _, count := range grams {
		norm += count * count
	}
	return &Fingerprint{grams: grams, norm: math.Sqrt(norm)}
}

// CosineSimilarity computes the cosine similarity between two fingerprints.
// Returns 0 if either fingerprint is nil or has zero norm.
func CosineSimilarity(a, b *Fingerprint) float64 {
	if a == nil || b == nil || a.norm == 0 || b.norm == 0 {
		return 0
	}
	var dot float64
	for gram, count := range a.grams {
		if other, ok := b.grams[gram]; ok {
			dot += count * other
		}
	}
	return dot / (a.norm * b.norm)
}

// Closest returns the candidate most similar to name and its score. Ties keep
// the earlier candidate. An empty candidate list yields "", 0.
func Closest(name string, candidates []string) (string, float64) {
	target := NewFingerprint(name)
	best, bestScore := "", 0.0
	for _, candidate := range candidates {
		score := CosineSimilarity(target, NewFingerprint(candidate))
		if score > bestScore {
			best, bestScore = candidate, score
		}
	}
	return best, bestScore
}
