package cache

import "github.com/viterin/vek/vek32"

// DefaultSimilarityThreshold is the minimum cosine similarity for a
// semantic cache lookup to count as a hit, per spec.md §9.
const DefaultSimilarityThreshold = 0.90

// cosineSimilarity returns the cosine similarity between a and b,
// vectorized via vek32 rather than a hand-rolled loop. Returns 0 if
// either vector is empty or all-zero.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	normA := vek32.Norm(a)
	normB := vek32.Norm(b)
	if normA == 0 || normB == 0 {
		return 0
	}
	return vek32.Dot(a, b) / (normA * normB)
}
