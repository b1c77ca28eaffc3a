// Package recognition compares face embeddings
package recognition

import "math"

// DefaultThreshold is the similarity a pair must exceed to count as a match
const DefaultThreshold = 0.6

// Normalize returns a unit-length copy of v. ok is false for empty or
// zero-norm (or non-finite) vectors.
func Normalize(v []float32) ([]float64, bool) {
	if len(v) == 0 {
		return nil, false
	}

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)
	if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
		return nil, false
	}

	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x) / norm
	}
	return out, true
}

// Similarity returns the cosine similarity of a and b after normalizing both.
// Degenerate input (nil, empty, zero-norm, length mismatch) yields 0.
func Similarity(a, b []float32) float64 {
	s, _ := similarity(a, b)
	return s
}

// Compare reports whether a and b match: similarity strictly above threshold.
// Degenerate input never matches and reports a similarity of 0.
func Compare(a, b []float32, threshold float64) (bool, float64) {
	s, ok := similarity(a, b)
	if !ok {
		return false, 0
	}
	return s > threshold, s
}

func similarity(a, b []float32) (float64, bool) {
	if len(a) != len(b) {
		return 0, false
	}
	na, okA := Normalize(a)
	nb, okB := Normalize(b)
	if !okA || !okB {
		return 0, false
	}

	var dot float64
	for i := range na {
		dot += na[i] * nb[i]
	}
	if math.IsNaN(dot) {
		return 0, false
	}
	// Rounding can push identical vectors a hair past 1
	return math.Max(-1, math.Min(1, dot)), true
}

// BestMatch returns the index and similarity of the candidate most similar to
// probe. index is -1 when no candidate is comparable.
func BestMatch(probe []float32, candidates [][]float32) (int, float64) {
	best, bestScore := -1, math.Inf(-1)
	for i, c := range candidates {
		s, ok := similarity(probe, c)
		if !ok {
			continue
		}
		if s > bestScore {
			best, bestScore = i, s
		}
	}
	if best < 0 {
		return -1, 0
	}
	return best, bestScore
}
