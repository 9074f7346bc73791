// Package mmr implements Maximal Marginal Relevance selection over
// embedding vectors.
//
// MMR greedily picks results that are relevant to the query while
// penalizing redundancy with results already picked. The lambda
// parameter trades the two off: 1 is plain top-k by similarity, 0 is
// pure diversity after the first pick.
package mmr

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrDegenerateVector indicates a zero-norm vector, for which cosine
	// similarity is undefined.
	ErrDegenerateVector = errors.New("zero-norm vector")

	// ErrInvalidLambda indicates a lambda outside [0, 1].
	ErrInvalidLambda = errors.New("lambda must be in [0, 1]")
)

// Select returns the indices of min(k, len(candidates)) candidates in
// MMR order. Candidates are scored against query each round as
//
//	lambda*sim(query, c) - (1-lambda)*max(sim(c, s) for selected s)
//
// with the redundancy penalty zero for the first pick. Ties keep the
// earliest candidate, so selection is deterministic.
//
// An empty candidate list returns an empty slice; a zero-norm query or
// candidate vector returns ErrDegenerateVector.
func Select(query []float32, candidates [][]float32, k int, lambda float64) ([]int, error) {
	if lambda < 0 || lambda > 1 {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidLambda, lambda)
	}
	if k <= 0 || len(candidates) == 0 {
		return []int{}, nil
	}
	if k > len(candidates) {
		k = len(candidates)
	}

	// Precompute query similarities; this also validates every vector once.
	simQuery := make([]float64, len(candidates))
	for i, c := range candidates {
		sim, err := CosineSimilarity(query, c)
		if err != nil {
			return nil, fmt.Errorf("candidate %d: %w", i, err)
		}
		simQuery[i] = sim
	}

	selected := make([]int, 0, k)
	remaining := make([]bool, len(candidates)) // false = still in the pool
	// maxSimSelected[i] is the highest similarity between candidate i and
	// any already-selected candidate.
	maxSimSelected := make([]float64, len(candidates))

	for len(selected) < k {
		best := -1
		bestScore := math.Inf(-1)
		for i := range candidates {
			if remaining[i] {
				continue
			}
			penalty := 0.0
			if len(selected) > 0 {
				penalty = maxSimSelected[i]
			}
			score := lambda*simQuery[i] - (1-lambda)*penalty
			if score > bestScore {
				bestScore = score
				best = i
			}
		}

		selected = append(selected, best)
		remaining[best] = true

		// Fold the new pick into the redundancy penalties. The vectors were
		// validated above, so the similarity cannot fail here.
		for i := range candidates {
			if remaining[i] {
				continue
			}
			sim, err := CosineSimilarity(candidates[i], candidates[best])
			if err != nil {
				return nil, fmt.Errorf("candidate %d: %w", i, err)
			}
			if sim > maxSimSelected[i] {
				maxSimSelected[i] = sim
			}
		}
	}

	return selected, nil
}

// CosineSimilarity returns the cosine of the angle between a and b.
// Mismatched lengths and zero-norm inputs are errors.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vector length mismatch: %d vs %d", len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, ErrDegenerateVector
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}
