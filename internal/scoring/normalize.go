package scoring

import (
	"gonum.org/v1/gonum/floats"
)

func L1Normalize(arr []float64) []float64 {
	result := make([]float64, len(arr))
	copy(result, arr)

	sum := floats.Sum(result)
	if sum > 0 {
		floats.Scale(1.0/sum, result)
	}

	return result
}

// ComputeWeights turns scores into a non-negative vector summing to 1, or all
// zeros when the scores sum to 0 or less. Non-finite scores count as 0.
func ComputeWeights(scores []float64) []float64 {
	weights := make([]float64, len(scores))
	finite := make([]float64, len(scores))
	for i, s := range scores {
		if IsFinite(s) {
			finite[i] = s
		}
	}
	sum := floats.Sum(finite)
	if sum <= 0 || !IsFinite(sum) {
		return weights
	}

	for i, s := range finite {
		if w := s / sum; w > 0 {
			weights[i] = w
		}
	}
	return L1Normalize(weights)
}
