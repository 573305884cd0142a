// Package scoring turns a peer's submitted update into a contribution score
// and maintains the per-participant score table behind the weight vector.
package scoring

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/floats"
)

const (
	// Epsilon keeps a zero-norm tensor from zeroing its own contribution weight.
	Epsilon = 1e-8

	DefaultAlpha = 0.9
)

// ContributionScore compares the implied update theta - submitted with the
// locally computed gradient, weighted by each tensor's magnitude. Only tensors
// present in both submitted and grad contribute.
func ContributionScore(theta, submitted, grad map[string][]float64) (float64, error) {
	names := make([]string, 0, len(submitted))
	for name := range submitted {
		if _, ok := grad[name]; ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	score := 0.0
	for _, name := range names {
		s, g, th := submitted[name], grad[name], theta[name]
		if len(th) != len(s) || len(g) != len(s) {
			return 0, fmt.Errorf("tensor %s: theta %d, submitted %d and gradient %d values differ in length",
				name, len(th), len(s), len(g))
		}
		if len(s) == 0 {
			continue
		}

		delta := make([]float64, len(s))
		floats.SubTo(delta, th, s)
		score += (floats.Norm(th, 2) + Epsilon) * CalculateCosineSimilarity(delta, g)
	}
	return score, nil
}

// UpdateEMA weights history by alpha.
func UpdateEMA(previous, score, alpha float64) float64 {
	return (1-alpha)*score + alpha*previous
}
