package scoring

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// CalculateCosineSimilarity returns 0 for mismatched lengths or a zero vector.
func CalculateCosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0.0
	}

	dotProduct := floats.Dot(a, b)
	normA := floats.Norm(a, 2)
	normB := floats.Norm(b, 2)

	if normA == 0 || normB == 0 {
		return 0.0
	}

	similarity := dotProduct / (normA * normB)
	if math.IsNaN(similarity) {
		return 0.0
	}
	return similarity
}
