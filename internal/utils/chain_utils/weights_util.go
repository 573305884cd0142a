// Package chainutils converts local scoring state into chain extrinsic arguments.
package chainutils

import (
	"fmt"
	"math"

	"github.com/tensorplex-labs/templar/internal/participants"
)

const (
	U16MAX = 65535
)

// WeightsByUID lays hotkey weights out over every participant in uid order.
// Participants without a weight get 0.
func WeightsByUID(records []participants.Record, weights map[string]float64) ([]int, []float64) {
	uids := make([]int, len(records))
	vals := make([]float64, len(records))
	for i, r := range records {
		uids[i] = r.UID
		vals[i] = weights[r.Hotkey]
	}
	return uids, vals
}

func ConvertWeightsAndUidsForEmit(uids []int, weights []float64) ([]int, []int, error) {
	if len(uids) != len(weights) {
		return nil, nil, fmt.Errorf("uids and weights must have the same length, got %d and %d", len(uids), len(weights))
	}
	if len(uids) == 0 {
		return []int{}, []int{}, nil
	}

	maxWeight := 0.0
	for i, w := range weights {
		if w < 0 || math.IsNaN(w) {
			return nil, nil, fmt.Errorf("weights cannot be negative: %v", weights)
		}
		if uids[i] < 0 {
			return nil, nil, fmt.Errorf("uids cannot be negative: %v", uids)
		}
		if w > maxWeight {
			maxWeight = w
		}
	}

	if maxWeight == 0 {
		return []int{}, []int{}, nil
	}

	weightUids := make([]int, 0, len(uids))
	weightVals := make([]int, 0, len(weights))

	for i, w := range weights {
		uint16Val := int(math.Round((w / maxWeight) * float64(U16MAX)))

		if uint16Val > 0 {
			weightUids = append(weightUids, uids[i])
			weightVals = append(weightVals, uint16Val)
		}
	}

	return weightUids, weightVals, nil
}
