// Package validator implements the eval engine: it scores one producer's
// delta per window against a locally computed gradient and periodically
// commits the resulting weight vector on chain.
package validator

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/tensorplex-labs/templar/internal/core"
	"github.com/tensorplex-labs/templar/internal/kami"
	"github.com/tensorplex-labs/templar/internal/scoring"
)

const Role = "validator"

var (
	ErrNoEligibleArtifacts = fmt.Errorf("%w: no delta artifacts for window", core.ErrRoundSkipped)
	ErrUnknownProducer     = fmt.Errorf("%w: producer is not a registered participant", core.ErrRoundSkipped)
	ErrWeightCommitFailure = errors.New("weight commit failed")
)

// WeightSetter submits a weight vector on chain.
type WeightSetter interface {
	SetWeights(params kami.SetWeightsParams) (kami.ExtrinsicHashResponse, error)
}

// ScoreStore persists the score table between restarts. Load returns an empty
// table when nothing has been saved yet.
type ScoreStore interface {
	Load(ctx context.Context) (map[string]scoring.ScoreRecord, error)
	Save(ctx context.Context, records map[string]scoring.ScoreRecord) error
}

type Validator struct {
	*core.Node

	Board   *scoring.Board
	Scores  ScoreStore
	Weights WeightSetter

	rng *rand.Rand
}
