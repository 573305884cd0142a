package validator

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tensorplex-labs/templar/internal/core"
	"github.com/tensorplex-labs/templar/internal/indices"
	"github.com/tensorplex-labs/templar/internal/kami"
	"github.com/tensorplex-labs/templar/internal/model"
	"github.com/tensorplex-labs/templar/internal/scheduler"
	"github.com/tensorplex-labs/templar/internal/scoring"
	"github.com/tensorplex-labs/templar/internal/slices"
	chainutils "github.com/tensorplex-labs/templar/internal/utils/chain_utils"
	"github.com/tensorplex-labs/templar/internal/utils/logger"
)

const WeightsVersionKey = 1

// NewValidator wraps n with a score board and registers the periodic weight
// commit. scores may be nil to keep the table in memory only.
func NewValidator(n *core.Node, scores ScoreStore) *Validator {
	v := &Validator{
		Node:    n,
		Board:   scoring.NewBoard(n.Config.ScoreAlpha),
		Scores:  scores,
		Weights: n.Kami,
		rng:     rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	v.RegisterCallback(scheduler.NewBlockCallback(n.Config.WeightsIntervalBlocks, v.commitWeights))
	return v
}

// Run restores persisted scores, replays recent state and evaluates one window
// per round until the node is stopped.
func (v *Validator) Run() {
	if err := v.RestoreScores(v.Ctx); err != nil {
		log.Error().Err(err).Msg("failed to restore scores, starting from an empty table")
	}

	if err := v.Clock.WaitReady(v.Ctx); err != nil {
		return
	}
	if v.Config.SyncState {
		if err := v.SyncHistory(v.Ctx, Role); err != nil {
			log.Warn().Err(err).Msg("history sync incomplete")
		}
	}

	v.RunRounds(Role, v.Round)
}

func (v *Validator) RestoreScores(ctx context.Context) error {
	if v.Scores == nil {
		return nil
	}
	records, err := v.Scores.Load(ctx)
	if err != nil {
		return err
	}
	v.Board.Restore(records)
	log.Info().Int("participants", len(records)).Msg("restored scores")
	return nil
}

// Round evaluates the window EvalOffset behind w.
func (v *Validator) Round(ctx context.Context, w int) error {
	l := zerolog.Ctx(ctx)

	target := w - v.Config.EvalOffset
	if target < 0 {
		return fmt.Errorf("%w: window %d is within the evaluation offset", core.ErrRoundSkipped, w)
	}

	states := v.Fetch(ctx, slices.State, target)
	deltas := v.Fetch(ctx, slices.Delta, target)
	if len(deltas) == 0 {
		return fmt.Errorf("%w %d", ErrNoEligibleArtifacts, target)
	}

	sel, err := v.Selection(ctx, target)
	if err != nil {
		return err
	}
	params := v.Params()

	applied, step := slices.ApplyAll(states, params, sel)
	v.AdvanceGlobalStep(step)

	delta := deltas[v.rng.IntN(len(deltas))]
	table := v.Registry.Current()
	record, ok := table.Lookup(delta.Producer)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProducer, delta.Producer)
	}

	grad, err := v.gradient(ctx, target, record.UID, sel)
	if err != nil {
		return err
	}

	theta := gather(params, sel, func(t *model.Tensor) []float64 { return t.Data })
	score, err := scoring.ContributionScore(theta, delta.Payload, grad)
	if err != nil {
		return fmt.Errorf("score %s: %w", delta.Producer, err)
	}

	if _, err := v.Board.Record(delta.Producer, score); err != nil {
		return fmt.Errorf("%w: %w", core.ErrRoundSkipped, err)
	}
	if dropped := v.Board.Retain(func(hotkey string) bool {
		_, ok := table.Lookup(hotkey)
		return ok
	}); dropped > 0 {
		l.Info().Int("dropped", dropped).Msg("dropped scores of deregistered participants")
	}
	scored, _ := v.Board.Get(delta.Producer)

	l.Info().
		Int("eval_window", target).
		Int("states", applied).
		Int("deltas", len(deltas)).
		Int("uid", record.UID).
		Float64("step_score", scored.StepScore).
		Float64("ema_score", scored.EmaScore).
		Float64("weight", scored.Weight).
		Msg("scored delta")
	v.logScoreTable(target)

	if err := slices.Apply(delta, params, sel); err != nil {
		l.Warn().Err(err).Str("key", delta.Key()).Msg("failed to apply scored delta")
	} else {
		v.AdvanceGlobalStep(delta.GlobalStep)
	}

	v.prune(ctx, target)

	if v.Scores != nil {
		if err := v.Scores.Save(ctx, v.Board.Snapshot()); err != nil {
			l.Warn().Err(err).Msg("failed to persist scores")
		}
	}
	return nil
}

// gradient accumulates the local gradient over the producer's pages for
// window and returns it at the selected offsets. The sampler gates batches
// exactly as it does for training.
func (v *Validator) gradient(ctx context.Context, window, uid int, sel indices.Selection) (map[string][]float64, error) {
	batches := v.Loader.Batches(v.Loader.NextPages(window, v.Config.PagesPerWindow, uid))

	processed := 0
	v.Model.ZeroGrad()
	for _, batch := range batches {
		if err := ctx.Err(); err != nil {
			v.Sampler.EndRound()
			return nil, err
		}
		if !v.Sampler.Include() {
			continue
		}
		if _, err := v.Model.ForwardBackward(batch); err != nil {
			v.Sampler.EndRound()
			return nil, fmt.Errorf("forward backward: %w", err)
		}
		processed++
		if v.Clock.CurrentWindow()-v.Config.EvalOffset != window {
			v.Sampler.MarkExhausted()
		}
	}

	exhausted, rate := v.Sampler.EndRound()
	zerolog.Ctx(ctx).Debug().
		Int("batches", processed).
		Int("total_batches", len(batches)).
		Bool("exhausted", exhausted).
		Float64("sample_rate", rate).
		Msg("computed gradient")

	return gather(v.Params(), sel, func(t *model.Tensor) []float64 { return t.Grad }), nil
}

// gather reads the selected offsets of every tensor through field.
func gather(params map[string]*model.Tensor, sel indices.Selection, field func(*model.Tensor) []float64) map[string][]float64 {
	out := make(map[string][]float64, len(sel))
	for name, offsets := range sel {
		t, ok := params[name]
		if !ok {
			continue
		}
		values := field(t)
		picked := make([]float64, len(offsets))
		for i, o := range offsets {
			picked[i] = values[o]
		}
		out[name] = picked
	}
	return out
}

func (v *Validator) logScoreTable(window int) {
	sugar := logger.Sugar()
	snapshot := v.Board.Snapshot()
	for _, r := range v.Registry.Current().Records() {
		s, ok := snapshot[r.Hotkey]
		if !ok {
			continue
		}
		sugar.Debugf("window=%d uid=%d step_score=%.4f ema_score=%.4f weight=%.4f",
			window, r.UID, s.StepScore, s.EmaScore, s.Weight)
	}
}

func (v *Validator) prune(ctx context.Context, w int) {
	windowMax := w - v.Config.MaxHistory
	for _, kind := range []slices.ArtifactKind{slices.State, slices.Delta} {
		if err := v.Store.Prune(ctx, kind, windowMax); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("kind", string(kind)).Int("window_max", windowMax).Msg("prune incomplete")
		}
	}
}

// commitWeights submits the current weight vector in uid order. Failures are
// left to the scheduler, which retries on its next check.
func (v *Validator) commitWeights(block int) error {
	records := v.Registry.Current().Records()
	uids, weights := chainutils.WeightsByUID(records, v.Board.Weights())
	dests, values, err := chainutils.ConvertWeightsAndUidsForEmit(uids, weights)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWeightCommitFailure, err)
	}
	if len(dests) == 0 {
		log.Info().Int("block", block).Msg("no positive weights to commit")
		return nil
	}

	resp, err := v.Weights.SetWeights(kami.SetWeightsParams{
		Netuid:     v.Config.Netuid,
		Dests:      dests,
		Weights:    values,
		VersionKey: WeightsVersionKey,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWeightCommitFailure, err)
	}

	log.Info().
		Int("block", block).
		Ints("uids", dests).
		Ints("weights", values).
		Str("extrinsic", resp.Data).
		Msg("committed weights")
	return nil
}
