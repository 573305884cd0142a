package miner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tensorplex-labs/templar/internal/core"
	"github.com/tensorplex-labs/templar/internal/indices"
	"github.com/tensorplex-labs/templar/internal/model"
	"github.com/tensorplex-labs/templar/internal/slices"
)

func NewMiner(n *core.Node) *Miner {
	return &Miner{Node: n}
}

// Run restores the checkpoint, replays recent state and then drives one round
// per window until the node is stopped.
func (m *Miner) Run() {
	if err := m.Restore(); err != nil {
		log.Error().Err(err).Str("path", m.Config.CheckpointPath).Msg("failed to load checkpoint, starting from the initial model")
	}

	if err := m.Clock.WaitReady(m.Ctx); err != nil {
		return
	}

	if m.Config.SyncState && !m.Config.Baseline {
		if err := m.SyncHistory(m.Ctx, Role); err != nil {
			log.Warn().Err(err).Msg("history sync incomplete")
		}
	}

	m.RunRounds(Role, m.Round)
}

// Restore loads the model checkpoint if one exists.
func (m *Miner) Restore() error {
	if m.Config.CheckpointPath == "" {
		return nil
	}
	step, err := model.LoadCheckpoint(m.Config.CheckpointPath, m.Model)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	m.AdvanceGlobalStep(step)
	m.lastCheckpoint = step
	log.Info().Int("global_step", step).Str("path", m.Config.CheckpointPath).Msg("restored checkpoint")
	return nil
}

// Round runs the sync engine for window w.
func (m *Miner) Round(ctx context.Context, w int) error {
	l := zerolog.Ctx(ctx)

	sel, err := m.Selection(ctx, w)
	if err != nil {
		return err
	}

	if !m.Config.Baseline {
		m.Sync(ctx, slices.State, w, sel)
		if w > 0 {
			prev, err := m.Selection(ctx, w-1)
			if err != nil {
				return err
			}
			m.Sync(ctx, slices.Delta, w-1, prev)
		}
	}

	stats, err := m.train(ctx, w)
	exhausted, rate := m.Sampler.EndRound()
	if err != nil {
		return err
	}
	m.AdvanceGlobalStep(m.GlobalStep() + 1)

	ev := l.Info().
		Int("batches", stats.processed).
		Int("total_batches", stats.total).
		Bool("exhausted", exhausted).
		Float64("sample_rate", rate).
		Int("global_step", m.GlobalStep())
	if stats.processed > 0 {
		ev = ev.Float64("loss", stats.loss/float64(stats.processed))
	}
	ev.Msg("trained")

	m.checkpoint(l)

	if m.Config.Baseline {
		return nil
	}

	if err := m.publish(ctx, w, sel); err != nil {
		return err
	}
	m.prune(ctx, w)
	return nil
}

// train accumulates gradients over this node's pages for window w and takes
// one optimizer step. Once the window advances the round is exhausted and the
// remaining batches are skipped.
func (m *Miner) train(ctx context.Context, w int) (trainStats, error) {
	uid := m.UID()
	if uid < 0 {
		return trainStats{}, fmt.Errorf("%w: %w", core.ErrRoundSkipped, core.ErrNotRegistered)
	}

	batches := m.Loader.Batches(m.Loader.NextPages(w, m.Config.PagesPerWindow, uid))
	stats := trainStats{total: len(batches)}

	m.Model.ZeroGrad()
	for _, batch := range batches {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if !m.Sampler.Include() {
			continue
		}

		loss, err := m.Model.ForwardBackward(batch)
		if err != nil {
			return stats, fmt.Errorf("forward backward: %w", err)
		}
		stats.processed++
		stats.loss += loss

		if m.Clock.CurrentWindow() != w {
			m.Sampler.MarkExhausted()
		}
	}

	if stats.processed > 0 {
		m.Model.Step()
	}
	return stats, nil
}

// publish uploads the delta of window w and the state for window w+1. The
// state selection needs the seed of w+1, so that upload waits for the clock.
func (m *Miner) publish(ctx context.Context, w int, sel indices.Selection) error {
	l := zerolog.Ctx(ctx)
	params := m.Params()
	step := m.GlobalStep()

	var (
		wg       sync.WaitGroup
		deltaErr error
		stateErr error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		if _, err := m.Store.Upload(ctx, slices.Delta, w, step, params, sel); err != nil {
			deltaErr = fmt.Errorf("upload delta: %w", err)
			return
		}
		l.Info().Int("slice_window", w).Msg("uploaded delta")
	}()
	go func() {
		defer wg.Done()
		if _, err := m.Clock.WaitForChange(ctx, w); err != nil {
			stateErr = err
			return
		}
		next, err := m.Selection(ctx, w+1)
		if err != nil {
			stateErr = fmt.Errorf("selection for window %d: %w", w+1, err)
			return
		}
		if _, err := m.Store.Upload(ctx, slices.State, w+1, step, params, next); err != nil {
			stateErr = fmt.Errorf("upload state: %w", err)
			return
		}
		l.Info().Int("slice_window", w+1).Msg("uploaded state")
	}()
	wg.Wait()

	return errors.Join(deltaErr, stateErr)
}

func (m *Miner) prune(ctx context.Context, w int) {
	windowMax := w - m.Config.MaxHistory
	for _, kind := range []slices.ArtifactKind{slices.State, slices.Delta} {
		if err := m.Store.Prune(ctx, kind, windowMax); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("kind", string(kind)).Int("window_max", windowMax).Msg("prune incomplete")
		}
	}
}

func (m *Miner) checkpoint(l *zerolog.Logger) {
	steps := m.Config.CheckpointSteps
	if steps <= 0 || m.Config.CheckpointPath == "" || m.GlobalStep()-m.lastCheckpoint < steps {
		return
	}
	if err := model.SaveCheckpoint(m.Config.CheckpointPath, m.Model, m.GlobalStep()); err != nil {
		l.Warn().Err(err).Str("path", m.Config.CheckpointPath).Msg("failed to save checkpoint")
		return
	}
	m.lastCheckpoint = m.GlobalStep()
	l.Info().Int("global_step", m.GlobalStep()).Str("path", m.Config.CheckpointPath).Msg("saved checkpoint")
}
