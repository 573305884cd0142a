package core

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tensorplex-labs/templar/internal/scheduler"
)

// RunRounds calls round once per window until the node is stopped. A round for
// a later window never starts before the previous round has returned.
func (n *Node) RunRounds(role string, round RoundFunc) {
	if err := n.Clock.WaitReady(n.Ctx); err != nil {
		return
	}

	w := n.Clock.CurrentWindow()
	for {
		n.RunRound(role, w, round)
		if n.Ctx.Err() != nil {
			return
		}

		errs := scheduler.RunDue(n.Clock.CurrentBlock(), n.callbacks...)
		if len(errs) > 0 {
			log.Warn().Int("window", w).Int("failed_callbacks", len(errs)).Msg("scheduled callbacks failed")
		}

		next, err := n.Clock.WaitForChange(n.Ctx, w)
		if err != nil {
			return
		}
		w = next
	}
}

// RunRound executes one round body, recovering panics and logging the outcome
// with the round id and window.
func (n *Node) RunRound(role string, w int, round RoundFunc) (err error) {
	l := log.With().
		Str("role", role).
		Str("round_id", uuid.NewString()).
		Int("window", w).
		Logger()
	ctx := l.WithContext(n.Ctx)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("round panicked: %v", r)
			l.Error().Err(err).Str("stack", string(debug.Stack())).Msg("round aborted")
			return
		}
		logOutcome(l, err, time.Since(start), n.Clock.LastWindowDuration())
	}()

	return round(ctx, w)
}

func logOutcome(l zerolog.Logger, err error, took, windowDuration time.Duration) {
	switch {
	case err == nil:
		l.Info().
			Str("took", took.Round(time.Millisecond).String()).
			Str("last_window_duration", windowDuration.Round(time.Millisecond).String()).
			Msg("round complete")
	case errors.Is(err, ErrRoundSkipped):
		l.Info().Err(err).Msg("round skipped")
	case errors.Is(err, context.Canceled):
		l.Info().Msg("round cancelled")
	default:
		l.Error().Err(err).Msg("round failed")
	}
}
