package core

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tensorplex-labs/templar/internal/indices"
	"github.com/tensorplex-labs/templar/internal/slices"
)

// Fetch downloads every kind slice of window w from all known endpoints and
// logs each endpoint that had to be skipped.
func (n *Node) Fetch(ctx context.Context, kind slices.ArtifactKind, w int) []*slices.Slice {
	l := zerolog.Ctx(ctx)
	result := n.Store.Download(ctx, kind, []int{w}, n.Endpoints())
	for _, f := range result.Failures {
		l.Warn().
			Err(f.Err).
			Str("endpoint", f.Endpoint).
			Str("kind", string(kind)).
			Int("window", f.Window).
			Str("key", f.Key).
			Msg("skipped endpoint")
	}
	return result.Slices[w]
}

// Sync fetches kind slices of window w and applies them onto the live model
// at sel. The global step catches up with the applied slices.
func (n *Node) Sync(ctx context.Context, kind slices.ArtifactKind, w int, sel indices.Selection) int {
	fetched := n.Fetch(ctx, kind, w)
	applied, step := slices.ApplyAll(fetched, n.Params(), sel)
	n.AdvanceGlobalStep(step)

	zerolog.Ctx(ctx).Info().
		Str("kind", string(kind)).
		Int("slice_window", w).
		Int("downloaded", len(fetched)).
		Int("applied", applied).
		Int("global_step", n.GlobalStep()).
		Msg("applied slices")
	return applied
}

// SyncHistory applies the state slices of up to MaxHistory windows preceding
// the current one, oldest first.
func (n *Node) SyncHistory(ctx context.Context, role string) error {
	l := log.With().Str("role", role).Str("phase", "sync_history").Logger()
	ctx = l.WithContext(ctx)

	current := n.Clock.CurrentWindow()
	for w := max(0, current-n.Config.MaxHistory); w < current; w++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		sel, err := n.Selection(ctx, w)
		if err != nil {
			return fmt.Errorf("selection for window %d: %w", w, err)
		}
		n.Sync(ctx, slices.State, w, sel)
	}
	l.Info().Int("window", current).Int("global_step", n.GlobalStep()).Msg("history synced")
	return nil
}
