package participants

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

func NewRegistry(chain ChainReader, netuid int, interval time.Duration) *Registry {
	r := &Registry{
		chain:    chain,
		netuid:   netuid,
		interval: interval,
	}
	r.current.Store(NewTable(nil, 0))
	return r
}

// Current returns the latest snapshot. The returned table is never mutated.
func (r *Registry) Current() *Table {
	return r.current.Load()
}

// Swap installs t as the current snapshot.
func (r *Registry) Swap(t *Table) {
	r.current.Store(t)
}

// ParseCommitment turns committed data into an endpoint; anything that is not
// an absolute http(s) URL stays unresolved.
func ParseCommitment(data string) Endpoint {
	data = strings.TrimSpace(data)
	if data == "" {
		return UnresolvedEndpoint()
	}
	u, err := url.Parse(data)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return UnresolvedEndpoint()
	}
	return ResolvedEndpoint(strings.TrimRight(u.String(), "/"))
}

// Refresh rebuilds the table from the metagraph and every uid's commitment.
// A failed commitment read leaves that participant unresolved.
func (r *Registry) Refresh() error {
	mg, err := r.chain.GetMetagraph(r.netuid)
	if err != nil {
		return fmt.Errorf("get metagraph: %w", err)
	}

	records := make([]Record, len(mg.Data.Hotkeys))
	for uid, hotkey := range mg.Data.Hotkeys {
		records[uid] = Record{UID: uid, Hotkey: hotkey, Endpoint: UnresolvedEndpoint()}

		commitment, err := r.chain.GetCommitment(r.netuid, uid)
		if err != nil {
			log.Debug().Err(err).Int("uid", uid).Msg("failed to read commitment, participant unresolved")
			continue
		}
		records[uid].Endpoint = ParseCommitment(commitment.Data.Data)
	}

	table := NewTable(records, mg.Data.Block)
	r.Swap(table)

	log.Info().
		Int("netuid", r.netuid).
		Int("participants", table.Len()).
		Int("resolved", table.Resolved()).
		Int("block", table.Block()).
		Msg("participant table refreshed")
	return nil
}

// Run refreshes the table every interval until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) {
	t := time.NewTicker(r.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := r.Refresh(); err != nil {
				log.Error().Err(err).Msg("failed to refresh participant table, keeping previous")
			}
		}
	}
}
