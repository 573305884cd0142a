package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tensorplex-labs/templar/internal/config"
	"github.com/tensorplex-labs/templar/internal/indices"
	"github.com/tensorplex-labs/templar/internal/kami"
	"github.com/tensorplex-labs/templar/internal/model"
	"github.com/tensorplex-labs/templar/internal/participants"
	"github.com/tensorplex-labs/templar/internal/sampler"
	"github.com/tensorplex-labs/templar/internal/scheduler"
)

func NewNode(d Deps) *Node {
	ctx, cancel := context.WithCancel(context.Background())
	return &Node{
		Config:    d.Config,
		Intervals: config.NewIntervalConfig(d.Config.Environment),
		Kami:      d.Kami,
		Clock:     d.Clock,
		Registry:  d.Registry,
		Store:     d.Store,
		Server:    d.Server,
		Model:     d.Model,
		Loader:    d.Loader,
		Sampler:   sampler.New(sampler.MaxRate, nil),
		Signer:    d.Signer,
		Endpoint:  strings.TrimRight(d.Endpoint, "/"),
		Ctx:       ctx,
		Cancel:    cancel,
	}
}

func (n *Node) RegisterCallback(callback scheduler.CallbackHandler) {
	n.callbacks = append(n.callbacks, callback)
	log.Debug().Str("callback", callback.GetName()).Msg("Registered callback")
}

// Hotkey is the SS58 address this node signs with.
func (n *Node) Hotkey() string {
	return n.Signer.Hotkey()
}

// UID returns this node's uid in the current table, or -1.
func (n *Node) UID() int {
	if r, ok := n.Registry.Current().Lookup(n.Hotkey()); ok {
		return r.UID
	}
	return -1
}

func (n *Node) GlobalStep() int {
	return n.globalStep
}

// AdvanceGlobalStep raises the global step to step if it is ahead.
func (n *Node) AdvanceGlobalStep(step int) int {
	n.globalStep = max(n.globalStep, step)
	return n.globalStep
}

// Params indexes the live model tensors by name.
func (n *Node) Params() map[string]*model.Tensor {
	return model.ByName(n.Model)
}

// Endpoints lists every participant's storage endpoint in the current table.
func (n *Node) Endpoints() []participants.Endpoint {
	return n.Registry.Current().Endpoints()
}

// Selection computes the coordinate selection for window w.
func (n *Node) Selection(ctx context.Context, w int) (indices.Selection, error) {
	seed, err := n.Clock.SeedFor(ctx, w)
	if err != nil {
		return nil, err
	}
	return indices.Select(model.Shapes(n.Model), seed, n.Config.Compression)
}

// CommitEndpoint publishes the node's storage URL on chain unless the chain
// already holds it.
func (n *Node) CommitEndpoint() error {
	record, ok := n.Registry.Current().Lookup(n.Hotkey())
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRegistered, n.Hotkey())
	}

	current, err := n.Kami.GetCommitment(n.Config.Netuid, record.UID)
	if err == nil && participants.ParseCommitment(current.Data.Data).URL == n.Endpoint {
		log.Info().Str("endpoint", n.Endpoint).Int("uid", record.UID).Msg("endpoint already committed")
		return nil
	}

	resp, err := n.Kami.SetCommitment(kami.SetCommitmentParams{Netuid: n.Config.Netuid, Data: n.Endpoint})
	if err != nil {
		return fmt.Errorf("commit endpoint: %w", err)
	}
	log.Info().
		Str("endpoint", n.Endpoint).
		Int("uid", record.UID).
		Str("extrinsic", resp.Data).
		Msg("committed endpoint")
	return nil
}

// Start refreshes the participant table, commits the endpoint and launches the
// header listener, the table refresher and the bucket server.
func (n *Node) Start() {
	if err := n.Registry.Refresh(); err != nil {
		log.Error().Err(err).Msg("initial participant refresh failed")
	}
	if err := n.CommitEndpoint(); err != nil {
		log.Error().Err(err).Msg("failed to commit endpoint, peers cannot read this node")
	}

	n.Wg.Add(1)
	go func() {
		defer n.Wg.Done()
		n.Clock.Run(n.Ctx)
	}()

	n.Wg.Add(1)
	go func() {
		defer n.Wg.Done()
		n.Registry.Run(n.Ctx)
	}()

	if n.Server != nil {
		n.Wg.Add(1)
		go func() {
			defer n.Wg.Done()
			if err := n.Server.Start(); err != nil {
				log.Error().Err(err).Msg("bucket server stopped")
			}
		}()
	}

	log.Info().Str("hotkey", n.Hotkey()).Str("endpoint", n.Endpoint).Msg("Node started")
}

// Stop cancels background routines and waits for them to finish.
func (n *Node) Stop() {
	if n.Cancel != nil {
		n.Cancel()
	}
	if n.Server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := n.Server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn().Err(err).Msg("bucket server shutdown")
		}
	}
	n.Wg.Wait()
	log.Info().Msg("Node stopped")
}
