// Package core holds the runtime shared by the miner and the validator: the
// window clock, the participant table, the slice store, the model and the
// strictly sequential round loop that drives them.
package core

import (
	"context"
	"errors"
	"sync"

	"github.com/tensorplex-labs/templar/internal/bucket"
	"github.com/tensorplex-labs/templar/internal/config"
	"github.com/tensorplex-labs/templar/internal/dataset"
	"github.com/tensorplex-labs/templar/internal/kami"
	"github.com/tensorplex-labs/templar/internal/model"
	"github.com/tensorplex-labs/templar/internal/participants"
	"github.com/tensorplex-labs/templar/internal/sampler"
	"github.com/tensorplex-labs/templar/internal/scheduler"
	"github.com/tensorplex-labs/templar/internal/slices"
	"github.com/tensorplex-labs/templar/internal/window"
	"github.com/tensorplex-labs/templar/pkg/signature"
)

var (
	// ErrRoundSkipped marks a round that ended early without mutating state.
	ErrRoundSkipped  = errors.New("round skipped")
	ErrNotRegistered = errors.New("hotkey not registered on subnet")
)

// RoundFunc is one round body for window w. The context carries a logger
// tagged with the round id and window.
type RoundFunc func(ctx context.Context, w int) error

// Deps are the collaborators a Node drives. Server may be nil.
type Deps struct {
	Config   *config.AppConfig
	Kami     kami.KamiInterface
	Clock    *window.Clock
	Registry *participants.Registry
	Store    *slices.Store
	Server   *bucket.Server
	Model    model.Trainable
	Loader   *dataset.Loader
	Signer   signature.Signer
	// Endpoint is the storage URL this node commits on chain.
	Endpoint string
}

type Node struct {
	Config    *config.AppConfig
	Intervals *config.IntervalConfig
	Kami      kami.KamiInterface
	Clock     *window.Clock
	Registry  *participants.Registry
	Store     *slices.Store
	Server    *bucket.Server
	Model     model.Trainable
	Loader    *dataset.Loader
	Sampler   *sampler.Sampler
	Signer    signature.Signer
	Endpoint  string

	Ctx    context.Context
	Cancel context.CancelFunc
	Wg     sync.WaitGroup

	callbacks []scheduler.CallbackHandler
	// globalStep is owned by the round loop.
	globalStep int
}
