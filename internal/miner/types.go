// Package miner implements the sync engine: every window it pulls the
// network state, trains on its own pages and publishes the resulting delta
// and state slices.
package miner

import (
	"github.com/tensorplex-labs/templar/internal/core"
)

const Role = "miner"

type Miner struct {
	*core.Node

	lastCheckpoint int
}

// trainStats summarises one round of local training.
type trainStats struct {
	total     int
	processed int
	loss      float64
}
