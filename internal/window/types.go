package window

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tensorplex-labs/templar/pkg/chain"
)

// ErrChainUnavailable is returned when a seed cannot be read from the chain.
var ErrChainUnavailable = errors.New("chain unavailable")

const (
	DefaultBackoff          = 5 * time.Second
	DefaultSubscriberBuffer = 4
)

// HeaderSource is the chain surface the clock reads.
type HeaderSource interface {
	Subscribe(ctx context.Context) (chain.Stream, error)
	BlockHash(ctx context.Context, height int) (string, error)
}

// Window is a closed span of blocks sharing one seed.
type Window struct {
	Index       int
	Seed        string
	StartBlock  int
	LengthBlock int
}

// Event is delivered to subscribers once per window transition.
type Event struct {
	Window         int
	PreviousWindow int
	Block          int
	// PreviousDuration is the wall-clock time the previous window stayed open,
	// zero for the first window observed.
	PreviousDuration time.Duration
}

// Clock maps block heights to windows and tracks the chain head.
type Clock struct {
	source  HeaderSource
	length  int
	backoff time.Duration

	mu            sync.RWMutex
	block         int
	window        int
	windowStarted time.Time
	lastDuration  time.Duration
	seeds         map[int]string
	changed       chan struct{}
	ready         chan struct{}
	subscribers   []chan Event
}
