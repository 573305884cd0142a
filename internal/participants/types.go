// Package participants keeps the table of known participants and their
// storage endpoints, refreshed from the chain and swapped atomically.
package participants

import (
	"sync/atomic"
	"time"

	"github.com/tensorplex-labs/templar/internal/kami"
)

// EndpointState tags whether a participant has a usable storage location.
type EndpointState uint8

const (
	Unresolved EndpointState = iota
	Resolved
)

func (s EndpointState) String() string {
	if s == Resolved {
		return "resolved"
	}
	return "unresolved"
}

// Endpoint is either Unresolved or Resolved with a base URL.
type Endpoint struct {
	State EndpointState
	URL   string
}

func UnresolvedEndpoint() Endpoint {
	return Endpoint{State: Unresolved}
}

func ResolvedEndpoint(url string) Endpoint {
	return Endpoint{State: Resolved, URL: url}
}

// Location returns the URL and whether the endpoint is resolved.
func (e Endpoint) Location() (string, bool) {
	return e.URL, e.State == Resolved && e.URL != ""
}

// Record is one participant as seen on chain.
type Record struct {
	UID      int
	Hotkey   string
	Endpoint Endpoint
}

// Table is an immutable snapshot of all participants.
type Table struct {
	records  []Record
	byHotkey map[string]int
	block    int
}

// ChainReader is the chain surface the refresher reads.
type ChainReader interface {
	GetMetagraph(netuid int) (kami.SubnetMetagraphResponse, error)
	GetCommitment(netuid, uid int) (kami.CommitmentResponse, error)
}

// Registry owns the current Table and replaces it wholesale on refresh.
type Registry struct {
	chain    ChainReader
	netuid   int
	interval time.Duration
	current  atomic.Pointer[Table]
}
