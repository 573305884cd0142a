// Package slices moves window-scoped parameter slices between the local model,
// a local cache and every participant's remote endpoint.
package slices

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tensorplex-labs/templar/pkg/signature"
)

var (
	ErrEndpointUnreachable = errors.New("endpoint unreachable")
	ErrArtifactMissing     = errors.New("artifact missing")
	ErrArtifactCorrupt     = errors.New("artifact corrupt")
)

const (
	DefaultEndpointTimeout = 20 * time.Second
	keySuffix              = ".bin"

	// MaxValueMagnitude bounds every payload coordinate accepted from a peer.
	MaxValueMagnitude = 1e12
)

// ArtifactKind distinguishes full state slices from incremental deltas.
type ArtifactKind string

const (
	State ArtifactKind = "state"
	Delta ArtifactKind = "delta"
)

func ParseKind(s string) (ArtifactKind, error) {
	switch ArtifactKind(s) {
	case State, Delta:
		return ArtifactKind(s), nil
	}
	return "", fmt.Errorf("unknown artifact kind %q", s)
}

// Slice is one producer's coordinates for one window. Payload values are in
// the order of the window's index selection.
type Slice struct {
	Kind       ArtifactKind         `json:"kind"`
	Window     int                  `json:"window"`
	Producer   string               `json:"producer"`
	GlobalStep int                  `json:"global_step"`
	Payload    map[string][]float64 `json:"payload"`
	CID        string               `json:"cid"`
	Signature  string               `json:"signature"`
}

func (s *Slice) Key() string {
	return Key(s.Kind, s.Window, s.Producer)
}

// Key is the object name {kind}-{window}-{producer}.bin.
func Key(kind ArtifactKind, window int, producer string) string {
	return fmt.Sprintf("%s-%d-%s%s", kind, window, producer, keySuffix)
}

// WindowPrefix is the listing prefix for one kind and window.
func WindowPrefix(kind ArtifactKind, window int) string {
	return fmt.Sprintf("%s-%d-", kind, window)
}

// KindPrefix is the listing prefix for every window of one kind.
func KindPrefix(kind ArtifactKind) string {
	return string(kind) + "-"
}

// ParseKey splits an object name produced by Key.
func ParseKey(key string) (ArtifactKind, int, string, error) {
	trimmed, ok := strings.CutSuffix(key, keySuffix)
	if !ok {
		return "", 0, "", fmt.Errorf("key %q lacks %s suffix", key, keySuffix)
	}
	parts := strings.SplitN(trimmed, "-", 3)
	if len(parts) != 3 || parts[2] == "" {
		return "", 0, "", fmt.Errorf("malformed key %q", key)
	}
	kind, err := ParseKind(parts[0])
	if err != nil {
		return "", 0, "", err
	}
	window, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", 0, "", fmt.Errorf("malformed window in key %q: %w", key, err)
	}
	return kind, window, parts[2], nil
}

// Remote is a participant's blob endpoint, addressed by base URL.
// Get returns ErrArtifactMissing for unknown keys; Delete of an unknown key succeeds.
type Remote interface {
	List(ctx context.Context, endpoint, prefix string) ([]string, error)
	Get(ctx context.Context, endpoint, key string) ([]byte, error)
	Put(ctx context.Context, endpoint, key string, data []byte) error
	Delete(ctx context.Context, endpoint, key string) error
}

// FetchFailure records one skipped (endpoint, window) retrieval.
type FetchFailure struct {
	Endpoint string
	Window   int
	Key      string
	Err      error
}

// DownloadResult holds whatever subset of a fan-out download succeeded.
type DownloadResult struct {
	Slices   map[int][]*Slice
	Failures []FetchFailure
}

// Count is the number of slices retrieved across all windows.
func (r DownloadResult) Count() int {
	n := 0
	for _, s := range r.Slices {
		n += len(s)
	}
	return n
}

// StoreConfig wires a Store.
type StoreConfig struct {
	Remote          Remote
	Signer          signature.Signer
	Verifier        signature.SignatureVerifier
	CacheDir        string
	OwnEndpoint     string
	EndpointTimeout time.Duration
}

type Store struct {
	remote   Remote
	signer   signature.Signer
	verifier signature.SignatureVerifier
	cacheDir string
	own      string
	timeout  time.Duration
}
