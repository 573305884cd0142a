// Package coretest provides in-memory chain, header and storage fakes for
// building networks of nodes in tests.
package coretest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ChainSafe/gossamer/lib/crypto/sr25519"
	"github.com/stretchr/testify/require"

	"github.com/tensorplex-labs/templar/internal/config"
	"github.com/tensorplex-labs/templar/internal/core"
	"github.com/tensorplex-labs/templar/internal/dataset"
	"github.com/tensorplex-labs/templar/internal/kami"
	"github.com/tensorplex-labs/templar/internal/model"
	"github.com/tensorplex-labs/templar/internal/participants"
	"github.com/tensorplex-labs/templar/internal/slices"
	"github.com/tensorplex-labs/templar/internal/window"
	"github.com/tensorplex-labs/templar/pkg/chain"
	"github.com/tensorplex-labs/templar/pkg/signature"
)

var ErrInjected = errors.New("injected failure")

// Chain is an in-memory KamiInterface.
type Chain struct {
	mu          sync.Mutex
	Hotkeys     []string
	Commitments map[int]string
	Block       int

	// FailSetWeights makes that many SetWeights calls fail before succeeding.
	FailSetWeights int
	WeightCalls    []kami.SetWeightsParams
	Committed      []kami.SetCommitmentParams
	SidecarHotkey  string
}

var _ kami.KamiInterface = (*Chain)(nil)

func NewChain(hotkeys ...string) *Chain {
	return &Chain{Hotkeys: hotkeys, Commitments: make(map[int]string)}
}

func (c *Chain) GetMetagraph(netuid int) (kami.SubnetMetagraphResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	hotkeys := make([]string, len(c.Hotkeys))
	copy(hotkeys, c.Hotkeys)
	return kami.SubnetMetagraphResponse{
		StatusCode: 200,
		Success:    true,
		Data:       kami.SubnetMetagraph{Netuid: netuid, Block: c.Block, NumUids: len(hotkeys), Hotkeys: hotkeys},
	}, nil
}

func (c *Chain) GetBlockHash(height int) (kami.BlockHashResponse, error) {
	return kami.BlockHashResponse{Success: true, Data: kami.BlockHash{BlockNumber: height, Hash: HashAt(height)}}, nil
}

func (c *Chain) GetCommitment(_ int, uid int) (kami.CommitmentResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return kami.CommitmentResponse{Success: true, Data: kami.Commitment{Uid: uid, Data: c.Commitments[uid]}}, nil
}

// SetCommitment stores data against the sidecar hotkey's uid.
func (c *Chain) SetCommitment(params kami.SetCommitmentParams) (kami.ExtrinsicHashResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Committed = append(c.Committed, params)
	for uid, h := range c.Hotkeys {
		if h == c.SidecarHotkey {
			c.Commitments[uid] = params.Data
		}
	}
	return kami.ExtrinsicHashResponse{Success: true, Data: "0xcommit"}, nil
}

func (c *Chain) SetWeights(params kami.SetWeightsParams) (kami.ExtrinsicHashResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailSetWeights > 0 {
		c.FailSetWeights--
		return kami.ExtrinsicHashResponse{}, ErrInjected
	}
	c.WeightCalls = append(c.WeightCalls, params)
	return kami.ExtrinsicHashResponse{Success: true, Data: "0xweights"}, nil
}

func (c *Chain) GetKeyringPair() (kami.KeyringPairInfoResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	info := kami.KeyringPairInfo{KeyringPair: kami.KeyringPair{Address: c.SidecarHotkey}}
	return kami.KeyringPairInfoResponse{Success: true, Data: info}, nil
}

// Weights returns a copy of every successful SetWeights call.
func (c *Chain) Weights() []kami.SetWeightsParams {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]kami.SetWeightsParams, len(c.WeightCalls))
	copy(out, c.WeightCalls)
	return out
}

// HashAt is the deterministic block hash Headers and Chain report.
func HashAt(height int) string {
	return fmt.Sprintf("0x%064x", height)
}

// Headers is a HeaderSource whose hashes are derived from the height. Tests
// advance clocks with Clock.Observe instead of streaming.
type Headers struct {
	mu   sync.Mutex
	fail bool
}

var _ window.HeaderSource = (*Headers)(nil)

// SetFailing makes BlockHash fail until reset.
func (h *Headers) SetFailing(fail bool) {
	h.mu.Lock()
	h.fail = fail
	h.mu.Unlock()
}

func (h *Headers) BlockHash(_ context.Context, height int) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fail {
		return "", ErrInjected
	}
	return HashAt(height), nil
}

type idleStream struct {
	headers chan chain.Header
	ctx     context.Context
}

func (s *idleStream) Headers() <-chan chain.Header { return s.headers }

func (s *idleStream) Err() error {
	<-s.ctx.Done()
	return nil
}

// Subscribe returns a stream that stays open and silent until ctx ends.
func (h *Headers) Subscribe(ctx context.Context) (chain.Stream, error) {
	s := &idleStream{headers: make(chan chain.Header), ctx: ctx}
	go func() {
		<-ctx.Done()
		close(s.headers)
	}()
	return s, nil
}

// Remote is an in-memory slices.Remote shared by every node of a Network.
type Remote struct {
	mu      sync.Mutex
	objects map[string]map[string][]byte
	down    map[string]bool
}

var _ slices.Remote = (*Remote)(nil)

func NewRemote() *Remote {
	return &Remote{objects: make(map[string]map[string][]byte), down: make(map[string]bool)}
}

// SetDown makes every call against endpoint fail as unreachable.
func (r *Remote) SetDown(endpoint string, down bool) {
	r.mu.Lock()
	r.down[endpoint] = down
	r.mu.Unlock()
}

func (r *Remote) check(endpoint string) error {
	if r.down[endpoint] {
		return fmt.Errorf("%w: %s", slices.ErrEndpointUnreachable, endpoint)
	}
	return nil
}

func (r *Remote) List(_ context.Context, endpoint, prefix string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check(endpoint); err != nil {
		return nil, err
	}
	var keys []string
	for k := range r.objects[endpoint] {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (r *Remote) Get(_ context.Context, endpoint, key string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check(endpoint); err != nil {
		return nil, err
	}
	data, ok := r.objects[endpoint][key]
	if !ok {
		return nil, slices.ErrArtifactMissing
	}
	return data, nil
}

func (r *Remote) Put(_ context.Context, endpoint, key string, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check(endpoint); err != nil {
		return err
	}
	if r.objects[endpoint] == nil {
		r.objects[endpoint] = make(map[string][]byte)
	}
	r.objects[endpoint][key] = append([]byte(nil), data...)
	return nil
}

func (r *Remote) Delete(_ context.Context, endpoint, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check(endpoint); err != nil {
		return err
	}
	delete(r.objects[endpoint], key)
	return nil
}

// Keys lists everything stored at endpoint.
func (r *Remote) Keys(endpoint string) []string {
	keys, _ := r.List(context.Background(), endpoint, "")
	return keys
}

// Config returns small hyperparameters suitable for fast rounds.
func Config(t testing.TB) *config.AppConfig {
	t.Helper()
	return &config.AppConfig{
		ChainEnvConfig: config.ChainEnvConfig{Netuid: 3},
		ClientEnvConfig: config.ClientEnvConfig{
			ClientTimeout:   time.Second,
			EndpointTimeout: time.Second,
		},
		StoreEnvConfig: config.StoreEnvConfig{SaveLocation: t.TempDir()},
		HparamsEnvConfig: config.HparamsEnvConfig{
			WindowLength:          2,
			Compression:           2,
			MaxHistory:            3,
			ScoreAlpha:            0.9,
			EvalOffset:            1,
			WeightsIntervalBlocks: 10,
			BatchSize:             4,
			PagesPerWindow:        2,
			BatchesPerPage:        2,
			LearningRate:          0.1,
			ModelDimension:        8,
		},
		RuntimeEnvConfig: config.RuntimeEnvConfig{Environment: "dev"},
		MinerEnvConfig: config.MinerEnvConfig{
			CheckpointPath: filepath.Join(t.TempDir(), "checkpoint.json"),
		},
		ValidatorEnvConfig: config.ValidatorEnvConfig{
			ScoresPath: filepath.Join(t.TempDir(), "scores.json"),
		},
	}
}

// Network is a set of registered participants sharing a chain and storage.
type Network struct {
	Chain   *Chain
	Headers *Headers
	Remote  *Remote
	Signers []*signature.Provider
}

// EndpointOf is the storage URL participant uid commits.
func EndpointOf(uid int) string {
	return fmt.Sprintf("http://peer-%d.test", uid)
}

// NewNetwork registers n participants, each committed to its own endpoint.
func NewNetwork(t testing.TB, n int) *Network {
	t.Helper()
	net := &Network{Headers: &Headers{}, Remote: NewRemote()}
	hotkeys := make([]string, n)
	for i := range n {
		kp, err := sr25519.GenerateKeypair()
		require.NoError(t, err)
		p, err := signature.NewProvider(kp)
		require.NoError(t, err)
		net.Signers = append(net.Signers, p)
		hotkeys[i] = p.Hotkey()
	}
	net.Chain = NewChain(hotkeys...)
	for i := range n {
		net.Chain.Commitments[i] = EndpointOf(i)
	}
	return net
}

// Node builds a node for participant uid with a refreshed participant table.
// mutate, when set, adjusts the config before anything is wired.
func (net *Network) Node(t testing.TB, uid int, mutate func(*config.AppConfig)) *core.Node {
	t.Helper()
	cfg := Config(t)
	if mutate != nil {
		mutate(cfg)
	}

	signer := net.Signers[uid]
	clock, err := window.NewClock(net.Headers, cfg.WindowLength, time.Millisecond)
	require.NoError(t, err)

	store, err := slices.NewStore(slices.StoreConfig{
		Remote:          net.Remote,
		Signer:          signer,
		Verifier:        signature.NewVerifier(),
		CacheDir:        cfg.SaveLocation,
		OwnEndpoint:     EndpointOf(uid),
		EndpointTimeout: cfg.EndpointTimeout,
	})
	require.NoError(t, err)

	registry := participants.NewRegistry(net.Chain, cfg.Netuid, time.Hour)
	require.NoError(t, registry.Refresh())

	n := core.NewNode(core.Deps{
		Config:   cfg,
		Kami:     net.Chain,
		Clock:    clock,
		Registry: registry,
		Store:    store,
		Model:    model.NewLinear(cfg.ModelDimension, cfg.LearningRate, core.ModelSeed),
		Loader:   dataset.NewLoader(cfg.ModelDimension, cfg.BatchSize, cfg.BatchesPerPage, dataset.DefaultCorpusSeed),
		Signer:   signer,
		Endpoint: EndpointOf(uid),
	})
	t.Cleanup(n.Cancel)
	return n
}

// Advance feeds block to the node's clock.
func Advance(n *core.Node, block int) {
	n.Clock.Observe(context.Background(), chain.Header{Number: block})
}
