package validator

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ChainSafe/gossamer/lib/crypto/sr25519"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"github.com/tensorplex-labs/templar/internal/core"
	"github.com/tensorplex-labs/templar/internal/core/coretest"
	"github.com/tensorplex-labs/templar/internal/model"
	"github.com/tensorplex-labs/templar/internal/scheduler"
	"github.com/tensorplex-labs/templar/internal/scoring"
	"github.com/tensorplex-labs/templar/internal/slices"
	"github.com/tensorplex-labs/templar/internal/utils/redis"
	"github.com/tensorplex-labs/templar/pkg/signature"
)

// publishDelta trains n over its own pages for window w the way a miner does
// and uploads the resulting delta.
func publishDelta(t *testing.T, n *core.Node, w int) {
	t.Helper()
	ctx := context.Background()
	sel, err := n.Selection(ctx, w)
	require.NoError(t, err)

	n.Model.ZeroGrad()
	for _, b := range n.Loader.Batches(n.Loader.NextPages(w, n.Config.PagesPerWindow, n.UID())) {
		_, err := n.Model.ForwardBackward(b)
		require.NoError(t, err)
	}
	n.Model.Step()

	_, err = n.Store.Upload(ctx, slices.Delta, w, 7, n.Params(), sel)
	require.NoError(t, err)
}

// publishOutOfRange uploads a validly signed kind slice for window w whose
// every value sits near the float64 maximum.
func publishOutOfRange(t *testing.T, net *coretest.Network, n *core.Node, kind slices.ArtifactKind, w int) {
	t.Helper()
	ctx := context.Background()
	sel, err := n.Selection(ctx, w)
	require.NoError(t, err)

	s, err := slices.Build(kind, w, n.Hotkey(), 1, n.Params(), sel)
	require.NoError(t, err)
	for _, values := range s.Payload {
		for i := range values {
			values[i] = 1.6e308
		}
	}
	data, err := slices.Encode(s, net.Signers[n.UID()])
	require.NoError(t, err)
	require.NoError(t, net.Remote.Put(ctx, coretest.EndpointOf(n.UID()), s.Key(), data))
}

func newValidator(t *testing.T, net *coretest.Network, uid int) *Validator {
	t.Helper()
	n := net.Node(t, uid, nil)
	coretest.Advance(n, 6)
	return NewValidator(n, NewFileScoreStore(n.Config.ScoresPath))
}

func TestRound_NoDeltasLeavesScoresUntouched(t *testing.T) {
	net := coretest.NewNetwork(t, 2)
	v := newValidator(t, net, 1)
	v.Board.Restore(map[string]scoring.ScoreRecord{"peer": {EmaScore: 0.5}})

	err := v.Round(context.Background(), 3)
	assert.ErrorIs(t, err, ErrNoEligibleArtifacts)
	assert.ErrorIs(t, err, core.ErrRoundSkipped)

	got, ok := v.Board.Get("peer")
	require.True(t, ok)
	assert.Equal(t, 0.5, got.EmaScore)
	assert.Equal(t, 1, v.Board.Len())
	assert.Zero(t, v.GlobalStep())
}

func TestRound_ScoresHonestDelta(t *testing.T) {
	net := coretest.NewNetwork(t, 2)
	producer := net.Node(t, 0, nil)
	coretest.Advance(producer, 4)
	publishDelta(t, producer, 2)

	v := newValidator(t, net, 1)
	sel, err := v.Selection(context.Background(), 2)
	require.NoError(t, err)
	theta := gather(v.Params(), sel, func(t *model.Tensor) []float64 { return t.Data })
	expected := floats.Norm(theta[model.WeightName], 2) + scoring.Epsilon

	require.NoError(t, v.Round(context.Background(), 3))

	rec, ok := v.Board.Get(producer.Hotkey())
	require.True(t, ok)
	assert.InDelta(t, expected, rec.StepScore, 1e-6)
	assert.InDelta(t, (1-v.Config.ScoreAlpha)*expected, rec.EmaScore, 1e-6)
	assert.InDelta(t, 1.0, rec.Weight, 1e-12)

	// the scored delta is applied to keep the trajectories aligned
	assert.Equal(t,
		gather(producer.Params(), sel, func(t *model.Tensor) []float64 { return t.Data }),
		gather(v.Params(), sel, func(t *model.Tensor) []float64 { return t.Data }))
	assert.Equal(t, 7, v.GlobalStep())

	persisted, err := v.Scores.Load(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, rec.EmaScore, persisted[producer.Hotkey()].EmaScore, 1e-12)
}

func TestRound_OutOfRangeDeltaLeavesBoardUntouched(t *testing.T) {
	net := coretest.NewNetwork(t, 3)
	publishOutOfRange(t, net, net.Node(t, 2, nil), slices.Delta, 2)

	v := newValidator(t, net, 1)
	v.Board.Restore(map[string]scoring.ScoreRecord{net.Signers[0].Hotkey(): {EmaScore: 0.5}})
	before := v.Board.Snapshot()
	sel, err := v.Selection(context.Background(), 2)
	require.NoError(t, err)
	theta := gather(v.Params(), sel, func(t *model.Tensor) []float64 { return t.Data })

	err = v.Round(context.Background(), 3)
	assert.ErrorIs(t, err, ErrNoEligibleArtifacts)
	assert.Equal(t, before, v.Board.Snapshot())
	assert.Equal(t, theta, gather(v.Params(), sel, func(t *model.Tensor) []float64 { return t.Data }))
}

func TestRound_OutOfRangeStateIsNotApplied(t *testing.T) {
	net := coretest.NewNetwork(t, 3)
	producer := net.Node(t, 0, nil)
	coretest.Advance(producer, 4)
	publishDelta(t, producer, 2)
	publishOutOfRange(t, net, net.Node(t, 2, nil), slices.State, 2)

	v := newValidator(t, net, 1)
	sel, err := v.Selection(context.Background(), 2)
	require.NoError(t, err)
	theta := gather(v.Params(), sel, func(t *model.Tensor) []float64 { return t.Data })
	expected := floats.Norm(theta[model.WeightName], 2) + scoring.Epsilon

	require.NoError(t, v.Round(context.Background(), 3))

	rec, ok := v.Board.Get(producer.Hotkey())
	require.True(t, ok)
	assert.InDelta(t, expected, rec.StepScore, 1e-6)
	assert.True(t, scoring.IsFinite(rec.EmaScore))

	weights := v.Board.Weights()
	sum := 0.0
	for _, w := range weights {
		assert.GreaterOrEqual(t, w, 0.0)
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-12)
	assert.Positive(t, weights[producer.Hotkey()])

	persisted, err := v.Scores.Load(context.Background())
	require.NoError(t, err)
	assert.Contains(t, persisted, producer.Hotkey())
}

func TestSyncHistory_AppliesRecentStates(t *testing.T) {
	net := coretest.NewNetwork(t, 2)
	producer := net.Node(t, 0, nil)
	sel, err := producer.Selection(context.Background(), 2)
	require.NoError(t, err)
	for _, p := range producer.Params() {
		for i := range p.Data {
			p.Data[i] += 0.5
		}
	}
	_, err = producer.Store.Upload(context.Background(), slices.State, 2, 5, producer.Params(), sel)
	require.NoError(t, err)

	v := NewValidator(net.Node(t, 1, nil), nil)
	coretest.Advance(v.Node, 8)

	require.NoError(t, v.SyncHistory(context.Background(), Role))
	assert.Equal(t, 5, v.GlobalStep())
	assert.Equal(t,
		gather(producer.Params(), sel, func(t *model.Tensor) []float64 { return t.Data }),
		gather(v.Params(), sel, func(t *model.Tensor) []float64 { return t.Data }))
}

func TestRound_UnknownProducer(t *testing.T) {
	net := coretest.NewNetwork(t, 2)

	kp, err := sr25519.GenerateKeypair()
	require.NoError(t, err)
	stranger, err := signature.NewProvider(kp)
	require.NoError(t, err)
	store, err := slices.NewStore(slices.StoreConfig{
		Remote:      net.Remote,
		Signer:      stranger,
		Verifier:    signature.NewVerifier(),
		CacheDir:    t.TempDir(),
		OwnEndpoint: coretest.EndpointOf(0),
	})
	require.NoError(t, err)

	v := newValidator(t, net, 1)
	sel, err := v.Selection(context.Background(), 2)
	require.NoError(t, err)
	_, err = store.Upload(context.Background(), slices.Delta, 2, 1, v.Params(), sel)
	require.NoError(t, err)

	err = v.Round(context.Background(), 3)
	assert.ErrorIs(t, err, ErrUnknownProducer)
	assert.ErrorIs(t, err, core.ErrRoundSkipped)
	assert.Zero(t, v.Board.Len())
}

func TestRound_WithinEvalOffset(t *testing.T) {
	v := newValidator(t, coretest.NewNetwork(t, 1), 0)
	assert.ErrorIs(t, v.Round(context.Background(), 0), core.ErrRoundSkipped)
}

func TestCommitWeights_RetriesOnNextCheck(t *testing.T) {
	net := coretest.NewNetwork(t, 3)
	v := newValidator(t, net, 2)
	v.Board.Restore(map[string]scoring.ScoreRecord{
		net.Signers[0].Hotkey(): {EmaScore: 0.6},
		net.Signers[1].Hotkey(): {EmaScore: 0.3},
		net.Signers[2].Hotkey(): {EmaScore: -0.1},
	})
	net.Chain.FailSetWeights = 1

	cb := scheduler.NewBlockCallback(10, v.commitWeights)

	errs := scheduler.RunDue(100, cb)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrWeightCommitFailure)
	assert.Empty(t, net.Chain.Weights())

	assert.Empty(t, scheduler.RunDue(101, cb))
	calls := net.Chain.Weights()
	require.Len(t, calls, 1)
	assert.Equal(t, []int{0, 1}, calls[0].Dests)
	require.Len(t, calls[0].Weights, 2)
	assert.Equal(t, 65535, calls[0].Weights[0])
	assert.InDelta(t, 32768, calls[0].Weights[1], 1)
	assert.Equal(t, 3, calls[0].Netuid)

	assert.Empty(t, scheduler.RunDue(105, cb))
	assert.Len(t, net.Chain.Weights(), 1)
}

func TestCommitWeights_AllZeroSkipsExtrinsic(t *testing.T) {
	net := coretest.NewNetwork(t, 2)
	v := newValidator(t, net, 1)
	v.Board.Restore(map[string]scoring.ScoreRecord{net.Signers[0].Hotkey(): {EmaScore: -1}})

	require.NoError(t, v.commitWeights(50))
	assert.Empty(t, net.Chain.Weights())
}

func TestFileScoreStore(t *testing.T) {
	ctx := context.Background()
	store := NewFileScoreStore(filepath.Join(t.TempDir(), "nested", "scores.json"))

	empty, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	records := map[string]scoring.ScoreRecord{"a": {StepScore: 1, EmaScore: 0.1, Weight: 1}}
	require.NoError(t, store.Save(ctx, records))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, records, got)
}

type memRedis struct {
	mu   sync.Mutex
	data map[string]string
}

var _ redis.RedisInterface = (*memRedis)(nil)

func (m *memRedis) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key], nil
}

func (m *memRedis) Set(_ context.Context, key, value string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memRedis) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func TestRedisScoreStore(t *testing.T) {
	ctx := context.Background()
	client := &memRedis{data: make(map[string]string)}
	store := NewRedisScoreStore(client, "")
	assert.Equal(t, DefaultScoresKey, store.Key)

	empty, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	records := map[string]scoring.ScoreRecord{"b": {EmaScore: -0.2}}
	require.NoError(t, store.Save(ctx, records))
	assert.Contains(t, client.data[DefaultScoresKey], "ema_score")

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, records, got)
}
