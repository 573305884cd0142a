package window

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tensorplex-labs/templar/pkg/chain"
)

type fakeStream struct {
	headers chan chain.Header
	err     error
}

func (s *fakeStream) Headers() <-chan chain.Header { return s.headers }
func (s *fakeStream) Err() error                   { return s.err }

type fakeSource struct {
	mu           sync.Mutex
	hashCalls    atomic.Int32
	failHash     atomic.Bool
	streams      chan *fakeStream
	subscribeErr error
	subscribes   atomic.Int32
}

func newFakeSource() *fakeSource {
	return &fakeSource{streams: make(chan *fakeStream, 4)}
}

func (f *fakeSource) Subscribe(ctx context.Context) (chain.Stream, error) {
	f.subscribes.Add(1)
	f.mu.Lock()
	err := f.subscribeErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	select {
	case s := <-f.streams:
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeSource) BlockHash(_ context.Context, height int) (string, error) {
	f.hashCalls.Add(1)
	if f.failHash.Load() {
		return "", errors.New("rpc down")
	}
	return "0xseed" + string(rune('a'+height%26)), nil
}

func TestBlockToWindow_Floor(t *testing.T) {
	const length = 7
	for b1 := 0; b1 < 100; b1++ {
		for b2 := b1; b2 < b1+length; b2++ {
			if b1/length == b2/length {
				assert.Equal(t, BlockToWindow(b1, length), BlockToWindow(b2, length))
			}
		}
	}
	assert.Equal(t, 0, BlockToWindow(6, length))
	assert.Equal(t, 1, BlockToWindow(7, length))
	assert.Equal(t, 14, BlockToWindow(100, length))
}

func TestNewClock_RejectsBadLength(t *testing.T) {
	_, err := NewClock(newFakeSource(), 0, time.Second)
	assert.Error(t, err)
}

func TestSeedFor_DeterministicAndCached(t *testing.T) {
	src := newFakeSource()
	c, err := NewClock(src, 10, time.Second)
	require.NoError(t, err)

	s1, err := c.SeedFor(context.Background(), 3)
	require.NoError(t, err)
	s2, err := c.SeedFor(context.Background(), 3)
	require.NoError(t, err)

	assert.Equal(t, s1, s2)
	assert.Equal(t, int32(1), src.hashCalls.Load())
}

func TestSeedFor_ChainUnavailable(t *testing.T) {
	src := newFakeSource()
	src.failHash.Store(true)
	c, err := NewClock(src, 10, time.Second)
	require.NoError(t, err)

	_, err = c.SeedFor(context.Background(), 1)
	assert.ErrorIs(t, err, ErrChainUnavailable)
}

func TestObserve_EmitsOncePerWindow(t *testing.T) {
	c, err := NewClock(newFakeSource(), 2, time.Second)
	require.NoError(t, err)
	events := c.Subscribe()
	ctx := context.Background()

	for _, b := range []int{10, 11, 11, 12, 13, 14} {
		c.Observe(ctx, chain.Header{Number: b})
	}

	var got []int
	for len(events) > 0 {
		got = append(got, (<-events).Window)
	}
	assert.Equal(t, []int{5, 6, 7}, got)
	assert.Equal(t, 14, c.CurrentBlock())
	assert.Equal(t, 7, c.CurrentWindow())
}

func TestObserve_SlowSubscriberDoesNotBlock(t *testing.T) {
	c, err := NewClock(newFakeSource(), 1, time.Second)
	require.NoError(t, err)
	_ = c.Subscribe()

	done := make(chan struct{})
	go func() {
		for b := 0; b < 50; b++ {
			c.Observe(context.Background(), chain.Header{Number: b})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ingestion blocked on a full subscriber")
	}
	assert.Equal(t, 49, c.CurrentWindow())
}

func TestWaitForChange(t *testing.T) {
	c, err := NewClock(newFakeSource(), 2, time.Second)
	require.NoError(t, err)
	ctx := context.Background()
	c.Observe(ctx, chain.Header{Number: 4})

	result := make(chan int, 1)
	go func() {
		w, err := c.WaitForChange(ctx, 2)
		if err == nil {
			result <- w
		}
	}()

	c.Observe(ctx, chain.Header{Number: 5})
	select {
	case <-result:
		t.Fatal("returned before window changed")
	case <-time.After(50 * time.Millisecond):
	}

	c.Observe(ctx, chain.Header{Number: 6})
	select {
	case w := <-result:
		assert.Equal(t, 3, w)
	case <-time.After(2 * time.Second):
		t.Fatal("did not observe window change")
	}
}

func TestWaitForChange_Cancelled(t *testing.T) {
	c, err := NewClock(newFakeSource(), 2, time.Second)
	require.NoError(t, err)
	c.Observe(context.Background(), chain.Header{Number: 4})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.WaitForChange(ctx, 2)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_ResubscribesAfterLoss(t *testing.T) {
	src := newFakeSource()
	c, err := NewClock(src, 2, 10*time.Millisecond)
	require.NoError(t, err)

	first := &fakeStream{headers: make(chan chain.Header, 2), err: errors.New("connection reset")}
	first.headers <- chain.Header{Number: 2}
	close(first.headers)
	second := &fakeStream{headers: make(chan chain.Header, 2)}
	second.headers <- chain.Header{Number: 8}
	src.streams <- first
	src.streams <- second

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	require.NoError(t, c.WaitReady(ctx))
	w, err := c.WaitForChange(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 4, w)
	assert.GreaterOrEqual(t, src.subscribes.Load(), int32(2))

	cancel()
	close(second.headers)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
