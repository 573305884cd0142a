// Package window converts block heights into windows and window seeds, and
// notifies subscribers each time the chain crosses a window boundary.
package window

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tensorplex-labs/templar/pkg/chain"
)

// BlockToWindow is floor(block / length).
func BlockToWindow(block, length int) int {
	if block < 0 {
		return 0
	}
	return block / length
}

// NewClock creates a clock over source with windows of length blocks.
func NewClock(source HeaderSource, length int, backoff time.Duration) (*Clock, error) {
	if length <= 0 {
		return nil, fmt.Errorf("window length must be positive, got %d", length)
	}
	if backoff <= 0 {
		backoff = DefaultBackoff
	}
	return &Clock{
		source:  source,
		length:  length,
		backoff: backoff,
		window:  -1,
		seeds:   make(map[int]string),
		changed: make(chan struct{}),
		ready:   make(chan struct{}),
	}, nil
}

func (c *Clock) Length() int {
	return c.length
}

func (c *Clock) BlockToWindow(block int) int {
	return BlockToWindow(block, c.length)
}

func (c *Clock) CurrentBlock() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.block
}

// CurrentWindow returns -1 until the first header has been observed.
func (c *Clock) CurrentWindow() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.window
}

// LastWindowDuration is how long the most recently closed window stayed open.
func (c *Clock) LastWindowDuration() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastDuration
}

// SeedFor returns the hash of the first block of window w. Results are cached;
// a chain failure is reported as ErrChainUnavailable.
func (c *Clock) SeedFor(ctx context.Context, w int) (string, error) {
	c.mu.RLock()
	seed, ok := c.seeds[w]
	c.mu.RUnlock()
	if ok {
		return seed, nil
	}

	seed, err := c.source.BlockHash(ctx, w*c.length)
	if err != nil {
		return "", fmt.Errorf("%w: block hash for window %d: %v", ErrChainUnavailable, w, err)
	}

	c.mu.Lock()
	c.seeds[w] = seed
	c.mu.Unlock()
	return seed, nil
}

// Window returns the full description of window w.
func (c *Clock) Window(ctx context.Context, w int) (Window, error) {
	seed, err := c.SeedFor(ctx, w)
	if err != nil {
		return Window{}, err
	}
	return Window{Index: w, Seed: seed, StartBlock: w * c.length, LengthBlock: c.length}, nil
}

// Subscribe registers a channel receiving one Event per window transition.
// Delivery never blocks ingestion: a subscriber whose buffer is full misses the event.
func (c *Clock) Subscribe() <-chan Event {
	ch := make(chan Event, DefaultSubscriberBuffer)
	c.mu.Lock()
	c.subscribers = append(c.subscribers, ch)
	c.mu.Unlock()
	return ch
}

// WaitReady blocks until the first header has been observed.
func (c *Clock) WaitReady(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitForChange blocks until the current window differs from w and returns it.
func (c *Clock) WaitForChange(ctx context.Context, w int) (int, error) {
	for {
		c.mu.RLock()
		current, changed := c.window, c.changed
		c.mu.RUnlock()

		if current != w && current >= 0 {
			return current, nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return current, ctx.Err()
		}
	}
}

// Observe ingests one header. Run calls it for every streamed header.
func (c *Clock) Observe(ctx context.Context, h chain.Header) {
	w := c.BlockToWindow(h.Number)

	c.mu.Lock()
	if h.Number > c.block {
		c.block = h.Number
	}
	if w <= c.window {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	// Seed lookup is best effort here; SeedFor retries on demand.
	if _, err := c.SeedFor(ctx, w); err != nil {
		log.Warn().Err(err).Int("window", w).Msg("failed to record window seed")
	}

	now := time.Now()

	c.mu.Lock()
	if w <= c.window {
		c.mu.Unlock()
		return
	}
	previous := c.window
	var duration time.Duration
	if previous >= 0 && !c.windowStarted.IsZero() {
		duration = now.Sub(c.windowStarted)
		c.lastDuration = duration
	}
	c.window = w
	c.windowStarted = now
	close(c.changed)
	c.changed = make(chan struct{})
	if previous < 0 {
		close(c.ready)
	}
	subscribers := c.subscribers
	c.mu.Unlock()

	event := Event{
		Window:           w,
		PreviousWindow:   previous,
		Block:            h.Number,
		PreviousDuration: duration,
	}
	for _, ch := range subscribers {
		select {
		case ch <- event:
		default:
			log.Debug().Int("window", w).Msg("subscriber busy, dropped window event")
		}
	}

	log.Info().
		Int("window", w).
		Int("previous_window", previous).
		Int("block", h.Number).
		Str("window_duration", duration.String()).
		Msg("window advanced")
}

// Run ingests headers until ctx is cancelled, resubscribing with a fixed
// backoff whenever the stream is lost.
func (c *Clock) Run(ctx context.Context) {
	for {
		stream, err := c.source.Subscribe(ctx)
		if err != nil {
			log.Warn().Err(err).Str("backoff", c.backoff.String()).Msg("header subscription failed, retrying")
		} else {
			for h := range stream.Headers() {
				c.Observe(ctx, h)
			}
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(stream.Err()).Str("backoff", c.backoff.String()).Msg("header subscription lost, retrying")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.backoff):
		}
	}
}
