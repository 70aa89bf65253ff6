package watch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"burnScope/internal/model"
)

type fakeSub struct {
	errs   chan error
	closed atomic.Bool
}

func newFakeSub() *fakeSub {
	return &fakeSub{errs: make(chan error, 1)}
}

func (s *fakeSub) Err() <-chan error { return s.errs }
func (s *fakeSub) Unsubscribe()      { s.closed.Store(true) }

func (s *fakeSub) fail(err error) { s.errs <- err }

func fastConfig() Config {
	return Config{
		ProbeInterval: time.Hour,
		BackoffBase:   time.Millisecond,
		BackoffCap:    4 * time.Millisecond,
	}
}

func okProbe(context.Context) error { return nil }

func TestSupervisorDispatchesEvents(t *testing.T) {
	sub := newFakeSub()
	dial := func(_ context.Context, out chan<- model.RawTransfer) (Subscription, error) {
		out <- model.RawTransfer{LogIndex: 7}
		return sub, nil
	}

	var mu sync.Mutex
	var seen []model.RawTransfer
	sup := NewSupervisor(fastConfig(), dial, okProbe, func(tr model.RawTransfer) {
		mu.Lock()
		seen = append(seen, tr)
		mu.Unlock()
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1
	}, time.Second, time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, uint64(7), seen[0].LogIndex)
	assert.True(t, sub.closed.Load())
}

func TestSupervisorRebuildsAfterStreamError(t *testing.T) {
	var dials atomic.Int64
	subs := []*fakeSub{newFakeSub(), newFakeSub()}
	dial := func(context.Context, chan<- model.RawTransfer) (Subscription, error) {
		return subs[dials.Add(1)-1], nil
	}

	sup := NewSupervisor(fastConfig(), dial, okProbe, func(model.RawTransfer) {}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	subs[0].fail(errors.New("stream reset"))

	require.Eventually(t, func() bool { return dials.Load() == 2 }, time.Second, time.Millisecond)
	assert.True(t, subs[0].closed.Load())

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestSupervisorRebuildsOnProbeFailure(t *testing.T) {
	var dials atomic.Int64
	dial := func(context.Context, chan<- model.RawTransfer) (Subscription, error) {
		dials.Add(1)
		return newFakeSub(), nil
	}

	var probes atomic.Int64
	probe := func(context.Context) error {
		if probes.Add(1) == 1 {
			return errors.New("provider stalled")
		}
		return nil
	}

	cfg := fastConfig()
	cfg.ProbeInterval = 5 * time.Millisecond
	sup := NewSupervisor(cfg, dial, probe, func(model.RawTransfer) {}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	require.Eventually(t, func() bool { return dials.Load() >= 2 }, time.Second, time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestSupervisorRetriesDial(t *testing.T) {
	var dials atomic.Int64
	sub := newFakeSub()
	dial := func(context.Context, chan<- model.RawTransfer) (Subscription, error) {
		if dials.Add(1) < 3 {
			return nil, errors.New("connection refused")
		}
		return sub, nil
	}

	sup := NewSupervisor(fastConfig(), dial, okProbe, func(model.RawTransfer) {}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	require.Eventually(t, func() bool { return dials.Load() == 3 }, time.Second, time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestNextDelayCapped(t *testing.T) {
	sup := NewSupervisor(Config{BackoffBase: time.Second, BackoffCap: 15 * time.Second}, nil, nil, nil, nil)

	d := sup.cfg.BackoffBase
	var steps []time.Duration
	for i := 0; i < 6; i++ {
		d = sup.nextDelay(d)
		steps = append(steps, d)
	}
	assert.Equal(t, []time.Duration{
		2 * time.Second, 4 * time.Second, 8 * time.Second,
		15 * time.Second, 15 * time.Second, 15 * time.Second,
	}, steps)
}
