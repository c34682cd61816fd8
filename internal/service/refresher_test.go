package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// gatedFetcher hands out one gate per call; a call returns when its gate is
// released with a value.
type gatedFetcher struct {
	mu    sync.Mutex
	calls []chan string
	keys  []string
}

func (g *gatedFetcher) fetch(ctx context.Context, key string) (string, error) {
	ch := make(chan string, 1)
	g.mu.Lock()
	g.calls = append(g.calls, ch)
	g.keys = append(g.keys, key)
	g.mu.Unlock()
	select {
	case v := <-ch:
		return v, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (g *gatedFetcher) started() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

func (g *gatedFetcher) release(i int, v string) {
	g.mu.Lock()
	ch := g.calls[i]
	g.mu.Unlock()
	ch <- v
}

type result struct {
	v   string
	err error
}

func refreshAsync(r *Refresher[string]) <-chan result {
	out := make(chan result, 1)
	go func() {
		v, err := r.Refresh(context.Background())
		out <- result{v, err}
	}()
	return out
}

func TestRefresher_DiscardsStaleResponse(t *testing.T) {
	g := &gatedFetcher{}
	r := NewRefresher[string]("test", time.Hour, g.fetch, nil, zap.NewNop())
	r.SetKey("u1")

	older := refreshAsync(r)
	require.Eventually(t, func() bool { return g.started() == 1 }, time.Second, time.Millisecond)
	newer := refreshAsync(r)
	require.Eventually(t, func() bool { return g.started() == 2 }, time.Second, time.Millisecond)

	// newer request answers first
	g.release(1, "fresh")
	res := <-newer
	require.NoError(t, res.err)
	assert.Equal(t, "fresh", res.v)

	// the slow older answer must not overwrite it
	g.release(0, "old")
	res = <-older
	require.NoError(t, res.err)
	assert.Equal(t, "fresh", res.v)

	snap, ok := r.Current()
	require.True(t, ok)
	assert.Equal(t, "fresh", snap.Value)
}

func TestRefresher_KeyChangeDiscardsInflight(t *testing.T) {
	g := &gatedFetcher{}
	r := NewRefresher[string]("test", time.Hour, g.fetch, nil, zap.NewNop())
	r.SetKey("u1")

	pending := refreshAsync(r)
	require.Eventually(t, func() bool { return g.started() == 1 }, time.Second, time.Millisecond)

	r.SetKey("u2")
	res := <-pending
	assert.ErrorIs(t, res.err, context.Canceled)

	_, ok := r.Current()
	assert.False(t, ok)

	next := refreshAsync(r)
	require.Eventually(t, func() bool { return g.started() == 2 }, time.Second, time.Millisecond)
	g.release(1, "for u2")
	res = <-next
	require.NoError(t, res.err)
	assert.Equal(t, "for u2", res.v)
	assert.Equal(t, []string{"u1", "u2"}, g.keys)
}

func TestRefresher_GetCachesUntilInvalidated(t *testing.T) {
	var calls atomic.Int32
	r := NewRefresher[int]("test", time.Hour, func(ctx context.Context, key string) (int, error) {
		return int(calls.Add(1)), nil
	}, nil, zap.NewNop())
	r.SetKey("u1")
	ctx := context.Background()

	v, err := r.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	v, err = r.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	// works while stopped: next Get refetches
	r.Invalidate()
	snap, _ := r.Current()
	assert.True(t, snap.Stale)

	v, err = r.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRefresher_NoKey(t *testing.T) {
	r := NewRefresher[int]("test", time.Hour, func(ctx context.Context, key string) (int, error) {
		t.Fatal("fetch without key")
		return 0, nil
	}, nil, zap.NewNop())

	_, err := r.Get(context.Background())
	assert.ErrorIs(t, err, ErrNoKey)
}

func TestRefresher_FetchErrorKeepsLastValue(t *testing.T) {
	fail := false
	r := NewRefresher[string]("test", time.Hour, func(ctx context.Context, key string) (string, error) {
		if fail {
			return "", errors.New("boom")
		}
		return "good", nil
	}, nil, zap.NewNop())
	r.SetKey("u1")

	_, err := r.Refresh(context.Background())
	require.NoError(t, err)

	fail = true
	v, err := r.Refresh(context.Background())
	assert.EqualError(t, err, "boom")
	assert.Equal(t, "good", v)

	snap, ok := r.Current()
	require.True(t, ok)
	assert.Equal(t, "good", snap.Value)
	assert.EqualError(t, snap.Err, "boom")
}

func TestRefresher_PollsUntilStopped(t *testing.T) {
	var calls atomic.Int32
	r := NewRefresher[int]("test", 5*time.Millisecond, func(ctx context.Context, key string) (int, error) {
		return int(calls.Add(1)), nil
	}, nil, zap.NewNop())
	r.SetKey("u1")

	var applied atomic.Int32
	r.Subscribe(func(Snapshot[int]) { applied.Add(1) })

	r.Start(context.Background())
	r.Start(context.Background()) // no-op
	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, time.Millisecond)
	r.Stop()
	assert.False(t, r.Running())

	stoppedAt := calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stoppedAt, calls.Load())
	assert.Positive(t, applied.Load())
}

func TestRefresher_StopCancelsInflight(t *testing.T) {
	started := make(chan struct{}, 1)
	r := NewRefresher[string]("test", time.Hour, func(ctx context.Context, key string) (string, error) {
		started <- struct{}{}
		<-ctx.Done()
		return "late", ctx.Err()
	}, nil, zap.NewNop())
	r.SetKey("u1")

	r.Start(context.Background())
	<-started

	done := make(chan struct{})
	go func() {
		r.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}

	_, ok := r.Current()
	assert.False(t, ok)
}

func TestRefresher_TriggerThrottled(t *testing.T) {
	var calls atomic.Int32
	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	r := NewRefresher[int]("test", time.Hour, func(ctx context.Context, key string) (int, error) {
		return int(calls.Add(1)), nil
	}, limiter, zap.NewNop())
	r.SetKey("u1")

	assert.False(t, r.Trigger(), "not running")

	r.Start(context.Background())
	defer r.Stop()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)

	assert.True(t, r.Trigger())
	assert.False(t, r.Trigger())
	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, time.Millisecond)
}

func TestRefresher_InvalidateWhileRunningRefetches(t *testing.T) {
	var calls atomic.Int32
	r := NewRefresher[int]("test", time.Hour, func(ctx context.Context, key string) (int, error) {
		return int(calls.Add(1)), nil
	}, nil, zap.NewNop())
	r.SetKey("u1")

	r.Start(context.Background())
	defer r.Stop()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)

	r.Invalidate()
	require.Eventually(t, func() bool {
		snap, ok := r.Current()
		return ok && snap.Value == 2 && !snap.Stale
	}, time.Second, time.Millisecond)
}

func TestRefresher_ParentCancelStops(t *testing.T) {
	var calls atomic.Int32
	r := NewRefresher[int]("test", time.Hour, func(ctx context.Context, key string) (int, error) {
		return int(calls.Add(1)), nil
	}, nil, zap.NewNop())
	r.SetKey("u1")

	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)

	cancel()
	require.Eventually(t, func() bool { return !r.Running() }, time.Second, time.Millisecond)

	assert.False(t, r.Trigger())
	r.Invalidate()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
	r.Stop() // no-op

	// can be started again
	r.Start(context.Background())
	defer r.Stop()
	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, time.Millisecond)
	assert.True(t, r.Running())
}
