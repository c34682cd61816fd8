package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Fetcher loads the value for key.
type Fetcher[T any] func(ctx context.Context, key string) (T, error)

// Snapshot last applied result of a Refresher.
type Snapshot[T any] struct {
	Key       string
	Value     T
	Err       error // last fetch error; Value keeps the previous result
	FetchedAt time.Time
	Stale     bool // invalidated since FetchedAt
	gen       uint64
}

// Refresher polls fetch(key) every interval and on demand. Every fetch is
// tagged with a generation; a result is applied only if no newer fetch has
// been applied and the key it was issued for is still current, so a slow
// older response never overwrites a newer one.
type Refresher[T any] struct {
	name     string
	interval time.Duration
	fetch    Fetcher[T]
	limiter  *rate.Limiter
	logger   *zap.Logger

	mu       sync.Mutex
	key      string
	gen      uint64
	current  Snapshot[T]
	hasValue bool
	inflight map[uint64]context.CancelFunc
	subs     map[int]func(Snapshot[T])
	nextSub  int

	runCtx context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
}

// NewRefresher limiter throttles Trigger only; nil means unthrottled.
func NewRefresher[T any](name string, interval time.Duration, fetch Fetcher[T], limiter *rate.Limiter, logger *zap.Logger) *Refresher[T] {
	return &Refresher[T]{
		name:     name,
		interval: interval,
		fetch:    fetch,
		limiter:  limiter,
		logger:   logger.With(zap.String("query", name)),
		inflight: make(map[uint64]context.CancelFunc),
		subs:     make(map[int]func(Snapshot[T])),
	}
}

// SetKey switches the query key. The previous value is dropped and results
// still in flight for the old key will be discarded.
func (r *Refresher[T]) SetKey(key string) {
	r.mu.Lock()
	if key == r.key {
		r.mu.Unlock()
		return
	}
	r.key = key
	r.current = Snapshot[T]{Key: key, gen: r.gen}
	r.hasValue = false
	for gen, cancel := range r.inflight {
		cancel()
		delete(r.inflight, gen)
	}
	running := r.runCtx != nil
	r.mu.Unlock()

	if running && key != "" {
		r.spawn()
	}
}

func (r *Refresher[T]) Key() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.key
}

// Start polls until Stop. Calling Start on a running Refresher is a no-op.
func (r *Refresher[T]) Start(ctx context.Context) {
	r.mu.Lock()
	if r.runCtx != nil {
		r.mu.Unlock()
		return
	}
	r.runCtx, r.stop = context.WithCancel(ctx)
	runCtx := r.runCtx
	r.wg.Add(1)
	r.mu.Unlock()

	go r.loop(runCtx)
}

func (r *Refresher[T]) loop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.spawn()
	for {
		select {
		case <-ctx.Done():
			r.detach(ctx)
			return
		case <-ticker.C:
			r.spawn()
		}
	}
}

// detach marks the Refresher stopped when its parent context ended without
// a Stop. A later Start may already own runCtx.
func (r *Refresher[T]) detach(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.runCtx != ctx {
		return
	}
	r.stop()
	r.runCtx, r.stop = nil, nil
	for gen, cancel := range r.inflight {
		cancel()
		delete(r.inflight, gen)
	}
}

// Stop ends polling and cancels reads in flight; their results are ignored.
func (r *Refresher[T]) Stop() {
	r.mu.Lock()
	if r.runCtx == nil {
		r.mu.Unlock()
		return
	}
	r.stop()
	r.runCtx, r.stop = nil, nil
	for gen, cancel := range r.inflight {
		cancel()
		delete(r.inflight, gen)
	}
	r.mu.Unlock()

	r.wg.Wait()
}

func (r *Refresher[T]) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runCtx != nil
}

// Trigger requests an immediate background refresh, as when a view regains
// focus. Returns false when throttled or not running.
func (r *Refresher[T]) Trigger() bool {
	if !r.Running() {
		return false
	}
	if r.limiter != nil && !r.limiter.Allow() {
		r.logger.Debug("Focus refresh throttled")
		return false
	}
	r.spawn()
	return true
}

// Invalidate marks the current value stale. A running Refresher refetches
// right away; a stopped one refetches on the next Get.
func (r *Refresher[T]) Invalidate() {
	r.mu.Lock()
	r.current.Stale = true
	running := r.runCtx != nil
	r.mu.Unlock()

	if running {
		r.spawn()
	}
}

// Current last applied snapshot; ok is false before the first success.
func (r *Refresher[T]) Current() (Snapshot[T], bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current, r.hasValue
}

// Get returns the cached value, fetching first when there is none yet or it
// has been invalidated.
func (r *Refresher[T]) Get(ctx context.Context) (T, error) {
	r.mu.Lock()
	snap, ok := r.current, r.hasValue
	r.mu.Unlock()

	if ok && !snap.Stale && snap.Err == nil {
		return snap.Value, nil
	}
	return r.Refresh(ctx)
}

// Refresh fetches now and waits for the result. When a newer result has
// already been applied, that one is returned instead.
func (r *Refresher[T]) Refresh(ctx context.Context) (T, error) {
	snap, err := r.refresh(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	return snap.Value, snap.Err
}

func (r *Refresher[T]) spawn() {
	r.mu.Lock()
	ctx := r.runCtx
	if ctx == nil {
		r.mu.Unlock()
		return
	}
	// counted under mu so Stop's Wait never races an Add
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		if _, err := r.refresh(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Debug("Background refresh skipped", zap.Error(err))
		}
	}()
}

// ErrNoKey the Refresher has no key yet (no user logged in).
var ErrNoKey = errors.New("no query key")

// refresh returns an error only when nothing was fetched or the result was
// discarded by cancellation. Fetch errors are recorded in the snapshot.
func (r *Refresher[T]) refresh(ctx context.Context) (Snapshot[T], error) {
	r.mu.Lock()
	key := r.key
	if key == "" {
		r.mu.Unlock()
		return Snapshot[T]{}, ErrNoKey
	}
	r.gen++
	gen := r.gen
	fctx, cancel := context.WithCancel(ctx)
	r.inflight[gen] = cancel
	r.mu.Unlock()

	start := time.Now()
	value, err := r.fetch(fctx, key)
	cancelled := fctx.Err() != nil
	cancel()

	r.mu.Lock()
	delete(r.inflight, gen)

	if cancelled {
		r.mu.Unlock()
		r.logger.Debug("Discarding cancelled fetch", zap.Uint64("gen", gen))
		return Snapshot[T]{}, context.Canceled
	}
	if gen <= r.current.gen || key != r.key {
		snap := r.current
		r.mu.Unlock()
		r.logger.Debug("Discarding stale response",
			zap.Uint64("gen", gen),
			zap.Uint64("applied_gen", snap.gen),
			zap.Bool("key_changed", key != snap.Key),
		)
		return snap, nil
	}

	next := Snapshot[T]{Key: key, FetchedAt: time.Now(), gen: gen}
	if err != nil {
		// keep showing the last good value next to the error
		next.Value = r.current.Value
		next.Err = err
		next.Stale = r.current.Stale
		r.logger.Warn("Refresh failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
	} else {
		next.Value = value
		r.hasValue = true
	}
	r.current = next
	fns := make([]func(Snapshot[T]), 0, len(r.subs))
	for _, fn := range r.subs {
		fns = append(fns, fn)
	}
	r.mu.Unlock()

	for _, fn := range fns {
		fn(next)
	}
	return next, nil
}

// Subscribe fn is called with every applied snapshot.
func (r *Refresher[T]) Subscribe(fn func(Snapshot[T])) (unsubscribe func()) {
	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = fn
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.subs, id)
		r.mu.Unlock()
	}
}
