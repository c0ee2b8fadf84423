package cache

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kjstillabower/forecast-blend-service/internal/observability"
)

// ErrWaitTimeout is returned to a caller that waited longer than the loader's wait bound.
var ErrWaitTimeout = errors.New("timed out waiting for in-flight computation")

// ComputeFunc produces the value for a key on a cache miss.
type ComputeFunc[V any] func(ctx context.Context) (V, error)

// Loader fronts a Store with single-flight computation: for a given key at most one
// ComputeFunc runs at a time, and concurrent callers for that key share its result.
//
// The computation runs detached from any single caller's cancellation and is bounded
// by the wait timeout, so one caller giving up does not fail the others.
type Loader[V any] struct {
	name    string
	store   Store[V]
	group   singleflight.Group
	timeout time.Duration
	logger  *zap.Logger
}

// NewLoader creates a Loader over store. timeout bounds both the computation and each
// caller's wait; zero means no bound beyond the caller's context.
func NewLoader[V any](name string, store Store[V], timeout time.Duration, logger *zap.Logger) *Loader[V] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader[V]{name: name, store: store, timeout: timeout, logger: logger}
}

// Store returns the underlying store.
func (l *Loader[V]) Store() Store[V] {
	return l.store
}

// Peek returns the cached value without computing. Backend errors count as a miss.
func (l *Loader[V]) Peek(ctx context.Context, key string) (V, bool) {
	v, ok, err := l.store.Get(ctx, key)
	if err != nil {
		l.logger.Warn("cache get failed", zap.String("cache", l.name), zap.String("key", key), zap.Error(err))
		var zero V
		return zero, false
	}
	return v, ok
}

// GetOrCompute returns the cached value for key, or runs compute once for all concurrent
// callers and stores a successful result. cached reports whether the value came from the store.
func (l *Loader[V]) GetOrCompute(ctx context.Context, key string, compute ComputeFunc[V]) (value V, cached bool, err error) {
	if v, ok := l.Peek(ctx, key); ok {
		l.logger.Debug("cache hit", zap.String("cache", l.name), zap.String("key", key))
		return v, true, nil
	}
	l.logger.Debug("cache miss", zap.String("cache", l.name), zap.String("key", key))
	v, err := l.Compute(ctx, key, compute)
	return v, false, err
}

// Compute joins or starts the single flight for key without a counted lookup. Callers
// use it after their own Peek missed, so each request counts one miss.
func (l *Loader[V]) Compute(ctx context.Context, key string, compute ComputeFunc[V]) (V, error) {
	var zero V
	// A caller that already gave up must not start a detached computation.
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	ch := l.group.DoChan(key, func() (any, error) {
		// A flight that finished between the caller's Peek and DoChan already stored the value.
		if v, ok, err := l.store.Lookup(context.WithoutCancel(ctx), key); err == nil && ok {
			return v, nil
		}
		runCtx := context.WithoutCancel(ctx)
		if l.timeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(runCtx, l.timeout)
			defer cancel()
		}
		v, err := compute(runCtx)
		if err != nil {
			return v, err
		}
		if putErr := l.store.Put(runCtx, key, v); putErr != nil {
			l.logger.Warn("cache put failed", zap.String("cache", l.name), zap.String("key", key), zap.Error(putErr))
		}
		return v, nil
	})

	var timeout <-chan time.Time
	if l.timeout > 0 {
		timer := time.NewTimer(l.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case res := <-ch:
		if res.Shared {
			observability.CacheCoalescedTotal.WithLabelValues(l.name).Inc()
		}
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(V), nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-timeout:
		return zero, ErrWaitTimeout
	}
}
