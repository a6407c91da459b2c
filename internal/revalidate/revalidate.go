// Package revalidate serves cached values immediately and refreshes them in
// the background (stale-while-revalidate).
package revalidate

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/onnwee/event-companion/backend/internal/apiclient"
	"github.com/onnwee/event-companion/backend/internal/cache"
	"github.com/onnwee/event-companion/backend/internal/logger"
	"github.com/onnwee/event-companion/backend/internal/metrics"
	"github.com/onnwee/event-companion/backend/internal/syncer"
	"github.com/onnwee/event-companion/backend/internal/tracing"
)

// ErrNoFallback is matched by errors returned when a loader fails and no
// cached value exists.
var ErrNoFallback = errors.New("no cached value to fall back on")

// Loader produces a fresh value for a cache key.
type Loader[T any] func(ctx context.Context) (T, error)

// RetryQueue receives failed background refreshes.
type RetryQueue interface {
	AddToQueue(id string, op syncer.Operation, maxRetries int)
}

// Error is the transformed error of a foreground load with nothing cached.
type Error struct {
	Key string
	Err *apiclient.LoadError
}

func (e *Error) Error() string {
	return "load " + e.Key + ": " + e.Err.Error()
}

func (e *Error) Unwrap() []error { return []error{ErrNoFallback, e.Err} }

// Options configures a Coordinator.
type Options struct {
	// Limiter caps how often detached refreshes start; nil means unlimited.
	Limiter *rate.Limiter
	// Retry, when set, receives retryable refresh failures under "refresh:<key>".
	Retry      RetryQueue
	MaxRetries int
}

// Coordinator wraps loaders with the cache engine.
type Coordinator struct {
	engine     *cache.Engine
	limiter    *rate.Limiter
	retry      RetryQueue
	maxRetries int
	log        logger.Component

	// life bounds detached refreshes; Close cancels it.
	life   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]struct{}
}

// New creates a coordinator over engine.
func New(engine *cache.Engine, opts Options) *Coordinator {
	life, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		engine:     engine,
		limiter:    opts.Limiter,
		retry:      opts.Retry,
		maxRetries: opts.MaxRetries,
		log:        logger.Component("revalidate"),
		life:       life,
		cancel:     cancel,
		inflight:   make(map[string]struct{}),
	}
}

// Engine returns the underlying cache engine.
func (c *Coordinator) Engine() *cache.Engine { return c.engine }

// Fetch returns the value for key.
//
// With useCache and a fresh entry, the cached value is returned at once and
// loader runs in a detached refresh. Otherwise loader runs inline and its
// result is cached with ttl. If it fails, any cached entry is returned even
// when expired; with nothing cached the failure is returned as *Error.
func Fetch[T any](ctx context.Context, c *Coordinator, key string, loader Loader[T], ttl time.Duration, useCache bool) (T, error) {
	key = c.engine.Key(key)
	ctx, span := tracing.StartSpan(ctx, "revalidate.fetch")
	defer span.End()
	span.SetAttributes(tracing.CacheKey(key))

	var cached T
	found := false
	if useCache {
		var fresh bool
		found, fresh = c.engine.Lookup(ctx, key, &cached)
		if fresh {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			c.refresh(ctx, key, ttl, func(ctx context.Context) (any, error) { return loader(ctx) })
			return cached, nil
		}
	}
	span.SetAttributes(attribute.Bool("cache.hit", false))

	start := time.Now()
	v, err := loader(ctx)
	metrics.RevalidateLoadDuration.WithLabelValues("foreground").Observe(time.Since(start).Seconds())
	if err == nil {
		c.engine.Set(ctx, key, v, ttl)
		return v, nil
	}

	if !found {
		found = c.engine.Peek(ctx, key, &cached)
	}
	if found {
		metrics.RevalidateStaleServed.Inc()
		c.log.Ctx(ctx).Warn("Loader failed, serving cached value", "key", key, "error", err)
		return cached, nil
	}

	le := apiclient.Classify(err)
	tracing.RecordError(span, le)
	var zero T
	return zero, &Error{Key: key, Err: le}
}

// refresh starts a detached reload of key unless one is already running or
// the limiter is exhausted. ctx only contributes values; its cancellation
// does not stop the refresh.
func (c *Coordinator) refresh(ctx context.Context, key string, ttl time.Duration, load func(context.Context) (any, error)) {
	c.mu.Lock()
	if c.life.Err() != nil {
		c.mu.Unlock()
		return
	}
	if _, busy := c.inflight[key]; busy {
		c.mu.Unlock()
		metrics.RevalidateRefreshes.WithLabelValues("skipped").Inc()
		return
	}
	if c.limiter != nil && !c.limiter.Allow() {
		c.mu.Unlock()
		metrics.RevalidateRefreshes.WithLabelValues("skipped").Inc()
		c.log.Ctx(ctx).Debug("Refresh skipped by rate limit", "key", key)
		return
	}
	c.inflight[key] = struct{}{}
	c.wg.Add(1)
	c.mu.Unlock()

	rctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(c.life, cancel)

	go func() {
		defer c.wg.Done()
		defer func() {
			stop()
			cancel()
			c.mu.Lock()
			delete(c.inflight, key)
			c.mu.Unlock()
		}()

		rctx, span := tracing.StartSpan(rctx, "revalidate.refresh")
		defer span.End()
		span.SetAttributes(tracing.CacheKey(key))

		if err := c.reload(rctx, key, ttl, load); err != nil {
			tracing.RecordError(span, err)
			metrics.RevalidateRefreshes.WithLabelValues("failed").Inc()
			c.log.Ctx(rctx).Warn("Background refresh failed", "key", key, "error", err)
			if c.retry != nil && apiclient.IsRetryable(err) {
				c.retry.AddToQueue("refresh:"+key, func(ctx context.Context) error {
					return c.reload(ctx, key, ttl, load)
				}, c.maxRetries)
			}
			return
		}
		metrics.RevalidateRefreshes.WithLabelValues("success").Inc()
	}()
}

func (c *Coordinator) reload(ctx context.Context, key string, ttl time.Duration, load func(context.Context) (any, error)) error {
	start := time.Now()
	v, err := load(ctx)
	metrics.RevalidateLoadDuration.WithLabelValues("background").Observe(time.Since(start).Seconds())
	if err != nil {
		return err
	}
	if !c.engine.Set(ctx, key, v, ttl) {
		c.log.Ctx(ctx).Warn("Refreshed value was not cached", "key", key)
	}
	return nil
}

// Wait blocks until every detached refresh has finished.
func (c *Coordinator) Wait() { c.wg.Wait() }

// Close cancels running refreshes, waits for them and refuses new ones.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.cancel()
	c.mu.Unlock()
	c.wg.Wait()
}
