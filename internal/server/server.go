// Package server assembles the companion agent: persistent store, cache
// engine, connectivity probe, sync and revalidation coordinators, resource
// adapters, the periodic trigger and the diagnostics API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/onnwee/event-companion/backend/internal/api"
	"github.com/onnwee/event-companion/backend/internal/apiclient"
	"github.com/onnwee/event-companion/backend/internal/cache"
	"github.com/onnwee/event-companion/backend/internal/config"
	"github.com/onnwee/event-companion/backend/internal/events"
	"github.com/onnwee/event-companion/backend/internal/logger"
	"github.com/onnwee/event-companion/backend/internal/metrics"
	"github.com/onnwee/event-companion/backend/internal/network"
	"github.com/onnwee/event-companion/backend/internal/resources"
	"github.com/onnwee/event-companion/backend/internal/revalidate"
	"github.com/onnwee/event-companion/backend/internal/scheduler"
	"github.com/onnwee/event-companion/backend/internal/store"
	"github.com/onnwee/event-companion/backend/internal/syncer"
)

const log = logger.Component("server")

const shutdownTimeout = 5 * time.Second

// Agent owns every long-lived component.
type Agent struct {
	cfg        *config.Config
	closeStore func() error

	Engine     *cache.Engine
	Hub        *events.Hub
	Probe      *network.Probe
	Sync       *syncer.Coordinator
	Revalidate *revalidate.Coordinator
	Client     *apiclient.Client
	Resources  *resources.Service

	schedule  *scheduler.Service
	collector *metrics.Collector
	handler   http.Handler

	mu   sync.Mutex
	addr net.Addr
}

// New opens the store and wires the components. Nothing runs until Run.
func New(ctx context.Context, cfg *config.Config) (*Agent, error) {
	st, closeStore, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	a := &Agent{cfg: cfg, closeStore: closeStore, Hub: events.NewHub()}
	a.Engine = cache.New(st, cache.Options{
		Prefix:        cfg.CacheKeyPrefix,
		MaxBytes:      cfg.CacheMaxBytes,
		EvictFraction: cfg.CacheEvictFraction,
		OnEvict:       a.Hub.CacheEvicted,
		OnClear:       a.Hub.CacheCleared,
	})
	a.Probe = network.NewProbe(cfg)
	a.Sync = syncer.New(a.Probe, a.Engine, syncer.Options{
		BaseDelay:         cfg.SyncBaseDelay,
		Debounce:          cfg.SyncDebounce,
		DefaultMaxRetries: cfg.SyncDefaultMaxRetries,
		Hooks:             a.Hub.SyncHooks(),
	})

	var limiter *rate.Limiter
	if cfg.RevalidateRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RevalidateRPS), max(cfg.RevalidateBurst, 1))
	}
	a.Revalidate = revalidate.New(a.Engine, revalidate.Options{
		Limiter:    limiter,
		Retry:      a.Sync,
		MaxRetries: cfg.SyncDefaultMaxRetries,
	})
	a.Client = apiclient.New(cfg)
	a.Resources = resources.New(a.Client, a.Revalidate, a.Sync, cfg.SyncDefaultMaxRetries)

	if cfg.SyncSchedule != "" {
		sched, err := scheduler.Parse(cfg.SyncSchedule)
		if err != nil {
			closeStore()
			return nil, fmt.Errorf("SYNC_SCHEDULE: %w", err)
		}
		a.schedule = scheduler.NewService(sched, a)
	}
	a.collector = metrics.NewCollector(a.Engine, cfg.MetricsInterval)

	a.handler = api.NewRouter(api.Deps{
		Engine:  a.Engine,
		Sync:    a.Sync,
		Network: a.Probe,
		Events:  a.Hub,
		Breaker: func() string { return a.Client.BreakerState().String() },
	})
	return a, nil
}

// Handler returns the diagnostics API.
func (a *Agent) Handler() http.Handler { return a.handler }

// Addr returns the diagnostics listener address once Run is serving.
func (a *Agent) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addr
}

// SyncAll drains the retry queue and, when the run happened, warms the
// offline resources. The scheduler drives it.
func (a *Agent) SyncAll(ctx context.Context) syncer.Result {
	res := a.Sync.SyncAll(ctx)
	if res.Ran {
		a.warm(ctx)
	}
	return res
}

func (a *Agent) warm(ctx context.Context) {
	if err := a.Resources.Warm(ctx, a.cfg.WarmLegalSlugs); err != nil {
		log.Ctx(ctx).Warn("Cache warm incomplete", "error", err)
	}
}

// Run starts every background loop and serves the diagnostics API until
// ctx is done, then shuts everything down in reverse order.
func (a *Agent) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.ListenAddr)
	if err != nil {
		a.closeStore()
		return fmt.Errorf("listen %s: %w", a.cfg.ListenAddr, err)
	}
	a.mu.Lock()
	a.addr = ln.Addr()
	a.mu.Unlock()

	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	var wg sync.WaitGroup
	spawn := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}
	spawn(func() { a.Hub.Run(ctx) })
	spawn(func() { a.Probe.Run(ctx) })
	spawn(func() { a.collector.Start(ctx) })
	a.Sync.Start(ctx)
	if a.schedule != nil {
		spawn(func() { a.schedule.Start(ctx) })
	}
	spawn(func() { a.SyncAll(ctx) })

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()
	log.Ctx(ctx).Info("Diagnostics API listening", "addr", ln.Addr().String())

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Ctx(ctx).Warn("HTTP shutdown incomplete", "error", err)
	}
	if a.schedule != nil {
		a.schedule.Stop()
	}
	a.collector.Stop()
	a.Sync.Cleanup()
	a.Revalidate.Close()
	wg.Wait()
	if err := a.closeStore(); err != nil {
		log.Ctx(ctx).Warn("Store close failed", "error", err)
	}
	log.Ctx(ctx).Info("Agent stopped")
	return runErr
}
