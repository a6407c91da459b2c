// Package syncer drives retries of failed operations and expired-entry
// sweeps whenever the device is online.
package syncer

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/onnwee/event-companion/backend/internal/errorreporting"
	"github.com/onnwee/event-companion/backend/internal/logger"
	"github.com/onnwee/event-companion/backend/internal/metrics"
	"github.com/onnwee/event-companion/backend/internal/network"
	"github.com/onnwee/event-companion/backend/internal/tracing"
)

const (
	DefaultBaseDelay  = time.Second
	DefaultDebounce   = 2 * time.Second
	DefaultMaxRetries = 3
	// DefaultMaxDelay caps the exponential backoff.
	DefaultMaxDelay = time.Hour
)

// Operation is a retryable unit of work.
type Operation func(ctx context.Context) error

// Sweeper removes expired cache entries and reports how many it removed.
type Sweeper interface {
	SweepExpired(ctx context.Context) int
}

// Hooks observe sync activity. Any of them may be nil.
type Hooks struct {
	OnStart  func(queued int)
	OnFinish func(Result)
	OnDrop   func(id string, err error)
}

// Options configures a Coordinator.
type Options struct {
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	Debounce          time.Duration
	DefaultMaxRetries int
	Hooks             Hooks
}

// Reasons a SyncAll call did not run.
const (
	SkipInflight = "inflight"
	SkipOffline  = "offline"
	SkipDisposed = "disposed"
)

// Result summarises one SyncAll call.
type Result struct {
	Ran       bool          `json:"ran"`
	Skipped   string        `json:"skipped,omitempty"`
	Executed  int           `json:"executed"`
	Succeeded int           `json:"succeeded"`
	Retried   int           `json:"retried"`
	Dropped   int           `json:"dropped"`
	Swept     int           `json:"swept"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// task is a queued operation. gen identifies the registration it belongs to
// so a backoff timer from a replaced registration cannot resurrect it.
type task struct {
	id         string
	op         Operation
	retries    int
	maxRetries int
	gen        uint64
}

// Coordinator owns the retry queue. It is safe for concurrent use.
type Coordinator struct {
	monitor           network.Monitor
	sweeper           Sweeper
	baseDelay         time.Duration
	maxDelay          time.Duration
	debounce          time.Duration
	defaultMaxRetries int
	hooks             Hooks
	log               logger.Component

	syncing  atomic.Bool
	disposed atomic.Bool
	runs     atomic.Uint64
	backoffs atomic.Int64

	mu      sync.Mutex
	queue   []*task
	// gens maps a pending id to its current registration. Registrations
	// draw from seq so a forgotten id never reuses an old generation.
	gens    map[string]uint64
	seq     uint64
	lastRun *Result
	// ctx is the parent of timer-driven syncs; set by Start.
	ctx           context.Context
	unsubscribe   func()
	debounceTimer *time.Timer
	lastConnected bool
}

// New creates a coordinator. sweeper may be nil.
func New(monitor network.Monitor, sweeper Sweeper, opts Options) *Coordinator {
	c := &Coordinator{
		monitor:           monitor,
		sweeper:           sweeper,
		baseDelay:         opts.BaseDelay,
		maxDelay:          opts.MaxDelay,
		debounce:          opts.Debounce,
		defaultMaxRetries: opts.DefaultMaxRetries,
		hooks:             opts.Hooks,
		log:               logger.Component("sync"),
		gens:              make(map[string]uint64),
		ctx:               context.Background(),
	}
	if c.baseDelay <= 0 {
		c.baseDelay = DefaultBaseDelay
	}
	if c.maxDelay <= 0 {
		c.maxDelay = DefaultMaxDelay
	}
	if c.maxDelay < c.baseDelay {
		c.maxDelay = c.baseDelay
	}
	if c.debounce <= 0 {
		c.debounce = DefaultDebounce
	}
	if c.defaultMaxRetries <= 0 {
		c.defaultMaxRetries = DefaultMaxRetries
	}
	return c
}

// AddToQueue registers op under id, replacing any pending task with the same
// id and resetting its retry count. A negative maxRetries selects the default.
func (c *Coordinator) AddToQueue(id string, op Operation, maxRetries int) {
	if maxRetries < 0 {
		maxRetries = c.defaultMaxRetries
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	c.gens[id] = c.seq
	t := &task{id: id, op: op, maxRetries: maxRetries, gen: c.seq}
	for i, q := range c.queue {
		if q.id == id {
			c.queue[i] = t
			c.log.Logger().Debug("Replaced queued task", "task", id)
			return
		}
	}
	c.queue = append(c.queue, t)
	metrics.SyncQueueDepth.Set(float64(len(c.queue)))
	errorreporting.AddBreadcrumb("sync", "task queued: "+id, sentry.LevelInfo)
}

// SyncAll runs every queued task once and sweeps expired cache entries.
// It is a no-op while another SyncAll is running, while offline, or after
// Cleanup; the returned Result says which.
func (c *Coordinator) SyncAll(ctx context.Context) Result {
	if c.disposed.Load() {
		metrics.SyncRuns.WithLabelValues("skipped_disposed").Inc()
		return Result{Skipped: SkipDisposed}
	}
	if !c.syncing.CompareAndSwap(false, true) {
		metrics.SyncRuns.WithLabelValues("skipped_inflight").Inc()
		return Result{Skipped: SkipInflight}
	}
	defer c.syncing.Store(false)

	if !c.monitor.Fetch(ctx).Connected {
		metrics.SyncRuns.WithLabelValues("skipped_offline").Inc()
		c.log.Ctx(ctx).Debug("Sync skipped while offline")
		return Result{Skipped: SkipOffline}
	}

	run := c.runs.Add(1)
	ctx = context.WithValue(ctx, logger.SyncRunKey, strconv.FormatUint(run, 10))
	ctx, span := tracing.StartSpan(ctx, "sync.all")
	defer span.End()

	res := Result{Ran: true, StartedAt: time.Now()}
	metrics.SyncRuns.WithLabelValues("ran").Inc()

	c.mu.Lock()
	snapshot := c.queue
	c.queue = nil
	c.mu.Unlock()
	metrics.SyncQueueDepth.Set(0)

	if c.hooks.OnStart != nil {
		c.hooks.OnStart(len(snapshot))
	}
	c.log.Ctx(ctx).Info("Sync started", "tasks", len(snapshot))

	for _, t := range snapshot {
		res.Executed++
		err := c.execute(ctx, t)
		if err == nil {
			res.Succeeded++
			metrics.SyncTasks.WithLabelValues("success").Inc()
			c.forget(t)
			continue
		}
		if c.fail(ctx, t, err) {
			res.Retried++
		} else {
			res.Dropped++
		}
	}

	if c.sweeper != nil {
		res.Swept = c.sweeper.SweepExpired(ctx)
		metrics.SyncSweptEntries.Add(float64(res.Swept))
	}

	res.Duration = time.Since(res.StartedAt)
	metrics.SyncRunDuration.Observe(res.Duration.Seconds())
	c.log.Ctx(ctx).Info("Sync finished",
		"executed", res.Executed, "succeeded", res.Succeeded, "retried", res.Retried,
		"dropped", res.Dropped, "swept", res.Swept, "duration", res.Duration)

	c.mu.Lock()
	last := res
	c.lastRun = &last
	c.mu.Unlock()

	if c.hooks.OnFinish != nil {
		c.hooks.OnFinish(res)
	}
	return res
}

// execute runs t, converting a panic into a failure.
func (c *Coordinator) execute(ctx context.Context, t *task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return t.op(ctx)
}

// backoff returns baseDelay*2^retries, capped at maxDelay.
func (c *Coordinator) backoff(retries int) time.Duration {
	d := c.baseDelay
	for i := 0; i < retries; i++ {
		if d >= c.maxDelay/2 {
			return c.maxDelay
		}
		d *= 2
	}
	return min(d, c.maxDelay)
}

// fail schedules a retry for t after backoff(retries), or drops it once
// its retries exceed maxRetries. It reports whether a retry was scheduled.
func (c *Coordinator) fail(ctx context.Context, t *task, err error) bool {
	delay := c.backoff(t.retries)
	t.retries++

	if t.retries > t.maxRetries {
		c.forget(t)
		metrics.SyncTasks.WithLabelValues("dropped").Inc()
		c.log.Ctx(ctx).Warn("Dropping sync task", "task", t.id, "attempts", t.retries, "error", err)
		errorreporting.CaptureErrorWithContext(err, map[string]string{"component": "sync", "task": t.id},
			map[string]interface{}{"attempts": t.retries})
		if c.hooks.OnDrop != nil {
			c.hooks.OnDrop(t.id, err)
		}
		return false
	}

	metrics.SyncTasks.WithLabelValues("retry").Inc()
	c.log.Ctx(ctx).Info("Sync task failed, retrying", "task", t.id, "retry", t.retries, "delay", delay, "error", err)
	c.backoffs.Add(1)
	time.AfterFunc(delay, func() {
		c.backoffs.Add(-1)
		if c.disposed.Load() {
			return
		}
		if c.requeue(t) {
			c.SyncAll(c.baseContext())
		}
	})
	return true
}

// forget releases the generation of a task that reached a terminal state,
// unless a newer registration replaced it.
func (c *Coordinator) forget(t *task) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[t.id] == t.gen {
		delete(c.gens, t.id)
	}
}

// pending reports how many ids hold a live registration.
func (c *Coordinator) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.gens)
}

// requeue puts t back unless a newer registration for its id exists.
func (c *Coordinator) requeue(t *task) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[t.id] != t.gen {
		return false
	}
	for _, q := range c.queue {
		if q.id == t.id {
			return false
		}
	}
	c.queue = append(c.queue, t)
	metrics.SyncQueueDepth.Set(float64(len(c.queue)))
	return true
}

func (c *Coordinator) baseContext() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ctx
}

// PanicError is the failure recorded for an operation that panicked.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("sync task panicked: %v", e.Value)
}
