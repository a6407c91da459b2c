package metrics

import (
	"context"
	"time"

	"github.com/onnwee/event-companion/backend/internal/logger"
)

// Snapshot is the subset of cache engine state the collector publishes.
type Snapshot struct {
	Entries int
	Bytes   int64
	Budget  int64
}

// Source produces snapshots; the cache engine implements it.
type Source interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// Collector periodically collects and updates Prometheus gauges that are
// derived from the persistent store rather than from in-process counters.
type Collector struct {
	source   Source
	interval time.Duration
	stop     chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(source Source, interval time.Duration) *Collector {
	return &Collector{
		source:   source,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Start begins the metrics collection loop
func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.Collect(ctx)

	for {
		select {
		case <-ticker.C:
			c.Collect(ctx)
		case <-c.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop stops the metrics collector
func (c *Collector) Stop() {
	close(c.stop)
}

// Collect takes a single snapshot and publishes it.
func (c *Collector) Collect(ctx context.Context) {
	snap, err := c.source.Snapshot(ctx)
	if err != nil {
		logger.WarnContext(ctx, "Error collecting cache snapshot", "error", err)
		MetricsCollectionErrors.WithLabelValues("cache").Inc()
		// Signal stale data
		CacheEntries.Set(-1)
		CacheSizeBytes.Set(-1)
		return
	}
	CacheEntries.Set(float64(snap.Entries))
	CacheSizeBytes.Set(float64(snap.Bytes))
	CacheBudgetBytes.Set(float64(snap.Budget))
}
