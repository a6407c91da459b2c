package syncer

import (
	"context"
	"time"
)

// Start subscribes to connectivity transitions. Each transition to connected
// (re)arms a debounce timer; when it fires SyncAll runs. Going offline
// disarms it. ctx becomes the parent of every timer-driven sync.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	if c.unsubscribe != nil {
		c.mu.Unlock()
		return
	}
	c.ctx = ctx
	c.lastConnected = c.monitor.Fetch(ctx).Connected
	c.mu.Unlock()

	unsubscribe := c.monitor.Subscribe(c.onConnectivity)

	c.mu.Lock()
	c.unsubscribe = unsubscribe
	c.mu.Unlock()
	// Cleanup may have run while subscribing and found nothing to release.
	if c.disposed.Load() {
		c.mu.Lock()
		unsubscribe, c.unsubscribe = c.unsubscribe, nil
		c.mu.Unlock()
		if unsubscribe != nil {
			unsubscribe()
		}
		return
	}
	c.log.Ctx(ctx).Info("Sync listener started", "debounce", c.debounce)
}

func (c *Coordinator) onConnectivity(connected bool) {
	if c.disposed.Load() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	was := c.lastConnected
	c.lastConnected = connected
	if !connected {
		if c.debounceTimer != nil {
			c.debounceTimer.Stop()
		}
		return
	}
	if was {
		return
	}
	if c.debounceTimer != nil {
		c.debounceTimer.Stop()
	}
	ctx := c.ctx
	c.debounceTimer = time.AfterFunc(c.debounce, func() {
		if c.disposed.Load() {
			return
		}
		c.log.Ctx(ctx).Info("Connectivity restored, syncing")
		c.SyncAll(ctx)
	})
}

// Cleanup unsubscribes from the monitor and disables the coordinator.
// Pending backoff timers still fire but find it disposed and do nothing.
func (c *Coordinator) Cleanup() {
	if c.disposed.Swap(true) {
		return
	}
	c.mu.Lock()
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	if c.debounceTimer != nil {
		c.debounceTimer.Stop()
	}
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	c.log.Logger().Info("Sync coordinator disposed")
}

// Disposed reports whether Cleanup has run.
func (c *Coordinator) Disposed() bool { return c.disposed.Load() }
