package network

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/onnwee/event-companion/backend/internal/config"
	"github.com/onnwee/event-companion/backend/internal/logger"
)

// Probe derives connectivity from periodic HEAD requests to a URL. Any HTTP
// response counts as connected; transport errors count as offline.
type Probe struct {
	url      string
	client   *http.Client
	interval time.Duration
	// limiter paces on-demand checks from Fetch between ticks.
	limiter *rate.Limiter
	log     logger.Component

	mu        sync.Mutex
	known     bool
	connected bool
	checkedAt time.Time
	subs      listeners
}

// NewProbe creates a probe for cfg.NetworkProbeURL.
func NewProbe(cfg *config.Config) *Probe {
	interval := cfg.NetworkProbeInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 || timeout > interval {
		timeout = interval
	}
	return &Probe{
		url:      cfg.NetworkProbeURL,
		client:   &http.Client{Timeout: timeout},
		interval: interval,
		limiter:  rate.NewLimiter(rate.Every(time.Second), 1),
		log:      logger.Component("network"),
	}
}

func (p *Probe) Subscribe(fn func(bool)) func() { return p.subs.add(fn) }

// Fetch returns the last observed status, checking first when nothing has
// been observed yet or the limiter allows a fresh check.
func (p *Probe) Fetch(ctx context.Context) Status {
	p.mu.Lock()
	known := p.known
	p.mu.Unlock()

	if !known || p.limiter.Allow() {
		p.Check(ctx)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return Status{Connected: p.connected, CheckedAt: p.checkedAt}
}

// Check probes once, records the result and notifies on a transition.
func (p *Probe) Check(ctx context.Context) bool {
	connected := p.reachable(ctx)
	if ctx.Err() != nil {
		// a cancelled probe says nothing about the network
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.connected
	}

	p.mu.Lock()
	changed := !p.known || p.connected != connected
	p.known = true
	p.connected = connected
	p.checkedAt = time.Now()
	p.mu.Unlock()

	if changed {
		gauge(connected)
		p.log.Ctx(ctx).Info("Connectivity changed", "connected", connected, "url", p.url)
		p.subs.notify(connected)
	}
	return connected
}

func (p *Probe) reachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		p.log.Ctx(ctx).Error("Invalid probe URL", "url", p.url, "error", err)
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		p.log.Ctx(ctx).Debug("Probe failed", "url", p.url, "error", err)
		return false
	}
	resp.Body.Close()
	return true
}

// Run checks immediately and then every interval until ctx is done.
func (p *Probe) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Check(ctx)
		}
	}
}
