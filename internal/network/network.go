// Package network reports device connectivity and its transitions.
package network

import (
	"context"
	"sync"
	"time"

	"github.com/onnwee/event-companion/backend/internal/metrics"
)

// Status is a connectivity snapshot.
type Status struct {
	Connected bool      `json:"connected"`
	CheckedAt time.Time `json:"checked_at"`
}

// Monitor is the connectivity source the sync coordinator listens to.
type Monitor interface {
	// Subscribe registers fn for connectivity transitions. The returned func
	// removes it and is safe to call more than once.
	Subscribe(fn func(connected bool)) (unsubscribe func())
	// Fetch returns the current status.
	Fetch(ctx context.Context) Status
}

// listeners fans transitions out to subscribers.
type listeners struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(bool)
}

func (l *listeners) add(fn func(bool)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fns == nil {
		l.fns = make(map[int]func(bool))
	}
	id := l.next
	l.next++
	l.fns[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.fns, id)
			l.mu.Unlock()
		})
	}
}

// notify calls subscribers outside the lock so they may unsubscribe.
func (l *listeners) notify(connected bool) {
	l.mu.Lock()
	fns := make([]func(bool), 0, len(l.fns))
	for _, fn := range l.fns {
		fns = append(fns, fn)
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn(connected)
	}
}

func (l *listeners) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.fns)
}

func gauge(connected bool) {
	if connected {
		metrics.NetworkConnected.Set(1)
	} else {
		metrics.NetworkConnected.Set(0)
	}
}
