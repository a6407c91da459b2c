package network

import (
	"context"
	"sync"
	"time"
)

// Switch is a manually driven Monitor.
type Switch struct {
	mu        sync.Mutex
	connected bool
	changedAt time.Time
	subs      listeners
}

// NewSwitch creates a switch in the given state.
func NewSwitch(connected bool) *Switch {
	gauge(connected)
	return &Switch{connected: connected, changedAt: time.Now()}
}

// Set changes the state; subscribers hear only actual transitions.
func (s *Switch) Set(connected bool) {
	s.mu.Lock()
	if s.connected == connected {
		s.mu.Unlock()
		return
	}
	s.connected = connected
	s.changedAt = time.Now()
	s.mu.Unlock()

	gauge(connected)
	s.subs.notify(connected)
}

func (s *Switch) Subscribe(fn func(bool)) func() { return s.subs.add(fn) }

func (s *Switch) Fetch(context.Context) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{Connected: s.connected, CheckedAt: s.changedAt}
}

// Subscribers returns the number of registered listeners.
func (s *Switch) Subscribers() int { return s.subs.count() }
