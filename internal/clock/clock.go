// Package clock provides time sources for the harvest pipeline.
package clock

import (
	"sync"
	"time"
)

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// System implements Clock using time.Now.
type System struct{}

// Now returns the current UTC time.
func (System) Now() time.Time {
	return time.Now().UTC()
}

// Monotonic wraps a Clock and guarantees non-decreasing timestamps.
// Change-log entries written by concurrent harvest tasks sort by timestamp,
// so the wall clock must never appear to move backwards within a run.
type Monotonic struct {
	mu    sync.Mutex
	inner Clock
	last  time.Time
}

// NewMonotonic wraps inner with the non-decreasing guarantee.
func NewMonotonic(inner Clock) *Monotonic {
	return &Monotonic{inner: inner}
}

// Now returns the inner clock's time, clamped to never precede a previously
// returned value.
func (m *Monotonic) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.inner.Now()
	if now.Before(m.last) {
		now = m.last
	}
	m.last = now
	return now
}
