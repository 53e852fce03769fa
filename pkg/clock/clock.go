// Package clock abstracts "now" so time-driven booking rules can be tested deterministically.
package clock

import (
	"sync"
	"time"
)

// Clock supplies the current instant.
type Clock interface {
	Now() time.Time
}

// Func adapts a plain function to Clock.
type Func func() time.Time

// Now implements Clock.
func (f Func) Now() time.Time { return f() }

// System returns a Clock backed by time.Now in UTC.
func System() Clock {
	return Func(func() time.Time { return time.Now().UTC() })
}

// Mock is a controllable Clock for tests.
type Mock struct {
	mu      sync.Mutex
	current time.Time
}

// NewMock returns a mock clock fixed at start.
func NewMock(start time.Time) *Mock {
	return &Mock{current: start}
}

// Now returns the tracked instant.
func (m *Mock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Set moves the clock to t.
func (m *Mock) Set(t time.Time) {
	m.mu.Lock()
	m.current = t
	m.mu.Unlock()
}

// Advance moves the clock forward by d and returns the new instant.
func (m *Mock) Advance(d time.Duration) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = m.current.Add(d)
	return m.current
}
