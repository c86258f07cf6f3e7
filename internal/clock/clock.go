// Package clock is the time source for everything that stamps or ages
// flows. Production code uses Real; tests drive a Mock forward explicitly
// so age boundaries can be hit exactly.
package clock

import (
	"sync"
	"time"
)

// Clock is the subset of the time package flowmeta depends on.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

// Real reads the system clock.
type Real struct{}

// Now returns the current system time.
func (Real) Now() time.Time { return time.Now() }

// Since returns the time elapsed since t.
func (Real) Since(t time.Time) time.Duration { return time.Since(t) }

// Mock is a clock that only moves when told to.
type Mock struct {
	mu      sync.RWMutex
	current time.Time
}

// NewMock creates a mock clock set to t.
func NewMock(t time.Time) *Mock {
	return &Mock{current: t}
}

// Now returns the mock time.
func (c *Mock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Since returns the mock duration since t.
func (c *Mock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// Set jumps the mock time to t. Going backwards is allowed.
func (c *Mock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = t
}

// Advance moves the mock time forward by d and returns the new time.
func (c *Mock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
	return c.current
}

// OrReal returns c, or Real when c is nil, so constructors can take an
// optional clock.
func OrReal(c Clock) Clock {
	if c == nil {
		return Real{}
	}
	return c
}
