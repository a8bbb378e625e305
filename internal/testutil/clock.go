// Package testutil holds small deterministic helpers shared by tests.
package testutil

import "sync"

// Clock is a thread-safe monotonic millisecond clock for tests. Writer
// timestamps produced from it are stable across runs, so assertions on
// indexed_at and friends stay exact.
type Clock struct {
	mu  sync.Mutex
	now int64
}

// NewClock creates a clock starting at the given millisecond timestamp.
func NewClock(start int64) *Clock {
	return &Clock{now: start}
}

// Next advances the clock by one millisecond and returns the new time.
// The signature matches the writer's clock hook.
func (c *Clock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now++
	return c.now
}

// Current returns the current time without advancing.
func (c *Clock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}
