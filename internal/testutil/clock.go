// Package testutil provides deterministic test doubles shared across
// package tests.
package testutil

import "sync"

// Clock is a deterministic microsecond clock for tests.
//
// Each NowMicros call returns the current time and then advances it by
// Step, so two reads in a row observe different instants. Tests that need
// a frozen clock set Step to zero.
//
// Thread-safety: all methods are safe for concurrent use via internal mutex.
type Clock struct {
	mu   sync.Mutex
	now  int64
	step int64
}

// NewClock creates a clock pinned at now (microseconds), advancing by step
// on every read.
func NewClock(now, step int64) *Clock {
	return &Clock{now: now, step: step}
}

// NowMicros returns the clock's current time and advances it by the
// configured step.
func (c *Clock) NowMicros() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now += c.step
	return t
}

// Set pins the clock to a specific instant.
func (c *Clock) Set(now int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Advance moves the clock forward by d microseconds.
func (c *Clock) Advance(d int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += d
}
