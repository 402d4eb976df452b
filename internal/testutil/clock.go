// Package testutil provides deterministic test doubles.
package testutil

import (
	"sync"
	"time"
)

// DeterministicClock provides a thread-safe manual clock for tests.
//
// Each call to Now advances the clock by a fixed step, so row timestamps
// are unique, strictly increasing and reproducible across runs.
//
// Thread-safety: all methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// NewDeterministicClock creates a clock starting at a fixed epoch,
// advancing one second per Now call.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{
		now:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		step: time.Second,
	}
}

// Now returns the current time and advances the clock by one step.
func (c *DeterministicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

// Current returns the current time without advancing.
func (c *DeterministicClock) Current() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Reset rewinds the clock to its starting epoch.
//
// Used for test reuse. After Reset(), Now() returns the epoch again.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
}
