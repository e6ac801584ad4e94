// Package testutil provides a deterministic clock and in-memory
// collaborators for engine, harness and adapter tests.
package testutil

import (
	"sort"
	"sync"
	"time"

	"github.com/geoshift/geoshift/internal/engine"
)

// ManualClock is a deterministic engine.Clock driven by Advance.
//
// Advance moves time forward and fires due timers in deadline order, each
// at its own deadline, so a test observes exactly the interleaving the real
// clock would produce.
//
// Thread-safety: all methods are safe for concurrent use; timer callbacks
// run without the internal lock held.
type ManualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

// NewManualClock creates a clock frozen at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now returns the current frozen time.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc registers fn to run when the clock advances past d from now.
func (c *ManualClock) AfterFunc(d time.Duration, fn func()) engine.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{clock: c, deadline: c.now.Add(d), fn: fn}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock forward by d, firing due timers in deadline
// order. Each callback observes Now() == its own deadline.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)

	for {
		next := c.nextDueLocked(target)
		if next == nil {
			break
		}
		c.now = next.deadline
		next.fired = true
		fn := next.fn
		c.mu.Unlock()
		fn()
		c.mu.Lock()
	}

	c.now = target
	c.compactLocked()
	c.mu.Unlock()
}

// nextDueLocked returns the earliest live timer due at or before target.
func (c *ManualClock) nextDueLocked(target time.Time) *manualTimer {
	var due []*manualTimer
	for _, t := range c.timers {
		if !t.fired && !t.stopped && !t.deadline.After(target) {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool { return due[i].deadline.Before(due[j].deadline) })
	return due[0]
}

func (c *ManualClock) compactLocked() {
	live := c.timers[:0]
	for _, t := range c.timers {
		if !t.fired && !t.stopped {
			live = append(live, t)
		}
	}
	c.timers = live
}

// PendingTimers returns how many live timers are armed.
func (c *ManualClock) PendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.fired && !t.stopped {
			n++
		}
	}
	return n
}

type manualTimer struct {
	clock    *ManualClock
	deadline time.Time
	fn       func()
	fired    bool
	stopped  bool
}

// Stop is idempotent; it reports whether the call prevented a fire.
// Stopping an already-fired or already-stopped timer is a no-op, matching
// the contract engine cancellation relies on.
func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.fired || t.stopped {
		t.stopped = true
		return false
	}
	t.stopped = true
	return true
}
