// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package fake

import (
	"slices"
	"sync"
	"time"

	"github.com/momentics/hioload-hpts/api"
)

var _ api.Clock = (*Clock)(nil)

// Clock is a manually advanced api.Clock. Timers fire synchronously from
// Advance/Set on the calling goroutine, in deadline order.
type Clock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*Timer
}

// NewClock creates a clock reading start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) NewTimer() api.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &Timer{clock: c}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward by d and fires every timer that came due.
func (c *Clock) Advance(d time.Duration) int {
	c.mu.Lock()
	return c.setLocked(c.now.Add(d))
}

// Set jumps the clock to t (backwards jumps are allowed) and fires due timers.
func (c *Clock) Set(t time.Time) int {
	c.mu.Lock()
	return c.setLocked(t)
}

func (c *Clock) setLocked(t time.Time) int {
	c.now = t
	var due []*Timer
	for _, tm := range c.timers {
		if tm.armed && !tm.deadline.After(t) {
			due = append(due, tm)
		}
	}
	slices.SortStableFunc(due, func(a, b *Timer) int { return a.deadline.Compare(b.deadline) })
	fns := make([]func(), 0, len(due))
	for _, tm := range due {
		tm.armed = false
		tm.fired++
		fns = append(fns, tm.fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
	return len(fns)
}

// NextDeadline reports the earliest armed deadline.
func (c *Clock) NextDeadline() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var (
		best  time.Time
		found bool
	)
	for _, tm := range c.timers {
		if tm.armed && (!found || tm.deadline.Before(best)) {
			best, found = tm.deadline, true
		}
	}
	return best, found
}

// Armed counts armed timers.
func (c *Clock) Armed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, tm := range c.timers {
		if tm.armed {
			n++
		}
	}
	return n
}

// Timer is the api.Timer handed out by Clock.
type Timer struct {
	clock    *Clock
	deadline time.Time
	fn       func()
	armed    bool
	fired    int
}

func (t *Timer) Arm(d time.Duration, onFire func()) {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	t.deadline = t.clock.now.Add(d)
	t.fn = onFire
	t.armed = true
}

func (t *Timer) Cancel() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := t.armed
	t.armed = false
	return was
}
