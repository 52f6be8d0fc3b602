// File: adapters/timer_adapter.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// api.Clock and api.Timer over github.com/andres-erbsen/clock.

package adapters

import (
	"sync"
	"time"

	"github.com/andres-erbsen/clock"

	"github.com/momentics/hioload-hpts/api"
)

var _ api.Clock = (*Clock)(nil)

// Clock is the wall clock used by default.
type Clock struct {
	c clock.Clock
}

// NewClock wraps the real clock.
func NewClock() *Clock {
	return &Clock{c: clock.New()}
}

// NewClockFrom wraps any clock.Clock implementation.
func NewClockFrom(c clock.Clock) *Clock {
	return &Clock{c: c}
}

func (c *Clock) Now() time.Time { return c.c.Now() }

func (c *Clock) NewTimer() api.Timer {
	return &timer{c: c.c}
}

// timer is a re-armable one-shot. Every Arm/Cancel bumps seq so a callback
// already handed to the runtime by an older arming becomes a no-op.
type timer struct {
	c   clock.Clock
	mu  sync.Mutex
	t   *clock.Timer
	seq uint64
}

func (t *timer) Arm(d time.Duration, onFire func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.t != nil {
		t.t.Stop()
	}
	t.seq++
	seq := t.seq
	t.t = t.c.AfterFunc(d, func() {
		t.mu.Lock()
		live := t.seq == seq
		if live {
			t.t = nil
		}
		t.mu.Unlock()
		if live {
			onFire()
		}
	})
}

func (t *timer) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	if t.t == nil {
		return false
	}
	t.t.Stop()
	t.t = nil
	return true
}
