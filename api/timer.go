// File: api/timer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Clock and one-shot timer capabilities consumed by the scheduler.

package api

import "time"

// Timer is a re-armable one-shot wakeup source.
type Timer interface {
	// Arm schedules onFire after d, replacing any previous arming.
	// onFire may run on an arbitrary goroutine and must not block.
	Arm(d time.Duration, onFire func())

	// Cancel disarms the timer; it reports whether a pending fire was prevented.
	Cancel() bool
}

// Clock supplies time and timers.
type Clock interface {
	Now() time.Time
	NewTimer() Timer
}
