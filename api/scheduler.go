// Package api
// Author: momentics
//
// Scheduler contract for high-precision timed job execution.

package api

import "time"

// Cancelable is a pending scheduled callback.
type Cancelable interface {
	// Cancel prevents the callback from running. It returns false when the
	// callback already started (or finished) firing.
	Cancel() bool
}

// Scheduler abstracts timer scheduling for async/highload loops.
type Scheduler interface {
	// Schedule runs fn once after delay.
	Schedule(delay time.Duration, fn func()) (Cancelable, error)

	// Now returns the scheduler's notion of current time.
	Now() time.Time
}
