// File: hpts/state.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package hpts

// State is the scheduling state of an entry.
type State uint8

const (
	// StateIdle: nothing due and no timer armed.
	StateIdle State = iota
	// StateSleeping: a timer is armed for the next occupied slot.
	StateSleeping
	// StateActive: a pass is draining due slots.
	StateActive
	// StateWaking: a wake was requested and waits for the worker.
	StateWaking
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSleeping:
		return "sleeping"
	case StateActive:
		return "active"
	case StateWaking:
		return "waking"
	}
	return "unknown"
}

// Flags mirror the per-entry scheduling bits.
type Flags struct {
	Active        bool `json:"active"`         // a pass is in progress
	WheelComplete bool `json:"wheel_complete"` // last pass caught up with the clock
	DirectWake    bool `json:"direct_wake"`    // current pass runs on a caller goroutine
	MinSleep      bool `json:"min_sleep"`      // last arming was raised to the floor
	WakeScheduled bool `json:"wake_scheduled"` // timer armed
}
