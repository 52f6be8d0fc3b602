// File: hpts/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package hpts implements the high-precision timer system: a per-CPU
// timer-wheel scheduler used to defer and batch per-connection work such as
// pacing, delayed acknowledgements and rate-limited transmit without one OS
// timer per connection.
//
// A Registry owns one entry per CPU. Each entry holds a wheel of fixed-quantum
// slots plus an immediate slot, and one worker goroutine locked to an OS
// thread that sleeps until the nearest occupied slot is due, drains every due
// slot and invokes the callbacks outside the entry lock. Callbacks may
// register their item again; the new registration always lands in a later
// pass.
//
// Cancellation is linearized by slot generations: a handle can be canceled
// only while its slot has not been detached for draining. Cancel therefore
// reports a definite outcome and a registration never both fires and cancels.
package hpts
