// File: hpts/item.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Items are consumer work units; handles are single registrations of an item.

package hpts

import (
	"sync"
	"sync/atomic"
	"time"
)

// Func runs when a registration comes due. A non-nil error is counted and
// logged; it does not affect other items.
type Func func(it *Item) error

// Item is a schedulable unit. The consumer owns Data; the scheduler owns
// only the registration linkage. An item is queued at most once: registering
// it again replaces the pending registration.
type Item struct {
	fn   Func
	data any

	mu   sync.Mutex // serializes register/cancel on this item
	cur  *Handle
	cpu  int // sticky placement, -1 until first registration
	flow string
}

// NewItem creates an item invoking fn with itself.
func NewItem(fn Func, data any) *Item {
	return &Item{fn: fn, data: data, cpu: -1}
}

// Data returns the consumer payload.
func (it *Item) Data() any { return it.data }

// SetFlowKey pins the item to the CPU its flow hashes to.
// An empty key restores sticky round-robin placement.
func (it *Item) SetFlowKey(key string) {
	it.mu.Lock()
	it.flow = key
	it.cpu = -1
	it.mu.Unlock()
}

// CPU reports the CPU chosen for the item, or -1 before the first registration.
func (it *Item) CPU() int {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.cpu
}

// Pending reports whether the latest registration has yet to fire.
func (it *Item) Pending() bool {
	it.mu.Lock()
	h := it.cur
	it.mu.Unlock()
	return h.Pending()
}

type handleState = uint32

const (
	handleQueued handleState = iota
	handleFired
	handleCanceled
	handleDropped
)

// Handle is one registration of an item.
type Handle struct {
	item     *Item
	entry    *entry
	deadline time.Time

	// guarded by entry.mu
	slot int
	gen  uint64
	due  int64

	// written under entry.mu, or by the draining pass after detach
	state atomic.Uint32
}

// Cancel withdraws the registration. It returns false if the registration
// already fired, is being drained, or was canceled before.
func (h *Handle) Cancel() bool {
	if h == nil {
		return false
	}
	it := h.item
	it.mu.Lock()
	defer it.mu.Unlock()
	ok := h.entry.cancel(h)
	if it.cur == h {
		it.cur = nil
	}
	return ok
}

// Pending reports whether the registration is still queued.
func (h *Handle) Pending() bool {
	return h != nil && h.state.Load() == handleQueued
}

// Deadline is the time the registration asked for.
func (h *Handle) Deadline() time.Time { return h.deadline }

// CPU is the CPU of the entry holding the registration.
func (h *Handle) CPU() int { return h.entry.cpu }

// Item returns the registered item.
func (h *Handle) Item() *Item { return h.item }
