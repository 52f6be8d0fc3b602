// File: hpts/stats.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Per-entry diagnostic counters. Counters are observability only; no
// scheduling decision reads them.

package hpts

import (
	"sync/atomic"
	"time"
)

type counters struct {
	timerWakes     atomic.Uint64
	explicitWakes  atomic.Uint64
	insertWakes    atomic.Uint64
	directRuns     atomic.Uint64
	passes         atomic.Uint64
	slotsDrained   atomic.Uint64
	itemsFired     atomic.Uint64
	deferred       atomic.Uint64
	canceled       atomic.Uint64
	callbackErrors atomic.Uint64
	callbackPanics atomic.Uint64
	catchUps       atomic.Uint64
	floorHits      atomic.Uint64
	dropped        atomic.Uint64
	redirected     atomic.Uint64
	lastSleep      atomic.Int64
}

// EntryStats is a point-in-time view of one entry.
type EntryStats struct {
	ID       int    `json:"id"`
	CPU      int    `json:"cpu"`
	Domain   int    `json:"domain"`
	State    string `json:"state"`
	Degraded bool   `json:"degraded"`
	Bound    string `json:"bound"`

	PrevSlot int   `json:"prev_slot"`
	CurSlot  int   `json:"cur_slot"`
	NextSlot int   `json:"next_slot"` // slot count when nothing is queued
	OnQueue  int   `json:"on_queue"`
	Flags    Flags `json:"flags"`

	TimerWakes     uint64        `json:"timer_wakes"`
	ExplicitWakes  uint64        `json:"explicit_wakes"`
	InsertWakes    uint64        `json:"insert_wakes"`
	DirectRuns     uint64        `json:"direct_runs"`
	Passes         uint64        `json:"passes"`
	SlotsDrained   uint64        `json:"slots_drained"`
	ItemsFired     uint64        `json:"items_fired"`
	Deferred       uint64        `json:"deferred"`
	Canceled       uint64        `json:"canceled"`
	CallbackErrors uint64        `json:"callback_errors"`
	CallbackPanics uint64        `json:"callback_panics"`
	CatchUps       uint64        `json:"catch_ups"`
	FloorHits      uint64        `json:"floor_hits"`
	Dropped        uint64        `json:"dropped"`
	Redirected     uint64        `json:"redirected"`
	LastSleep      time.Duration `json:"last_sleep"`
}

func (c *counters) fill(s *EntryStats) {
	s.TimerWakes = c.timerWakes.Load()
	s.ExplicitWakes = c.explicitWakes.Load()
	s.InsertWakes = c.insertWakes.Load()
	s.DirectRuns = c.directRuns.Load()
	s.Passes = c.passes.Load()
	s.SlotsDrained = c.slotsDrained.Load()
	s.ItemsFired = c.itemsFired.Load()
	s.Deferred = c.deferred.Load()
	s.Canceled = c.canceled.Load()
	s.CallbackErrors = c.callbackErrors.Load()
	s.CallbackPanics = c.callbackPanics.Load()
	s.CatchUps = c.catchUps.Load()
	s.FloorHits = c.floorHits.Load()
	s.Dropped = c.dropped.Load()
	s.Redirected = c.redirected.Load()
	s.LastSleep = time.Duration(c.lastSleep.Load())
}

// Map flattens the snapshot for control.MetricsRegistry.
func (s EntryStats) Map() map[string]any {
	return map[string]any{
		"cpu":             s.CPU,
		"domain":          s.Domain,
		"state":           s.State,
		"degraded":        s.Degraded,
		"bound":           s.Bound,
		"prev_slot":       s.PrevSlot,
		"cur_slot":        s.CurSlot,
		"next_slot":       s.NextSlot,
		"on_queue":        s.OnQueue,
		"wheel_complete":  s.Flags.WheelComplete,
		"min_sleep":       s.Flags.MinSleep,
		"timer_wakes":     s.TimerWakes,
		"explicit_wakes":  s.ExplicitWakes,
		"insert_wakes":    s.InsertWakes,
		"direct_runs":     s.DirectRuns,
		"passes":          s.Passes,
		"slots_drained":   s.SlotsDrained,
		"items_fired":     s.ItemsFired,
		"deferred":        s.Deferred,
		"canceled":        s.Canceled,
		"callback_errors": s.CallbackErrors,
		"callback_panics": s.CallbackPanics,
		"catch_ups":       s.CatchUps,
		"floor_hits":      s.FloorHits,
		"dropped":         s.Dropped,
		"redirected":      s.Redirected,
		"last_sleep":      s.LastSleep.String(),
	}
}
