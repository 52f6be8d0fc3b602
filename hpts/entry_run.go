// File: hpts/entry_run.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Entry worker, drain passes and wakeup scheduling.

package hpts

import (
	"fmt"
	"runtime"
	"time"

	"github.com/eapache/queue"

	"github.com/momentics/hioload-hpts/api"
)

// signal requests a pass from the worker. Never blocks.
func (e *entry) signal() {
	select {
	case e.wakeCh <- struct{}{}:
	default:
	}
}

// timerFired runs on the timer's goroutine and takes no locks.
func (e *entry) timerFired(seq uint64) {
	if e.armSeq.Load() != seq {
		return
	}
	e.stats.timerWakes.Add(1)
	e.signal()
}

// armLocked arms the timer for tick, never sleeping less than the floor.
func (e *entry) armLocked(now time.Time, tick int64) {
	d := e.timeOf(tick).Sub(now)
	e.flags.MinSleep = d < e.minSleep
	if e.flags.MinSleep {
		d = e.minSleep
		e.stats.floorHits.Add(1)
	}
	seq := e.armSeq.Add(1)
	e.armedTick = tick
	e.flags.WakeScheduled = true
	e.state = StateSleeping
	e.stats.lastSleep.Store(int64(d))
	e.timer.Arm(d, func() { e.timerFired(seq) })
}

func (e *entry) disarmLocked() {
	if !e.flags.WakeScheduled {
		return
	}
	e.armSeq.Add(1)
	e.timer.Cancel()
	e.flags.WakeScheduled = false
}

// wake asks the worker for a pass.
func (e *entry) wake() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return api.ErrNotStarted
	}
	e.stats.explicitWakes.Add(1)
	if e.flags.Active || e.state == StateWaking {
		return nil
	}
	e.state = StateWaking
	e.signal()
	return nil
}

// runPass drains everything due. direct marks a pass run on a caller's
// goroutine instead of the worker. It reports false when another pass is in
// progress or the entry is stopped.
func (e *entry) runPass(direct bool) bool {
	e.mu.Lock()
	if e.paused || e.flags.Active {
		e.mu.Unlock()
		return false
	}
	e.flags.Active = true
	e.flags.DirectWake = direct
	e.state = StateActive
	e.mu.Unlock()

	e.stats.passes.Add(1)
	if direct {
		e.stats.directRuns.Add(1)
	}

	e.drainImmediate()

	now := e.clock.Now()
	e.mu.Lock()
	target := e.tickOf(now)
	if e.onQueue == 0 {
		// nothing queued: the quiet interval is not lag
		e.doneTick = max(e.doneTick, target)
	}
	if target-e.doneTick > int64(e.n) {
		// collapse overdue revolutions; every slot is still visited once
		e.doneTick = target - int64(e.n)
		e.stats.catchUps.Add(1)
		e.log.Debug().Int64("target", target).Msg("wheel catch-up")
	}
	limit := e.doneTick + int64(e.n)
	for {
		e.curTick = min(target, limit)
		e.walkLocked(e.curTick)
		if e.doneTick >= limit {
			break
		}
		e.mu.Unlock()
		now = e.clock.Now()
		e.mu.Lock()
		if target = e.tickOf(now); target <= e.doneTick {
			break
		}
	}
	e.flags.Active = false
	e.scheduleLocked(now, e.doneTick >= e.tickOf(now))
	e.idle.Broadcast()
	e.mu.Unlock()
	return true
}

func (e *entry) drainImmediate() {
	e.mu.Lock()
	s := &e.slots[e.n]
	if s.count == 0 {
		e.mu.Unlock()
		return
	}
	q, n := s.detach(e.spare)
	e.spare = nil
	e.onQueue -= n
	e.mu.Unlock()
	e.fire(q)
}

// walkLocked detaches and fires every occupied slot in (doneTick, target].
// The lock is released around callbacks and held again on return.
func (e *entry) walkLocked(target int64) {
	for e.doneTick < target {
		from := e.doneTick + 1
		start := e.index(from)
		idx := e.occ.next(start)
		if idx < 0 {
			e.doneTick = target
			return
		}
		tick := from + int64(idx-start)&e.mask
		if tick > target {
			e.doneTick = target
			return
		}
		e.doneTick = tick
		q, n := e.slots[idx].detach(e.spare)
		e.spare = nil
		e.onQueue -= n
		e.occ.clear(idx)
		e.requeueLocked(q, idx, target)
		if q.Length() == 0 {
			e.spare = q
			continue
		}
		e.mu.Unlock()
		e.fire(q)
		e.mu.Lock()
	}
}

// requeueLocked moves handles of q not due by upTo back into the live
// generation of slots[idx] and drops tombstones. Only due handles stay in q,
// in FIFO order, so a callback can still cancel anything left queued.
func (e *entry) requeueLocked(q *queue.Queue, idx int, upTo int64) {
	deferred := 0
	for n := q.Length(); n > 0; n-- {
		h := q.Remove().(*Handle)
		switch {
		case h.state.Load() != handleQueued:
		case h.due > upTo:
			e.pushLocked(h, idx)
			deferred++
		default:
			q.Add(h)
		}
	}
	e.stats.deferred.Add(uint64(deferred))
}

// fire invokes detached handles in FIFO order.
func (e *entry) fire(q *queue.Queue) {
	e.stats.slotsDrained.Add(1)
	for q.Length() > 0 {
		h := q.Remove().(*Handle)
		if h.state.Load() != handleQueued {
			continue
		}
		h.state.Store(handleFired)
		e.invoke(h)
	}
	e.mu.Lock()
	if e.spare == nil {
		e.spare = q
	}
	e.mu.Unlock()
}

func (e *entry) invoke(h *Handle) {
	defer func() {
		if r := recover(); r != nil {
			e.stats.callbackPanics.Add(1)
			e.warn.Error("callback-panic").
				Int("entry", e.id).
				Str("panic", fmt.Sprint(r)).
				Msg("item callback panicked")
		}
	}()
	e.stats.itemsFired.Add(1)
	if err := h.item.fn(h.item); err != nil {
		e.stats.callbackErrors.Add(1)
		e.warn.Warn("callback-error").
			Int("entry", e.id).
			Err(err).
			Msg("item callback failed")
	}
}

// scheduleLocked picks the next wakeup after a pass.
func (e *entry) scheduleLocked(now time.Time, caughtUp bool) {
	e.flags.WheelComplete = caughtUp
	direct := e.flags.DirectWake
	e.flags.DirectWake = false

	kick := e.slots[e.n].count > 0
	tick, has := int64(0), false
	switch {
	case !caughtUp:
		tick, has = e.doneTick+1, true
	case e.onQueue > e.slots[e.n].count:
		tick, has = e.nextTickLocked(), true
	}
	e.nxtTick = -1
	if has {
		e.nxtTick = tick
	}

	switch {
	case !e.running || e.paused:
		e.disarmLocked()
		e.state = StateIdle
	case kick:
		e.state = StateWaking
		e.signal()
	case !has:
		e.disarmLocked()
		e.state = StateIdle
	case direct && e.flags.WakeScheduled && e.armedTick <= tick:
		e.state = StateSleeping
	default:
		e.armLocked(now, tick)
	}
}

// nextTickLocked returns the nearest tick after doneTick whose slot is occupied.
func (e *entry) nextTickLocked() int64 {
	from := e.doneTick + 1
	start := e.index(from)
	idx := e.occ.next(start)
	if idx < 0 {
		return from + int64(e.n)
	}
	return from + int64(idx-start)&e.mask
}

// launch starts the worker goroutine; ready closes once it bound its thread.
func (e *entry) launch(aff api.Affinity, set api.CPUSet) <-chan struct{} {
	ready := make(chan struct{})
	e.mu.Lock()
	e.stopCh = make(chan struct{})
	e.doneCh = make(chan struct{})
	stopCh, doneCh := e.stopCh, e.doneCh
	e.mu.Unlock()
	go e.work(aff, set, stopCh, doneCh, ready)
	return ready
}

func (e *entry) work(aff api.Affinity, set api.CPUSet, stopCh, doneCh, ready chan struct{}) {
	defer close(doneCh)
	// no UnlockOSThread: a rebound thread must exit with the goroutine
	runtime.LockOSThread()
	e.bind(aff, set)
	close(ready)
	for {
		select {
		case <-stopCh:
			return
		case <-e.wakeCh:
			e.runPass(false)
		}
	}
}

func (e *entry) bind(aff api.Affinity, set api.CPUSet) {
	if len(set) == 0 {
		e.degraded.Store(false)
		return
	}
	got, err := aff.BindCurrentThread(set)
	if err == nil && (len(got) == 0 || !got.SubsetOf(set)) {
		err = fmt.Errorf("bound to %q, want subset of %q: %w", got.String(), set.String(), api.ErrBindFailed)
	}
	e.mu.Lock()
	e.bound = got
	e.bindErr = err
	e.mu.Unlock()
	e.degraded.Store(err != nil)
	if err != nil {
		e.log.Warn().Err(err).Str("cpus", set.String()).Msg("worker bind failed, entry degraded")
		return
	}
	e.log.Debug().Str("bound", got.String()).Msg("worker bound")
}

// resume lets a launched worker take timers and passes.
func (e *entry) resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.running = true
	e.paused = false
	if e.onQueue > 0 {
		e.state = StateWaking
		e.signal()
	}
}

// stop quiesces the entry: no timer armed, no pass running, worker gone.
func (e *entry) stop() {
	e.mu.Lock()
	e.paused = true
	e.running = false
	e.disarmLocked()
	for e.flags.Active {
		e.idle.Wait()
	}
	e.state = StateIdle
	stopCh, doneCh := e.stopCh, e.doneCh
	e.stopCh, e.doneCh = nil, nil
	e.mu.Unlock()
	if stopCh != nil {
		close(stopCh)
		<-doneCh
	}
	select {
	case <-e.wakeCh:
	default:
	}
}
