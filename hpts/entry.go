// File: hpts/entry.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Per-CPU wheel: slots, cursors, flags and the insert/cancel paths.

package hpts

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/rs/zerolog"
	"golang.org/x/sys/cpu"
	"golang.org/x/time/rate"

	"github.com/momentics/hioload-hpts/api"
	"github.com/momentics/hioload-hpts/internal/logging"
)

// entry is one per-CPU wheel. Entries are heap allocated one by one and
// padded so neighbours never share a cache line.
type entry struct {
	_ cpu.CacheLinePad

	mu   sync.Mutex
	idle *sync.Cond // signalled when flags.Active clears

	id     int
	cpu    int
	domain int

	clock    api.Clock
	timer    api.Timer
	epoch    time.Time
	quantum  time.Duration
	minSleep time.Duration
	n        int
	mask     int64

	slots []slot // n wheel slots followed by the immediate slot
	occ   bitmap
	spare *queue.Queue

	onQueue   int
	doneTick  int64 // last tick fully drained
	curTick   int64 // target of the latest pass
	nxtTick   int64 // next occupied tick, -1 when empty
	armedTick int64
	state     State
	flags     Flags
	running   bool // worker alive, timers may be armed
	paused    bool // stopped; passes are refused

	armSeq atomic.Uint64
	wakeCh chan struct{}
	stopCh chan struct{}
	doneCh chan struct{}

	degraded atomic.Bool
	bound    api.CPUSet
	bindErr  error

	limiter *rate.Limiter
	stats   counters
	log     zerolog.Logger
	warn    *logging.Limited

	_ cpu.CacheLinePad
}

type entryParams struct {
	id, cpu, domain int
	clock           api.Clock
	epoch           time.Time
	quantum         time.Duration
	minSleep        time.Duration
	slots           int
	directRate      float64
	log             zerolog.Logger
	warn            *logging.Limited
}

func newEntry(p entryParams) *entry {
	e := &entry{
		id:       p.id,
		cpu:      p.cpu,
		domain:   p.domain,
		clock:    p.clock,
		timer:    p.clock.NewTimer(),
		epoch:    p.epoch,
		quantum:  p.quantum,
		minSleep: p.minSleep,
		n:        p.slots,
		mask:     int64(p.slots - 1),
		slots:    make([]slot, p.slots+1),
		occ:      newBitmap(p.slots),
		nxtTick:  -1,
		wakeCh:   make(chan struct{}, 1),
		limiter:  rate.NewLimiter(rate.Limit(p.directRate), 8),
		log:      p.log.With().Int("entry", p.id).Int("cpu", p.cpu).Logger(),
		warn:     p.warn,
	}
	e.idle = sync.NewCond(&e.mu)
	for i := range e.slots {
		e.slots[i].q = queue.New()
	}
	e.doneTick = e.tickOf(p.clock.Now())
	e.curTick = e.doneTick
	return e
}

// tickOf maps t to an absolute tick; times before the epoch map to 0.
func (e *entry) tickOf(t time.Time) int64 {
	d := t.Sub(e.epoch)
	if d < 0 {
		return 0
	}
	return int64(d / e.quantum)
}

// dueTick is the first tick whose start is not before t+delay. Offsets past
// the last representable tick start saturate there.
func (e *entry) dueTick(t time.Time, delay time.Duration) int64 {
	base := t.Sub(e.epoch)
	limit := time.Duration(math.MaxInt64) - e.quantum
	d := limit
	if delay <= 0 || base <= limit-delay {
		d = base + delay
	}
	if d <= 0 {
		return 0
	}
	q := int64(d / e.quantum)
	if d%e.quantum != 0 {
		q++
	}
	return q
}

func (e *entry) timeOf(tick int64) time.Time {
	return e.epoch.Add(time.Duration(tick) * e.quantum)
}

func (e *entry) index(tick int64) int { return int(tick & e.mask) }

// pushLocked appends h to slots[idx] and stamps the live generation.
func (e *entry) pushLocked(h *Handle, idx int) {
	s := &e.slots[idx]
	h.entry = e
	h.slot = idx
	h.gen = s.gen
	h.state.Store(handleQueued)
	s.push(h)
	e.onQueue++
	if idx < e.n {
		e.occ.set(idx)
	}
}

// insertLocked queues h for now+delay and arranges the wakeup it needs.
func (e *entry) insertLocked(h *Handle, now time.Time, delay time.Duration) {
	if e.onQueue == 0 && !e.flags.Active {
		// an empty wheel has nothing overdue; skip the quiet interval
		e.doneTick = max(e.doneTick, e.tickOf(now)-1)
	}
	idx := e.n
	if delay > 0 {
		h.due = max(e.dueTick(now, delay), e.doneTick+1)
		idx = e.index(h.due)
	} else {
		h.due = e.doneTick
	}
	e.pushLocked(h, idx)

	if !e.running || e.paused || e.flags.Active {
		// the pass in progress, or the next Start, schedules it
		return
	}
	switch {
	case e.state == StateWaking:
	case idx == e.n:
		e.state = StateWaking
		e.stats.insertWakes.Add(1)
		e.signal()
	case e.state == StateIdle,
		e.state == StateSleeping && h.due < e.armedTick:
		e.stats.insertWakes.Add(1)
		e.nxtTick = h.due
		e.armLocked(now, h.due)
	}
}

func (e *entry) cancel(h *Handle) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelLocked(h)
}

// cancelLocked succeeds only while h sits in the live generation of its slot.
func (e *entry) cancelLocked(h *Handle) bool {
	if h.state.Load() != handleQueued {
		return false
	}
	s := &e.slots[h.slot]
	if h.gen != s.gen {
		// detached: already firing
		return false
	}
	h.state.Store(handleCanceled)
	s.bury()
	e.onQueue--
	e.stats.canceled.Add(1)
	if s.count == 0 && h.slot < e.n {
		e.occ.clear(h.slot)
	}
	if e.onQueue == 0 && !e.flags.Active && e.state == StateSleeping {
		e.disarmLocked()
		e.nxtTick = -1
		e.state = StateIdle
	}
	return true
}

// checkInvariantLocked verifies on-queue accounting and the occupancy bitmap.
func (e *entry) checkInvariantLocked() error {
	if e.slots == nil {
		if e.onQueue != 0 {
			return fmt.Errorf("entry %d: released with on_queue=%d", e.id, e.onQueue)
		}
		return nil
	}
	sum := 0
	for i := range e.slots {
		s := &e.slots[i]
		if s.count < 0 || s.q.Length() != s.count+s.dead {
			return fmt.Errorf("entry %d slot %d: count=%d dead=%d len=%d", e.id, i, s.count, s.dead, s.q.Length())
		}
		if i < e.n && e.occ.test(i) != (s.count > 0) {
			return fmt.Errorf("entry %d slot %d: occupancy bit disagrees with count %d", e.id, i, s.count)
		}
		sum += s.count
	}
	if sum != e.onQueue {
		return fmt.Errorf("entry %d: on_queue=%d, slots hold %d", e.id, e.onQueue, sum)
	}
	return nil
}

// dropLocked discards every queued handle and releases the wheel.
func (e *entry) dropLocked() int {
	dropped := 0
	for i := range e.slots {
		s := &e.slots[i]
		for s.q.Length() > 0 {
			h := s.q.Remove().(*Handle)
			if h.state.CompareAndSwap(handleQueued, handleDropped) {
				dropped++
			}
		}
	}
	e.stats.dropped.Add(uint64(dropped))
	e.onQueue = 0
	e.slots = nil
	e.occ = nil
	e.spare = nil
	e.nxtTick = -1
	return dropped
}

func (e *entry) snapshot() EntryStats {
	e.mu.Lock()
	s := EntryStats{
		ID:       e.id,
		CPU:      e.cpu,
		Domain:   e.domain,
		State:    e.state.String(),
		Degraded: e.degraded.Load(),
		Bound:    e.bound.String(),
		PrevSlot: e.index(e.doneTick),
		CurSlot:  e.index(e.curTick),
		NextSlot: e.n,
		OnQueue:  e.onQueue,
		Flags:    e.flags,
	}
	if e.nxtTick >= 0 {
		s.NextSlot = e.index(e.nxtTick)
	}
	e.mu.Unlock()
	e.stats.fill(&s)
	return s
}
