// File: hpts/slot.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Wheel slot: FIFO of handles with a live count and a generation.

package hpts

import "github.com/eapache/queue"

// compactSlack is how many tombstones a slot tolerates beyond its live count.
const compactSlack = 16

// slot is guarded by the owning entry lock.
//
// Canceled handles stay in q as tombstones until the slot is detached,
// emptied or compacted; count tracks live handles only.
type slot struct {
	q     *queue.Queue
	count int
	dead  int
	gen   uint64
}

func (s *slot) push(h *Handle) {
	s.q.Add(h)
	s.count++
}

// detach swaps in spare and starts a new generation. The returned queue
// belongs to the caller.
func (s *slot) detach(spare *queue.Queue) (*queue.Queue, int) {
	if spare == nil {
		spare = queue.New()
	}
	q, n := s.q, s.count
	s.q = spare
	s.count, s.dead = 0, 0
	s.gen++
	return q, n
}

// bury turns one live handle into a tombstone.
func (s *slot) bury() {
	s.count--
	s.dead++
	switch {
	case s.count == 0:
		s.reset()
	case s.dead > s.count+compactSlack:
		s.compact()
	}
}

func (s *slot) reset() {
	for s.q.Length() > 0 {
		s.q.Remove()
	}
	s.dead = 0
}

// compact drops tombstones, keeping FIFO order of live handles.
func (s *slot) compact() {
	for n := s.q.Length(); n > 0; n-- {
		h := s.q.Remove().(*Handle)
		if h.state.Load() == handleQueued {
			s.q.Add(h)
		}
	}
	s.dead = 0
}
