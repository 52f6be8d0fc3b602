// File: hpts/placement.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Entry selection for new registrations.

package hpts

import "github.com/zeebo/xxh3"

// place picks the entry for it; caller holds it.mu. Order: explicit hint,
// flow hash, sticky CPU, round robin. Degraded entries redirect to the
// fallback entry.
func (r *Registry) place(it *Item, hint int) *entry {
	var e *entry
	switch {
	case hint >= 0:
		e = r.byCPU[hint]
	case it.flow != "":
		e = r.entries[xxh3.HashString(it.flow)%uint64(len(r.entries))]
	case it.cpu >= 0:
		e = r.byCPU[it.cpu]
	}
	if e == nil {
		e = r.entries[(r.rr.Add(1)-1)%uint64(len(r.entries))]
	}
	it.cpu = e.cpu

	if e.degraded.Load() {
		if fb := r.fallback.Load(); fb != nil && fb != e {
			e.stats.redirected.Add(1)
			r.warn.Warn("redirect").
				Int("from_cpu", e.cpu).
				Int("to_cpu", fb.cpu).
				Msg("entry degraded, registration redirected")
			return fb
		}
	}
	return e
}

// pickFallback selects the entry that absorbs degraded entries' work:
// the configured CPU if healthy, else the first healthy entry.
func (r *Registry) pickFallback() {
	var fb *entry
	if cpu := r.cfg.FallbackCPU; cpu >= 0 {
		if e := r.byCPU[cpu]; e != nil && !e.degraded.Load() {
			fb = e
		}
	}
	if fb == nil {
		for _, e := range r.entries {
			if !e.degraded.Load() {
				fb = e
				break
			}
		}
	}
	r.fallback.Store(fb)
}
