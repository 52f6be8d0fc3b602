// File: adapters/affinity_adapter.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
// Description:
//   Adapter implementing api.Affinity and api.Topology over a platform
//   provider, caching discovery and refusing CPUs outside the layout.
//
// Package adapters provides glue code between the core API contracts
// and the platform implementations.

package adapters

import (
	"fmt"
	"sync"

	"github.com/momentics/hioload-hpts/affinity"
	"github.com/momentics/hioload-hpts/api"
)

var (
	_ api.Affinity = (*AffinityAdapter)(nil)
	_ api.Topology = (*AffinityAdapter)(nil)
)

// Platform is a combined binder and topology source.
type Platform interface {
	api.Affinity
	api.Topology
}

// AffinityAdapter discovers the layout once and validates bind requests
// against it.
type AffinityAdapter struct {
	p Platform

	once    sync.Once
	layout  api.Layout
	allowed api.CPUSet
	err     error
}

// NewAffinityAdapter wraps p; nil means the host provider.
func NewAffinityAdapter(p Platform) *AffinityAdapter {
	if p == nil {
		p = affinity.NewSystem()
	}
	return &AffinityAdapter{p: p}
}

// Discover returns the cached layout.
func (a *AffinityAdapter) Discover() (api.Layout, error) {
	a.once.Do(func() {
		a.layout, a.err = a.p.Discover()
		ids := make([]int, 0, len(a.layout.CPUs))
		for _, c := range a.layout.CPUs {
			ids = append(ids, c.ID)
		}
		a.allowed = api.NewCPUSet(ids...)
	})
	return a.layout, a.err
}

// BindCurrentThread delegates to the platform after checking cpus.
func (a *AffinityAdapter) BindCurrentThread(cpus api.CPUSet) (api.CPUSet, error) {
	if _, err := a.Discover(); err != nil {
		return nil, err
	}
	if !cpus.SubsetOf(a.allowed) {
		return nil, fmt.Errorf("adapters: cpus %s outside %s: %w", cpus, a.allowed, api.ErrNoSuchCPU)
	}
	return a.p.BindCurrentThread(cpus)
}
