// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package fake

import (
	"fmt"
	"sync"

	"github.com/momentics/hioload-hpts/api"
)

var (
	_ api.Affinity = (*Affinity)(nil)
	_ api.Topology = (*Topology)(nil)
)

// Bind records one BindCurrentThread call.
type Bind struct {
	Requested api.CPUSet
	Granted   api.CPUSet
	Err       error
}

// Affinity records bindings instead of touching the OS.
type Affinity struct {
	mu    sync.Mutex
	fail  map[int]bool
	binds []Bind
}

// NewAffinity creates a recorder; binds touching any of failing CPUs error out.
func NewAffinity(failing ...int) *Affinity {
	a := &Affinity{fail: make(map[int]bool)}
	for _, c := range failing {
		a.fail[c] = true
	}
	return a
}

func (a *Affinity) BindCurrentThread(cpus api.CPUSet) (api.CPUSet, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, c := range cpus {
		if a.fail[c] {
			err := fmt.Errorf("fake: bind cpu %d: %w", c, api.ErrBindFailed)
			a.binds = append(a.binds, Bind{Requested: cpus, Err: err})
			return nil, err
		}
	}
	granted := api.NewCPUSet(cpus...)
	a.binds = append(a.binds, Bind{Requested: cpus, Granted: granted})
	return granted, nil
}

// Binds returns a copy of the recorded calls.
func (a *Affinity) Binds() []Bind {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Bind(nil), a.binds...)
}

// Topology returns a fixed layout, or Err.
type Topology struct {
	Layout api.Layout
	Err    error
}

// NewTopology builds a layout where domains[i] lists the CPUs of domain i.
func NewTopology(domains ...[]int) *Topology {
	t := &Topology{}
	for d, cpus := range domains {
		for _, c := range cpus {
			t.Layout.CPUs = append(t.Layout.CPUs, api.CPU{ID: c, Domain: d})
		}
	}
	return t
}

func (t *Topology) Discover() (api.Layout, error) {
	if t.Err != nil {
		return api.Layout{}, t.Err
	}
	return t.Layout, nil
}
