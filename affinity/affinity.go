// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral API for CPU affinity and topology discovery. Platform-specific
// implementations are located in separate files (affinity_linux.go,
// affinity_windows.go, etc.) guarded by build tags.

package affinity

import (
	"fmt"
	"runtime"

	"github.com/momentics/hioload-hpts/api"
)

var (
	_ api.Affinity = (*System)(nil)
	_ api.Topology = (*System)(nil)
)

// DefaultSysfsRoot is where Linux publishes NUMA node membership.
const DefaultSysfsRoot = "/sys/devices/system/node"

// System implements api.Affinity and api.Topology for the running OS.
type System struct {
	// SysfsRoot overrides DefaultSysfsRoot (tests point it at a fixture).
	SysfsRoot string
}

// NewSystem returns the host affinity/topology provider.
func NewSystem() *System {
	return &System{SysfsRoot: DefaultSysfsRoot}
}

// BindCurrentThread pins the calling OS thread to cpus.
func (s *System) BindCurrentThread(cpus api.CPUSet) (api.CPUSet, error) {
	if len(cpus) == 0 {
		return nil, fmt.Errorf("affinity: empty cpu set: %w", api.ErrInvalidArgument)
	}
	return bindPlatform(cpus)
}

// Discover lists the CPUs this process may run on and their NUMA domains.
func (s *System) Discover() (api.Layout, error) {
	cpus, err := availablePlatform()
	if err != nil {
		return api.Layout{}, fmt.Errorf("affinity: enumerate cpus: %w", err)
	}
	if len(cpus) == 0 {
		cpus = sequential(runtime.NumCPU())
	}
	domainOf, err := domainsPlatform(s.root())
	if err != nil {
		return api.Layout{}, fmt.Errorf("affinity: numa domains: %w", err)
	}
	layout := api.Layout{CPUs: make([]api.CPU, 0, len(cpus))}
	for _, c := range cpus {
		layout.CPUs = append(layout.CPUs, api.CPU{ID: c, Domain: domainOf[c]})
	}
	return layout, nil
}

func (s *System) root() string {
	if s.SysfsRoot == "" {
		return DefaultSysfsRoot
	}
	return s.SysfsRoot
}

func sequential(n int) api.CPUSet {
	out := make(api.CPUSet, n)
	for i := range out {
		out[i] = i
	}
	return out
}
