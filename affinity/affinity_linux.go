//go:build linux
// +build linux

// File: affinity/affinity_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux-specific implementation for setting thread CPU affinity.

package affinity

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-hpts/api"
)

// bindPlatform sets the calling thread's affinity and reads it back.
func bindPlatform(cpus api.CPUSet) (api.CPUSet, error) {
	var set unix.CPUSet
	set.Zero()
	for _, c := range cpus {
		set.Set(c)
	}
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return nil, fmt.Errorf("affinity: sched_setaffinity(%s): %w", cpus, err)
	}
	return availablePlatform()
}

// availablePlatform returns the calling thread's current affinity mask.
func availablePlatform() (api.CPUSet, error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return nil, fmt.Errorf("affinity: sched_getaffinity: %w", err)
	}
	limit := int(unsafe.Sizeof(set)) * 8
	out := make(api.CPUSet, 0, set.Count())
	for c := 0; c < limit; c++ {
		if set.IsSet(c) {
			out = append(out, c)
		}
	}
	return out, nil
}

func domainsPlatform(root string) (map[int]int, error) {
	return readSysfsDomains(root)
}
