//go:build windows
// +build windows

// File: affinity/affinity_windows.go
// Author: momentics <momentics@gmail.com>
//
// Windows-specific implementation for setting thread CPU affinity.
// NUMA-awareness is not supported on Windows in this build.

package affinity

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/windows"

	"github.com/momentics/hioload-hpts/api"
)

var (
	modkernel32               = windows.NewLazySystemDLL("kernel32.dll")
	procSetThreadAffinityMask = modkernel32.NewProc("SetThreadAffinityMask")
)

// bindPlatform applies a single-group affinity mask; CPUs beyond 63 are rejected.
func bindPlatform(cpus api.CPUSet) (api.CPUSet, error) {
	var mask uintptr
	for _, c := range cpus {
		if c < 0 || c >= 64 {
			return nil, fmt.Errorf("affinity: cpu %d outside processor group 0: %w", c, api.ErrNotSupported)
		}
		mask |= uintptr(1) << uint(c)
	}
	old, _, err := procSetThreadAffinityMask.Call(uintptr(windows.CurrentThread()), mask)
	if old == 0 {
		return nil, fmt.Errorf("affinity: SetThreadAffinityMask(%s): %v", cpus, err)
	}
	return cpus, nil
}

func availablePlatform() (api.CPUSet, error) {
	return sequential(runtime.NumCPU()), nil
}

func domainsPlatform(string) (map[int]int, error) {
	return map[int]int{}, nil
}
