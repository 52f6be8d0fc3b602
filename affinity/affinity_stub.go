//go:build !linux && !windows
// +build !linux,!windows

// File: affinity/affinity_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub implementation for unsupported platforms.
// Binding returns an error; topology is a single domain.

package affinity

import (
	"runtime"

	"github.com/momentics/hioload-hpts/api"
)

func bindPlatform(api.CPUSet) (api.CPUSet, error) {
	return nil, api.ErrNotSupported
}

func availablePlatform() (api.CPUSet, error) {
	return sequential(runtime.NumCPU()), nil
}

func domainsPlatform(string) (map[int]int, error) {
	return map[int]int{}, nil
}
