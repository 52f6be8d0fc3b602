// control/platform.go
// Author: momentics <momentics@gmail.com>
//
// Platform topology probes.

package control

import (
	"runtime"
	"strconv"

	"github.com/momentics/hioload-hpts/api"
)

// RegisterPlatformProbes exposes the discovered CPU layout.
func RegisterPlatformProbes(dp *DebugProbes, layout api.Layout) {
	dp.RegisterProbe("platform.cpus", func() any {
		return runtime.NumCPU()
	})
	dp.RegisterProbe("platform.gomaxprocs", func() any {
		return runtime.GOMAXPROCS(0)
	})
	domains := layout.Domains()
	dp.RegisterProbe("platform.numa", func() any {
		out := make(map[string]string, len(domains))
		for d, cpus := range domains {
			out[strconv.Itoa(d)] = cpus.String()
		}
		return out
	})
}

