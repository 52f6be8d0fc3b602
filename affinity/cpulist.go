// File: affinity/cpulist.go
// Author: momentics <momentics@gmail.com>
//
// Parser for the kernel cpulist format ("0-3,8,10-11").

package affinity

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/momentics/hioload-hpts/api"
)

// ParseCPUList parses a cpulist string into a CPUSet.
func ParseCPUList(s string) (api.CPUSet, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return api.CPUSet{}, nil
	}
	var ids []int
	for _, part := range strings.Split(s, ",") {
		lo, hi, isRange := strings.Cut(part, "-")
		a, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil || a < 0 {
			return nil, fmt.Errorf("affinity: bad cpulist element %q", part)
		}
		b := a
		if isRange {
			b, err = strconv.Atoi(strings.TrimSpace(hi))
			if err != nil || b < a {
				return nil, fmt.Errorf("affinity: bad cpulist range %q", part)
			}
		}
		for c := a; c <= b; c++ {
			ids = append(ids, c)
		}
	}
	return api.NewCPUSet(ids...), nil
}
