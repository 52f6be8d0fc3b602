// File: affinity/numa_sysfs.go
// Author: momentics <momentics@gmail.com>
//
// NUMA node membership read from sysfs node directories.

package affinity

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// readSysfsDomains maps cpu id -> node id using <root>/nodeN/cpulist.
// A missing root yields an empty map (single implicit domain 0).
func readSysfsDomains(root string) (map[int]int, error) {
	out := make(map[int]int)
	dirs, err := filepath.Glob(filepath.Join(root, "node[0-9]*"))
	if err != nil {
		return nil, err
	}
	for _, dir := range dirs {
		node, err := strconv.Atoi(strings.TrimPrefix(filepath.Base(dir), "node"))
		if err != nil {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, "cpulist"))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		cpus, err := ParseCPUList(string(raw))
		if err != nil {
			return nil, err
		}
		for _, c := range cpus {
			out[c] = node
		}
	}
	return out, nil
}
