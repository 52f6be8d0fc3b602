// Package api
// Author: momentics@gmail.com
//
// CPU/NUMA affinity, thread pinning and topology definitions.

package api

import (
	"slices"
	"strconv"
	"strings"
)

// CPUSet is a sorted, duplicate-free list of logical CPU ids.
type CPUSet []int

// NewCPUSet normalizes ids into a CPUSet.
func NewCPUSet(ids ...int) CPUSet {
	s := slices.Clone(ids)
	slices.Sort(s)
	return CPUSet(slices.Compact(s))
}

// Contains reports whether cpu is a member of the set.
func (s CPUSet) Contains(cpu int) bool {
	_, ok := slices.BinarySearch(s, cpu)
	return ok
}

// SubsetOf reports whether every member of s is in other.
func (s CPUSet) SubsetOf(other CPUSet) bool {
	for _, c := range s {
		if !other.Contains(c) {
			return false
		}
	}
	return true
}

// String renders the set in the kernel cpulist form, e.g. "0-3,8".
func (s CPUSet) String() string {
	var b strings.Builder
	for i := 0; i < len(s); {
		j := i
		for j+1 < len(s) && s[j+1] == s[j]+1 {
			j++
		}
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(s[i]))
		if j > i {
			b.WriteByte('-')
			b.WriteString(strconv.Itoa(s[j]))
		}
		i = j + 1
	}
	return b.String()
}

// Affinity binds the calling OS thread to a set of CPUs.
// Callers must hold runtime.LockOSThread for the binding to stick to a goroutine.
type Affinity interface {
	// BindCurrentThread restricts the calling thread to cpus and returns the
	// binding the OS reports after the call.
	BindCurrentThread(cpus CPUSet) (CPUSet, error)
}

// CPU describes one logical processor.
type CPU struct {
	ID     int
	Domain int
}

// Layout is the discovered CPU/NUMA topology.
type Layout struct {
	CPUs []CPU
}

// Domains groups CPU ids by NUMA domain.
func (l Layout) Domains() map[int]CPUSet {
	out := make(map[int]CPUSet)
	for _, c := range l.CPUs {
		out[c.Domain] = append(out[c.Domain], c.ID)
	}
	for d, s := range out {
		out[d] = NewCPUSet(s...)
	}
	return out
}

// Topology enumerates the CPUs available to the process.
type Topology interface {
	Discover() (Layout, error)
}
