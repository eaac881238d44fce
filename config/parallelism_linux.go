//go:build linux

package config

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// DefaultWorkers returns the number of CPUs this process may run on, which
// can be fewer than the machine has when an affinity mask is set.
func DefaultWorkers() int {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err == nil {
		if n := set.Count(); n > 0 {
			return n
		}
	}
	return runtime.NumCPU()
}
