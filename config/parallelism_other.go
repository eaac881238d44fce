//go:build !linux

package config

import "runtime"

// DefaultWorkers returns the number of logical CPUs
func DefaultWorkers() int {
	return runtime.NumCPU()
}
