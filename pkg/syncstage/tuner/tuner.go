// Package tuner detects CPU and memory and derives worker pool sizes for
// scanning, hashing and applying from them.
package tuner

import (
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// defaultTotalRAM is assumed when memory detection fails.
const defaultTotalRAM = 8 * 1024 * 1024 * 1024

// SystemResources contains detected system resources.
type SystemResources struct {
	// CPUCores is the number of logical CPU cores available.
	CPUCores int

	// TotalRAM is the total physical RAM in bytes.
	TotalRAM int64

	// AvailableRAM is the RAM in bytes that can be allocated without
	// swapping, as reported by the OS.
	AvailableRAM int64
}

// Detect reads the core count and memory figures. When memory cannot be
// read it returns conservative defaults together with the error, so the
// result is always usable.
func Detect() (SystemResources, error) {
	res := SystemResources{CPUCores: runtime.NumCPU()}
	if n, err := cpu.Counts(true); err == nil && n > 0 {
		res.CPUCores = min(n, runtime.NumCPU())
	}

	vm, err := mem.VirtualMemory()
	if err != nil || vm.Total == 0 {
		res.TotalRAM = defaultTotalRAM
		res.AvailableRAM = defaultTotalRAM / 2
		if err == nil {
			err = fmt.Errorf("no memory figures reported")
		}
		return res, fmt.Errorf("detecting memory: %w", err)
	}

	res.TotalRAM = int64(vm.Total)
	res.AvailableRAM = int64(vm.Available)
	if res.AvailableRAM <= 0 || res.AvailableRAM > res.TotalRAM {
		res.AvailableRAM = res.TotalRAM / 2
	}
	return res, nil
}
