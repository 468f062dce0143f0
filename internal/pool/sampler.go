package pool

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// Usage is a host resource reading in percent.
type Usage struct {
	MemoryPct float64
	CPUPct    float64
}

// Sampler reads host resource usage for the autoscaler.
type Sampler interface {
	Sample() (Usage, error)
}

// systemSampler reads memory from sysinfo and approximates CPU pressure
// from the one-minute load average relative to the core count.
type systemSampler struct{}

func (systemSampler) Sample() (Usage, error) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return Usage{}, fmt.Errorf("sysinfo: %w", err)
	}
	unit := uint64(info.Unit)
	if unit == 0 {
		unit = 1
	}
	total := uint64(info.Totalram) * unit
	free := (uint64(info.Freeram) + uint64(info.Bufferram)) * unit
	usage := Usage{}
	if total > 0 {
		usage.MemoryPct = float64(total-free) / float64(total) * 100
	}

	// Loads are fixed-point with a 16-bit fraction.
	load := float64(info.Loads[0]) / 65536.0
	cores := float64(runtime.NumCPU())
	if cores > 0 {
		usage.CPUPct = load / cores * 100
	}
	if usage.CPUPct > 100 {
		usage.CPUPct = 100
	}
	return usage, nil
}
