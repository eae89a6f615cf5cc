// Package system reports host capacity used for worker sizing and for
// refusing work when the disk or memory is nearly exhausted.
package system

import (
	"context"
	"fmt"
	"runtime"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/keagan/artcannon/internal/errs"
)

// Snapshot is a point-in-time view of host resources
type Snapshot struct {
	LogicalCPUs     int     `json:"logical_cpus"`
	Load1           float64 `json:"load1"`
	MemoryAvailable uint64  `json:"memory_available"`
	MemoryUsedPct   float64 `json:"memory_used_pct"`
	DiskFree        uint64  `json:"disk_free"`
	DiskUsedPct     float64 `json:"disk_used_pct"`
}

// Monitor queries gopsutil for host capacity
type Monitor struct {
	logger zerolog.Logger
}

// NewMonitor creates a host monitor
func NewMonitor(logger zerolog.Logger) *Monitor {
	return &Monitor{logger: logger.With().Str("component", "system").Logger()}
}

// WorkerCount returns the configured count, or the number of logical CPUs
// when configured is not positive
func (m *Monitor) WorkerCount(ctx context.Context, configured int) int {
	if configured > 0 {
		return configured
	}
	n, err := cpu.CountsWithContext(ctx, true)
	if err != nil || n <= 0 {
		m.logger.Warn().Err(err).Msg("cpu count unavailable, using GOMAXPROCS")
		return runtime.GOMAXPROCS(0)
	}
	return n
}

// CheckDisk fails with ResourceExhausted when the filesystem holding path
// has less than minFree bytes available
func (m *Monitor) CheckDisk(ctx context.Context, path string, minFree uint64) error {
	if minFree == 0 {
		return nil
	}
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		// An unreadable mount is not proof of exhaustion
		m.logger.Debug().Err(err).Str("path", path).Msg("disk usage unavailable")
		return nil
	}
	if usage.Free < minFree {
		return errs.ResourceExhausted("check_disk", "disk",
			fmt.Errorf("%d bytes free on %s, need %d", usage.Free, path, minFree))
	}
	return nil
}

// CheckMemory fails with ResourceExhausted when less than minAvailable
// bytes of memory are available
func (m *Monitor) CheckMemory(ctx context.Context, minAvailable uint64) error {
	if minAvailable == 0 {
		return nil
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		m.logger.Debug().Err(err).Msg("memory stats unavailable")
		return nil
	}
	if vm.Available < minAvailable {
		return errs.ResourceExhausted("check_memory", "memory",
			fmt.Errorf("%d bytes available, need %d", vm.Available, minAvailable))
	}
	return nil
}

// Snapshot collects what gopsutil can report; unavailable fields stay zero
func (m *Monitor) Snapshot(ctx context.Context, path string) Snapshot {
	var s Snapshot
	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		s.LogicalCPUs = n
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		s.Load1 = avg.Load1
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		s.MemoryAvailable = vm.Available
		s.MemoryUsedPct = vm.UsedPercent
	}
	if usage, err := disk.UsageWithContext(ctx, path); err == nil {
		s.DiskFree = usage.Free
		s.DiskUsedPct = usage.UsedPercent
	}
	return s
}
