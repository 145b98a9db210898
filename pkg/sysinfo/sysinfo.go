// Package sysinfo wraps gopsutil to answer the two questions the admin
// API needs: overall system load, and one worker's process-tree memory
// footprint. It is the concrete form of the "platform abstraction" the
// admin surface delegates to for anything host-specific.
package sysinfo

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

// System is a snapshot of host-wide resource usage.
type System struct {
	MemoryTotalMB     float64 `json:"memory_total_mb"`
	MemoryUsedMB      float64 `json:"memory_used_mb"`
	MemoryUsedPercent float64 `json:"memory_used_percent"`
	CPUCount          int     `json:"cpu_count"`
	LoadAverage1      float64 `json:"load_average_1m"`
	LoadAverage5      float64 `json:"load_average_5m"`
	LoadAverage15     float64 `json:"load_average_15m"`
}

// Snapshot collects a System reading. Fields that are unsupported on
// the current platform (e.g. load average on Windows) are left zero
// rather than failing the whole snapshot.
func Snapshot(ctx context.Context) (System, error) {
	var s System

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return System{}, fmt.Errorf("read virtual memory: %w", err)
	}
	s.MemoryTotalMB = bytesToMB(vm.Total)
	s.MemoryUsedMB = bytesToMB(vm.Used)
	s.MemoryUsedPercent = vm.UsedPercent

	counts, err := cpu.CountsWithContext(ctx, true)
	if err != nil {
		return System{}, fmt.Errorf("read cpu count: %w", err)
	}
	s.CPUCount = counts

	if avg, err := load.AvgWithContext(ctx); err == nil && avg != nil {
		s.LoadAverage1 = avg.Load1
		s.LoadAverage5 = avg.Load5
		s.LoadAverage15 = avg.Load15
	}

	return s, nil
}

// TreeRSSMB returns the resident set size, in megabytes, of pid and
// every descendant process. Workers may fork helper processes, so a
// single-process reading would understate real usage.
func TreeRSSMB(ctx context.Context, pid int32) (float64, error) {
	root, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return 0, fmt.Errorf("lookup process %d: %w", pid, err)
	}

	var total uint64
	seen := map[int32]struct{}{}
	var walk func(p *process.Process)
	walk = func(p *process.Process) {
		if _, ok := seen[p.Pid]; ok {
			return
		}
		seen[p.Pid] = struct{}{}

		if mi, err := p.MemoryInfoWithContext(ctx); err == nil && mi != nil {
			total += mi.RSS
		}

		children, err := p.ChildrenWithContext(ctx)
		if err != nil {
			return
		}
		for _, c := range children {
			walk(c)
		}
	}
	walk(root)

	return bytesToMB(total), nil
}

func bytesToMB(b uint64) float64 {
	return float64(b) / (1024 * 1024)
}
