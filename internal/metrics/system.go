package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/adaptix/perf-manager/internal/types"
)

// SystemSampler reads host-level CPU, memory and disk utilization. It is the
// fallback source used when the embedding application does not inject its own
// health monitor, so worker-class response times and error rates stay empty.
type SystemSampler struct {
	diskPath string
	logger   *zap.Logger
}

// NewSystemSampler creates a sampler reading utilization for the host and
// disk usage for diskPath ("/" when empty).
func NewSystemSampler(diskPath string, logger *zap.Logger) *SystemSampler {
	if diskPath == "" {
		diskPath = "/"
	}
	return &SystemSampler{
		diskPath: diskPath,
		logger:   logger.Named("system-sampler"),
	}
}

// Sample collects a host utilization snapshot.
func (s *SystemSampler) Sample(ctx context.Context) (types.MetricsSnapshot, error) {
	// Zero interval compares against the previous call instead of blocking.
	cpuPercents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return types.MetricsSnapshot{}, fmt.Errorf("cpu utilization: %w", err)
	}
	var cpuPercent float64
	if len(cpuPercents) > 0 {
		cpuPercent = cpuPercents[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return types.MetricsSnapshot{}, fmt.Errorf("memory utilization: %w", err)
	}

	usage, err := disk.UsageWithContext(ctx, s.diskPath)
	if err != nil {
		return types.MetricsSnapshot{}, fmt.Errorf("disk usage for %s: %w", s.diskPath, err)
	}

	snapshot := types.MetricsSnapshot{
		CPUPercent:    cpuPercent,
		MemoryPercent: vm.UsedPercent,
		DiskPercent:   usage.UsedPercent,
		Timestamp:     time.Now(),
	}

	s.logger.Debug("Sampled system utilization",
		zap.Float64("cpu_percent", snapshot.CPUPercent),
		zap.Float64("memory_percent", snapshot.MemoryPercent),
		zap.Float64("disk_percent", snapshot.DiskPercent))

	return snapshot, nil
}
