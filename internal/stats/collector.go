package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
)

// Collector reads statistics from the local host using gopsutil
type Collector struct{}

// NewCollector creates a new host statistics collector
func NewCollector() *Collector {
	return &Collector{}
}

var _ Source = (*Collector)(nil)

// CPUPercent returns per-CPU utilisation without blocking. gopsutil keeps the
// previous sample, so the first call after start measures since boot.
func (c *Collector) CPUPercent(ctx context.Context) ([]float64, error) {
	percentages, err := cpu.PercentWithContext(ctx, 0, true)
	if err != nil {
		return nil, fmt.Errorf("failed to read cpu percent: %w", err)
	}
	return percentages, nil
}

func (c *Collector) CPUTimes(ctx context.Context) (map[string]float64, error) {
	times, err := cpu.TimesWithContext(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("failed to read cpu times: %w", err)
	}
	if len(times) == 0 {
		return nil, fmt.Errorf("failed to read cpu times: %w", ErrUnsupported)
	}
	return supportedCPUTimes(times[0]), nil
}

func (c *Collector) LoadAverage(ctx context.Context) (*LoadAverage, error) {
	avg, err := load.AvgWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read load average: %w", err)
	}
	return &LoadAverage{Load1: avg.Load1, Load5: avg.Load5, Load15: avg.Load15}, nil
}

func (c *Collector) Memory(ctx context.Context) (*Memory, error) {
	vmStat, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read virtual memory: %w", err)
	}
	return &Memory{
		Total:     vmStat.Total,
		Used:      vmStat.Used,
		Available: vmStat.Available,
	}, nil
}

// DiskIO sums the counters of every block device the OS reports.
func (c *Collector) DiskIO(ctx context.Context) (*DiskIO, error) {
	counters, err := disk.IOCountersWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read disk io counters: %w", err)
	}

	total := &DiskIO{}
	for _, counter := range counters {
		total.ReadBytes += counter.ReadBytes
		total.WriteBytes += counter.WriteBytes
	}
	return total, nil
}

func (c *Collector) DiskUsage(ctx context.Context, path string) (*DiskUsage, error) {
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read disk usage for %s: %w", path, err)
	}
	return &DiskUsage{
		Path:  usage.Path,
		Total: usage.Total,
		Used:  usage.Used,
		Free:  usage.Free,
	}, nil
}

func (c *Collector) ProcessCount(ctx context.Context) (int, error) {
	pids, err := process.PidsWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list processes: %w", err)
	}
	return len(pids), nil
}

func (c *Collector) BootTime(ctx context.Context) (time.Time, error) {
	boot, err := host.BootTimeWithContext(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read boot time: %w", err)
	}
	return time.Unix(int64(boot), 0), nil
}

func (c *Collector) NetIO(ctx context.Context) ([]InterfaceIO, error) {
	counters, err := net.IOCountersWithContext(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("failed to read network counters: %w", err)
	}

	interfaces := make([]InterfaceIO, 0, len(counters))
	for _, counter := range counters {
		interfaces = append(interfaces, InterfaceIO{
			Name:      counter.Name,
			BytesSent: counter.BytesSent,
			BytesRecv: counter.BytesRecv,
		})
	}
	return interfaces, nil
}
