// Package stats reads raw operating-system statistics for the munin providers.
//
// The Source interface is the only thing providers see. Collector implements
// it on top of gopsutil; tests use the fake in internal/testutil.
package stats

import (
	"context"
	"errors"
	"time"
)

// ErrUnsupported is returned when the platform cannot supply a reading.
var ErrUnsupported = errors.New("statistic not supported on this platform")

// CPU time fields in the order munin graphs them.
const (
	CPUTimeSystem  = "system"
	CPUTimeIRQ     = "irq"
	CPUTimeSoftIRQ = "softirq"
	CPUTimeUser    = "user"
	CPUTimeIOWait  = "iowait"
	CPUTimeNice    = "nice"
	CPUTimeIdle    = "idle"
)

// CPUTimeFields lists every CPU time field a source may report.
var CPUTimeFields = []string{
	CPUTimeSystem,
	CPUTimeIRQ,
	CPUTimeSoftIRQ,
	CPUTimeUser,
	CPUTimeIOWait,
	CPUTimeNice,
	CPUTimeIdle,
}

// LoadAverage holds the 1, 5 and 15 minute load averages
type LoadAverage struct {
	Load1  float64
	Load5  float64
	Load15 float64
}

// Memory holds virtual memory readings in bytes
type Memory struct {
	Total     uint64
	Used      uint64
	Available uint64
}

// DiskIO holds cumulative disk I/O across all devices
type DiskIO struct {
	ReadBytes  uint64
	WriteBytes uint64
}

// DiskUsage holds filesystem usage for one mount point
type DiskUsage struct {
	Path  string
	Total uint64
	Used  uint64
	Free  uint64
}

// InterfaceIO holds cumulative byte counters for one network interface
type InterfaceIO struct {
	Name      string
	BytesSent uint64
	BytesRecv uint64
}

// Source supplies raw statistics on demand. Implementations must be safe for
// concurrent use; readings are synchronous and side-effect free.
type Source interface {
	// CPUPercent returns the utilisation of each logical CPU since the
	// previous call.
	CPUPercent(ctx context.Context) ([]float64, error)

	// CPUTimes returns cumulative seconds per CPU time field. Fields the
	// platform does not track are absent from the map.
	CPUTimes(ctx context.Context) (map[string]float64, error)

	LoadAverage(ctx context.Context) (*LoadAverage, error)
	Memory(ctx context.Context) (*Memory, error)
	DiskIO(ctx context.Context) (*DiskIO, error)
	DiskUsage(ctx context.Context, path string) (*DiskUsage, error)
	ProcessCount(ctx context.Context) (int, error)
	BootTime(ctx context.Context) (time.Time, error)

	// NetIO returns per-interface counters in the order the OS reports them.
	NetIO(ctx context.Context) ([]InterfaceIO, error)
}
