// Package plugins holds the built-in munin graph providers.
package plugins

import (
	"time"

	"munind.sh/internal/registry"
)

// Graph names, in registration order
const (
	GraphCPU       = "cpu"
	GraphCPUTimes  = "cpu-times"
	GraphLoad      = "load"
	GraphMemory    = "memory"
	GraphDiskIO    = "disk-io"
	GraphDiskUsage = "disk-usage"
	GraphProcesses = "processes"
	GraphUptime    = "uptime"
	GraphNetwork   = "network"
)

// Options tunes the built-in providers
type Options struct {
	// DiskPath is the mount point reported by disk-usage. Defaults to "/".
	DiskPath string

	// Now is the clock uptime is measured against. Defaults to time.Now.
	Now func() time.Time
}

// Default returns every built-in provider in enumeration order
func Default(opts Options) []registry.Provider {
	if opts.DiskPath == "" {
		opts.DiskPath = "/"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return []registry.Provider{
		{Name: GraphCPU, Collect: CPU},
		{Name: GraphCPUTimes, Collect: CPUTimes},
		{Name: GraphLoad, Collect: Load},
		{Name: GraphMemory, Collect: Memory},
		{Name: GraphDiskIO, Collect: DiskIO},
		{Name: GraphDiskUsage, Collect: DiskUsage(opts.DiskPath)},
		{Name: GraphProcesses, Collect: Processes},
		{Name: GraphUptime, Collect: Uptime(opts.Now)},
		{Name: GraphNetwork, Collect: Network},
	}
}

// negate is the cdef that plots a series below the axis
func negate(name string) string {
	return "0," + registry.FieldName(name) + ",-"
}
