//go:build !linux

package stats

import (
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
)

// Outside Linux gopsutil only fills a subset of the time fields; the rest
// stay zero and are not reported.
func supportedCPUTimes(t cpu.TimesStat) map[string]float64 {
	times := map[string]float64{
		CPUTimeSystem: t.System,
		CPUTimeUser:   t.User,
		CPUTimeIdle:   t.Idle,
	}

	switch runtime.GOOS {
	case "windows":
		times[CPUTimeIRQ] = t.Irq
	default:
		times[CPUTimeNice] = t.Nice
	}
	return times
}
