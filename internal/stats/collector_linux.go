//go:build linux

package stats

import "github.com/shirou/gopsutil/v3/cpu"

// Linux accounts for every CPU time field in /proc/stat.
func supportedCPUTimes(t cpu.TimesStat) map[string]float64 {
	return map[string]float64{
		CPUTimeSystem:  t.System,
		CPUTimeIRQ:     t.Irq,
		CPUTimeSoftIRQ: t.Softirq,
		CPUTimeUser:    t.User,
		CPUTimeIOWait:  t.Iowait,
		CPUTimeNice:    t.Nice,
		CPUTimeIdle:    t.Idle,
	}
}
