package plugins

import (
	"context"
	"fmt"
	"time"

	"munind.sh/internal/registry"
	"munind.sh/internal/stats"
)

// CPU reports per-CPU utilisation as stacked gauges
func CPU(ctx context.Context, src stats.Source) (*registry.Plot, error) {
	percentages, err := src.CPUPercent(ctx)
	if err != nil {
		return nil, err
	}

	plot := &registry.Plot{
		Title:    "CPU usage",
		VLabel:   "%",
		Category: "system",
		Period:   "second",
	}
	for n, pct := range percentages {
		name := fmt.Sprintf("cpu%d", n)
		plot.Fields = append(plot.Fields, registry.Field{
			Name:  name,
			Label: name,
			Min:   "0",
			Type:  registry.TypeGauge,
			Draw:  registry.DrawAreaStack,
			Info:  name,
			Value: pct,
		})
	}
	return plot, nil
}

// CPUTimes reports cumulative CPU time for the modes the source tracks.
// The first mode is drawn as an area and the rest stack on top of it.
func CPUTimes(ctx context.Context, src stats.Source) (*registry.Plot, error) {
	times, err := src.CPUTimes(ctx)
	if err != nil {
		return nil, err
	}

	plot := &registry.Plot{
		Title:    "CPU times",
		Order:    true,
		Category: "system",
		Period:   "second",
	}
	draw := registry.DrawArea
	for _, mode := range stats.CPUTimeFields {
		seconds, ok := times[mode]
		if !ok {
			continue
		}
		plot.Fields = append(plot.Fields, registry.Field{
			Name:  mode,
			Label: mode,
			Min:   "0",
			Type:  registry.TypeCounter,
			Draw:  draw,
			Info:  "CPU time spent in " + mode + " mode",
			Value: seconds,
		})
		draw = registry.DrawStack
	}
	return plot, nil
}

// Load reports the 1 and 15 minute load averages
func Load(ctx context.Context, src stats.Source) (*registry.Plot, error) {
	avg, err := src.LoadAverage(ctx)
	if err != nil {
		return nil, err
	}

	return &registry.Plot{
		Title:    "Load average",
		Category: "system",
		Fields: []registry.Field{
			{
				Name:   "load_avg_1min",
				Label:  "load_average",
				Min:    "0",
				Type:   registry.TypeGauge,
				Draw:   registry.DrawArea,
				Info:   "Number of processes waiting to run",
				Value:  avg.Load1,
				Format: registry.FormatFixed2,
			},
			{
				Name:   "load_avg_15min",
				Label:  "load_average",
				Min:    "0",
				Type:   registry.TypeGauge,
				Draw:   registry.DrawLine,
				Value:  avg.Load15,
				Format: registry.FormatFixed2,
			},
		},
	}, nil
}

// Memory reports used and available bytes stacked
func Memory(ctx context.Context, src stats.Source) (*registry.Plot, error) {
	m, err := src.Memory(ctx)
	if err != nil {
		return nil, err
	}

	return &registry.Plot{
		Title:    "Memory",
		Order:    true,
		Category: "system",
		Period:   "second",
		Fields: []registry.Field{
			{
				Name:  "memory_used",
				Label: "in use",
				Min:   "0",
				Type:  registry.TypeGauge,
				Draw:  registry.DrawArea,
				Value: float64(m.Used),
			},
			{
				Name:  "memory_available",
				Label: "available",
				Type:  registry.TypeGauge,
				Draw:  registry.DrawStack,
				Value: float64(m.Available),
			},
		},
	}, nil
}

// Processes reports the number of processes on the host
func Processes(ctx context.Context, src stats.Source) (*registry.Plot, error) {
	n, err := src.ProcessCount(ctx)
	if err != nil {
		return nil, err
	}

	return &registry.Plot{
		Title:    "Number of processes",
		Args:     "--base 1000 -r --lower-limit 0 --upper-limit 200",
		Category: "system",
		Period:   "second",
		Fields: []registry.Field{
			{
				Name:  "processes",
				Label: "num_processes",
				Type:  registry.TypeGauge,
				Value: float64(n),
			},
		},
	}, nil
}

// Uptime reports seconds since boot relative to now
func Uptime(now func() time.Time) registry.CollectFunc {
	return func(ctx context.Context, src stats.Source) (*registry.Plot, error) {
		boot, err := src.BootTime(ctx)
		if err != nil {
			return nil, err
		}

		return &registry.Plot{
			Title:    "Uptime",
			Category: "system",
			Period:   "second",
			Fields: []registry.Field{
				{
					Name:  "uptime",
					Label: "uptime",
					Type:  registry.TypeGauge,
					Value: now().Sub(boot).Seconds(),
				},
			},
		}, nil
	}
}
