package plugins

import (
	"context"

	"munind.sh/internal/registry"
	"munind.sh/internal/stats"
)

// DiskIO reports cumulative bytes read and written. Reads are negated so
// they plot below the axis.
func DiskIO(ctx context.Context, src stats.Source) (*registry.Plot, error) {
	io, err := src.DiskIO(ctx)
	if err != nil {
		return nil, err
	}

	return &registry.Plot{
		Title:    "Disk I/O",
		Category: "storage",
		Period:   "second",
		Fields: []registry.Field{
			{
				Name:  "disk_read_bytes",
				Label: "disk_read_bytes",
				Type:  registry.TypeCounter,
				Draw:  registry.DrawArea,
				CDef:  negate("disk_read_bytes"),
				Value: float64(io.ReadBytes),
			},
			{
				Name:  "disk_write_bytes",
				Label: "disk_write_bytes",
				Type:  registry.TypeCounter,
				Draw:  registry.DrawArea,
				Value: float64(io.WriteBytes),
			},
		},
	}, nil
}

// DiskUsage reports used and free bytes of the filesystem mounted at path.
//
// The fields are typed COUNTER although the values go up and down; existing
// munin masters already store this graph that way.
func DiskUsage(path string) registry.CollectFunc {
	return func(ctx context.Context, src stats.Source) (*registry.Plot, error) {
		usage, err := src.DiskUsage(ctx, path)
		if err != nil {
			return nil, err
		}

		plot := &registry.Plot{
			Title:    "Disk usage",
			Category: "storage",
			Period:   "second",
		}
		for _, f := range []struct {
			name  string
			value uint64
		}{
			{"disk_used", usage.Used},
			{"disk_free", usage.Free},
		} {
			plot.Fields = append(plot.Fields, registry.Field{
				Name:  f.name,
				Label: f.name,
				Min:   "0",
				Type:  registry.TypeCounter,
				Draw:  registry.DrawAreaStack,
				Value: float64(f.value),
			})
		}
		return plot, nil
	}
}
