package plugins

import (
	"context"

	"munind.sh/internal/registry"
	"munind.sh/internal/stats"
)

// Network reports bytes sent and received for every interface, received
// negated below the axis.
func Network(ctx context.Context, src stats.Source) (*registry.Plot, error) {
	interfaces, err := src.NetIO(ctx)
	if err != nil {
		return nil, err
	}

	plot := &registry.Plot{
		Title:    "Network",
		Category: "network",
		Period:   "second",
	}
	for _, iface := range interfaces {
		sent := "bytes_sent_" + iface.Name
		recv := "bytes_recv_" + iface.Name
		plot.Fields = append(plot.Fields,
			registry.Field{
				Name:  sent,
				Label: registry.FieldName(sent),
				Type:  registry.TypeCounter,
				Draw:  registry.DrawLine2,
				Value: float64(iface.BytesSent),
			},
			registry.Field{
				Name:  recv,
				Label: registry.FieldName(recv),
				Type:  registry.TypeCounter,
				Draw:  registry.DrawLine2,
				CDef:  negate(recv),
				Value: float64(iface.BytesRecv),
			},
		)
	}
	return plot, nil
}
