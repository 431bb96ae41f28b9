// Package registry runs the metric providers and publishes their results as
// immutable snapshots.
//
// A refresh invokes every provider once, builds a fresh Snapshot and swaps it
// in atomically. Readers grab the current snapshot and never see one that is
// half built.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"munind.sh/internal/metrics"
	"munind.sh/internal/stats"
)

// CollectFunc reads the source and returns one graph's plot for this cycle.
// It must not retain or mutate shared state.
type CollectFunc func(ctx context.Context, src stats.Source) (*Plot, error)

// Provider computes exactly one graph
type Provider struct {
	Name    string
	Collect CollectFunc
}

// Option configures a Registry
type Option func(*Registry)

// WithLogger sets the logger used for provider failures
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetrics reports refresh and provider timings to m
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// WithClock overrides the snapshot timestamp source
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// Registry owns the provider set and the current snapshot
type Registry struct {
	src       stats.Source
	providers []Provider
	current   atomic.Pointer[Snapshot]
	group     singleflight.Group

	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// New creates a registry over a fixed provider list. Provider names must be
// unique and non-empty.
func New(src stats.Source, providers []Provider, opts ...Option) (*Registry, error) {
	if src == nil {
		return nil, errors.New("registry: nil statistics source")
	}

	seen := make(map[string]bool, len(providers))
	for _, p := range providers {
		if p.Name == "" {
			return nil, errors.New("registry: provider with empty name")
		}
		if p.Collect == nil {
			return nil, fmt.Errorf("registry: provider %s has no collect function", p.Name)
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("registry: duplicate provider %s", p.Name)
		}
		seen[p.Name] = true
	}

	r := &Registry{
		src:       src,
		providers: append([]Provider(nil), providers...),
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.current.Store(emptySnapshot())
	return r, nil
}

// Providers returns the registered provider names in enumeration order
func (r *Registry) Providers() []string {
	names := make([]string, 0, len(r.providers))
	for _, p := range r.providers {
		names = append(names, p.Name)
	}
	return names
}

// Refresh runs one polling cycle. Callers that arrive while a refresh is in
// flight wait for it and share its result. Provider failures never fail the
// refresh; only cancellation of ctx does, in which case nothing is published.
func (r *Registry) Refresh(ctx context.Context) error {
	_, err, _ := r.group.Do("refresh", func() (any, error) {
		return nil, r.refresh(ctx)
	})
	return err
}

func (r *Registry) refresh(ctx context.Context) error {
	start := time.Now()
	prev := r.current.Load()
	b := newBuilder(r.now())

	for _, p := range r.providers {
		if err := ctx.Err(); err != nil {
			return err
		}

		providerStart := time.Now()
		plot, err := r.collect(ctx, p)
		r.metrics.RecordProvider(p.Name, err, time.Since(providerStart))

		if err != nil {
			kept := b.carry(p.Name, prev)
			r.logger.Warn("Provider failed",
				zap.String("provider", p.Name),
				zap.Bool("kept_previous", kept),
				zap.Error(err),
			)
			continue
		}
		b.addPlot(p.Name, plot)
	}

	r.current.Store(b.snap)
	r.metrics.RecordRefresh(len(b.snap.order), time.Since(start))
	r.logger.Debug("Registry refreshed",
		zap.Int("graphs", len(b.snap.order)),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

func (r *Registry) collect(ctx context.Context, p Provider) (plot *Plot, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			plot, err = nil, fmt.Errorf("provider %s panicked: %v", p.Name, rec)
		}
	}()

	plot, err = p.Collect(ctx, r.src)
	if err == nil && plot == nil {
		err = fmt.Errorf("provider %s returned no plot", p.Name)
	}
	return plot, err
}

// Snapshot returns the current snapshot; never nil
func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load()
}

// ListGraphs returns the known graph names
func (r *Registry) ListGraphs() []string {
	return r.Snapshot().Graphs()
}

// GraphMembers returns the ordered member list of a graph
func (r *Registry) GraphMembers(name string) ([]string, error) {
	return r.Snapshot().Members(name)
}

// GraphConfig returns the configuration block of a graph
func (r *Registry) GraphConfig(name string) ([]string, error) {
	return r.Snapshot().Config(name)
}

// MeasurementValue returns the current value of a measurement
func (r *Registry) MeasurementValue(name string) Measurement {
	return r.Snapshot().Value(name)
}
