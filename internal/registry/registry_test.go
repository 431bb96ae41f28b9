package registry_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"munind.sh/internal/metrics"
	"munind.sh/internal/registry"
	"munind.sh/internal/stats"
	fake "munind.sh/internal/testutil"
)

func constProvider(name string, fields ...registry.Field) registry.Provider {
	return registry.Provider{
		Name: name,
		Collect: func(ctx context.Context, src stats.Source) (*registry.Plot, error) {
			return &registry.Plot{Title: name, Fields: fields}, nil
		},
	}
}

// switchable fails while fail is set and returns value otherwise
type switchable struct {
	fail  atomic.Bool
	value atomic.Int64
}

func (s *switchable) provider(name string) registry.Provider {
	return registry.Provider{
		Name: name,
		Collect: func(ctx context.Context, src stats.Source) (*registry.Plot, error) {
			if s.fail.Load() {
				return nil, errors.New("reading unavailable")
			}
			return &registry.Plot{
				Title:  name,
				Fields: []registry.Field{{Name: name + "_value", Value: float64(s.value.Load())}},
			}, nil
		},
	}
}

func TestNew_Validation(t *testing.T) {
	src := fake.NewFakeSource()

	_, err := registry.New(nil, nil)
	assert.Error(t, err)

	_, err = registry.New(src, []registry.Provider{constProvider("a"), constProvider("a")})
	assert.ErrorContains(t, err, "duplicate provider a")

	_, err = registry.New(src, []registry.Provider{{Name: ""}})
	assert.Error(t, err)

	_, err = registry.New(src, []registry.Provider{{Name: "nil"}})
	assert.Error(t, err)
}

func TestRegistry_EmptyBeforeRefresh(t *testing.T) {
	r, err := registry.New(fake.NewFakeSource(), []registry.Provider{constProvider("a")})
	require.NoError(t, err)

	assert.Empty(t, r.ListGraphs())
	assert.True(t, r.Snapshot().TakenAt().IsZero())

	_, err = r.GraphMembers("a")
	assert.ErrorIs(t, err, registry.ErrNotFound)
	_, err = r.GraphConfig("a")
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

func TestRegistry_Refresh(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r, err := registry.New(fake.NewFakeSource(), []registry.Provider{
		constProvider("b", registry.Field{Name: "b1", Value: 1}, registry.Field{Name: "b2", Value: 2.5, Format: registry.FormatFixed2}),
		constProvider("a", registry.Field{Name: "a1", Value: 7}),
	}, registry.WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	require.NoError(t, r.Refresh(context.Background()))

	assert.Equal(t, []string{"b", "a"}, r.ListGraphs())
	assert.Equal(t, now, r.Snapshot().TakenAt())

	members, err := r.GraphMembers("b")
	require.NoError(t, err)
	assert.Equal(t, []string{"b1", "b2"}, members)

	config, err := r.GraphConfig("b")
	require.NoError(t, err)
	assert.Equal(t, ".", config[len(config)-1])

	assert.Equal(t, "2.50", r.MeasurementValue("b2").String())
	assert.Equal(t, "7", r.MeasurementValue("a1").String())
}

func TestRegistry_EveryMemberHasValue(t *testing.T) {
	r, err := registry.New(fake.NewFakeSource(), []registry.Provider{
		constProvider("a", registry.Field{Name: "x"}, registry.Field{Name: "y"}),
	})
	require.NoError(t, err)
	require.NoError(t, r.Refresh(context.Background()))

	for _, g := range r.ListGraphs() {
		members, err := r.GraphMembers(g)
		require.NoError(t, err)
		assert.NotEmpty(t, members)
		for _, m := range members {
			assert.Equal(t, "0", r.MeasurementValue(m).String())
		}
	}
}

func TestRegistry_MissingMeasurementDefaults(t *testing.T) {
	r, err := registry.New(fake.NewFakeSource(), nil)
	require.NoError(t, err)

	m := r.MeasurementValue("nope")
	assert.Equal(t, registry.FormatInteger, m.Format)
	assert.Equal(t, "0", m.String())
}

func TestRegistry_ListIdempotent(t *testing.T) {
	r, err := registry.New(fake.NewFakeSource(), []registry.Provider{constProvider("a"), constProvider("b")})
	require.NoError(t, err)
	require.NoError(t, r.Refresh(context.Background()))

	assert.Equal(t, r.ListGraphs(), r.ListGraphs())
}

func TestRegistry_ReturnedSlicesAreCopies(t *testing.T) {
	r, err := registry.New(fake.NewFakeSource(), []registry.Provider{constProvider("a", registry.Field{Name: "x"})})
	require.NoError(t, err)
	require.NoError(t, r.Refresh(context.Background()))

	members, _ := r.GraphMembers("a")
	members[0] = "mutated"
	config, _ := r.GraphConfig("a")
	config[0] = "mutated"
	graphs := r.ListGraphs()
	graphs[0] = "mutated"

	members, _ = r.GraphMembers("a")
	config, _ = r.GraphConfig("a")
	assert.Equal(t, []string{"x"}, members)
	assert.Equal(t, "graph_title a", config[0])
	assert.Equal(t, []string{"a"}, r.ListGraphs())
}

func TestRegistry_ProviderFailureKeepsPrevious(t *testing.T) {
	s := &switchable{}
	s.value.Store(42)
	m := metrics.New(nil)

	r, err := registry.New(fake.NewFakeSource(), []registry.Provider{
		s.provider("flaky"),
		constProvider("steady", registry.Field{Name: "steady_value", Value: 1}),
	}, registry.WithMetrics(m))
	require.NoError(t, err)

	require.NoError(t, r.Refresh(context.Background()))
	assert.Equal(t, "42", r.MeasurementValue("flaky_value").String())

	s.value.Store(43)
	s.fail.Store(true)
	require.NoError(t, r.Refresh(context.Background()))

	assert.Equal(t, []string{"flaky", "steady"}, r.ListGraphs())
	assert.Equal(t, "42", r.MeasurementValue("flaky_value").String())
	assert.Equal(t, "1", r.MeasurementValue("steady_value").String())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProviderRuns.WithLabelValues("flaky", metrics.OutcomeFailure)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ProviderRuns.WithLabelValues("steady", metrics.OutcomeOK)))

	s.fail.Store(false)
	require.NoError(t, r.Refresh(context.Background()))
	assert.Equal(t, "43", r.MeasurementValue("flaky_value").String())
}

func TestRegistry_ProviderNeverSucceededIsOmitted(t *testing.T) {
	s := &switchable{}
	s.fail.Store(true)

	r, err := registry.New(fake.NewFakeSource(), []registry.Provider{
		s.provider("flaky"),
		constProvider("steady"),
	})
	require.NoError(t, err)
	require.NoError(t, r.Refresh(context.Background()))

	assert.Equal(t, []string{"steady"}, r.ListGraphs())
	_, err = r.GraphConfig("flaky")
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

func TestRegistry_ProviderPanicIsIsolated(t *testing.T) {
	r, err := registry.New(fake.NewFakeSource(), []registry.Provider{
		{Name: "boom", Collect: func(ctx context.Context, src stats.Source) (*registry.Plot, error) {
			panic("kaboom")
		}},
		{Name: "nil", Collect: func(ctx context.Context, src stats.Source) (*registry.Plot, error) {
			return nil, nil
		}},
		constProvider("ok"),
	})
	require.NoError(t, err)

	require.NoError(t, r.Refresh(context.Background()))
	assert.Equal(t, []string{"ok"}, r.ListGraphs())
}

func TestRegistry_RefreshCancelled(t *testing.T) {
	r, err := registry.New(fake.NewFakeSource(), []registry.Provider{constProvider("a")})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, r.Refresh(ctx), context.Canceled)
	assert.Empty(t, r.ListGraphs())
}

func TestRegistry_SnapshotIsStable(t *testing.T) {
	s := &switchable{}
	s.value.Store(1)
	r, err := registry.New(fake.NewFakeSource(), []registry.Provider{s.provider("g")})
	require.NoError(t, err)
	require.NoError(t, r.Refresh(context.Background()))

	held := r.Snapshot()
	s.value.Store(2)
	require.NoError(t, r.Refresh(context.Background()))

	assert.Equal(t, "1", held.Value("g_value").String())
	assert.Equal(t, "2", r.MeasurementValue("g_value").String())
}

func TestRegistry_ConcurrentRefreshAndRead(t *testing.T) {
	s := &switchable{}
	r, err := registry.New(fake.NewFakeSource(), []registry.Provider{
		s.provider("g"),
		constProvider("h", registry.Field{Name: "h1"}, registry.Field{Name: "h2"}),
	})
	require.NoError(t, err)
	require.NoError(t, r.Refresh(context.Background()))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				s.value.Store(int64(i*100 + j))
				assert.NoError(t, r.Refresh(context.Background()))
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				snap := r.Snapshot()
				members, err := snap.Members("h")
				if assert.NoError(t, err) {
					assert.Equal(t, []string{"h1", "h2"}, members)
				}
				config, err := snap.Config("g")
				if assert.NoError(t, err) {
					assert.Equal(t, ".", config[len(config)-1])
				}
			}
		}()
	}
	wg.Wait()
}
