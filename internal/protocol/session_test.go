package protocol_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"munind.sh/internal/plugins"
	"munind.sh/internal/protocol"
	"munind.sh/internal/registry"
	"munind.sh/internal/stats"
	"munind.sh/internal/testutil"
)

func newRegistry(t *testing.T, src *testutil.FakeSource) *registry.Registry {
	t.Helper()
	r, err := registry.New(src, plugins.Default(plugins.Options{}))
	require.NoError(t, err)
	require.NoError(t, r.Refresh(context.Background()))
	return r
}

func newSession(t *testing.T) (*protocol.Session, *registry.Registry) {
	t.Helper()
	r := newRegistry(t, testutil.NewFakeSource())
	return protocol.NewSession(r, protocol.Identity{Hostname: "node1.example", Version: "1.2.3"}, nil), r
}

func TestSession_Nodes(t *testing.T) {
	s, _ := newSession(t)
	reply, err := s.Handle("nodes")
	require.NoError(t, err)
	assert.Equal(t, []string{"node1.example"}, reply)
}

func TestSession_Version(t *testing.T) {
	s, _ := newSession(t)
	reply, err := s.Handle("version")
	require.NoError(t, err)
	assert.Equal(t, []string{"munins node on node1.example version: 1.2.3"}, reply)
}

func TestSession_List(t *testing.T) {
	s, _ := newSession(t)

	first, err := s.Handle("list")
	require.NoError(t, err)
	assert.Equal(t, []string{"cpu cpu-times load memory disk-io disk-usage processes uptime network"}, first)

	second, err := s.Handle("list node1.example")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSession_ListDoesNotRefresh(t *testing.T) {
	src := testutil.NewFakeSource()
	r := newRegistry(t, src)
	s := protocol.NewSession(r, protocol.Identity{Hostname: "h"}, nil)

	calls := src.CallCount("CPUPercent")
	_, err := s.Handle("list")
	require.NoError(t, err)
	_, err = s.Handle("fetch cpu")
	require.NoError(t, err)
	assert.Equal(t, calls, src.CallCount("CPUPercent"))
}

func TestSession_CapDirtyConfig(t *testing.T) {
	s, _ := newSession(t)

	reply, err := s.Handle("cap multigraph dirtyconfig")
	require.NoError(t, err)
	assert.Equal(t, []string{"cap multigraph dirtyconfig"}, reply)

	_, err = s.Handle("config cpu")
	require.NoError(t, err)

	reply, err = s.Handle("cap")
	require.NoError(t, err)
	assert.Equal(t, []string{"cap multigraph"}, reply)
}

func TestSession_FailedConfigKeepsDirtyConfig(t *testing.T) {
	s, _ := newSession(t)

	_, err := s.Handle("config nope")
	require.ErrorIs(t, err, protocol.ErrNotFound)

	reply, err := s.Handle("cap")
	require.NoError(t, err)
	assert.Equal(t, []string{"cap multigraph dirtyconfig"}, reply)
}

func TestSession_ConfigFlagScope(t *testing.T) {
	r := newRegistry(t, testutil.NewFakeSource())
	id := protocol.Identity{Hostname: "h"}

	t.Run("per session", func(t *testing.T) {
		a := protocol.NewSession(r, id, nil)
		b := protocol.NewSession(r, id, nil)

		_, err := a.Handle("config load")
		require.NoError(t, err)

		reply, err := b.Handle("cap")
		require.NoError(t, err)
		assert.Equal(t, []string{"cap multigraph dirtyconfig"}, reply)
	})

	t.Run("process wide", func(t *testing.T) {
		shared := &protocol.ConfigFlag{}
		a := protocol.NewSession(r, id, shared)
		b := protocol.NewSession(r, id, shared)

		_, err := a.Handle("config load")
		require.NoError(t, err)

		reply, err := b.Handle("cap")
		require.NoError(t, err)
		assert.Equal(t, []string{"cap multigraph"}, reply)
	})
}

func TestSession_FetchLoad(t *testing.T) {
	src := testutil.NewFakeSource()
	src.Load = stats.LoadAverage{Load1: 0.50, Load5: 0.30, Load15: 0.10}
	r := newRegistry(t, src)
	s := protocol.NewSession(r, protocol.Identity{Hostname: "h"}, nil)

	reply, err := s.Handle("fetch load")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"load_avg_1min.value 0.50",
		"load_avg_15min.value 0.10",
		".",
	}, reply)
}

func TestSession_FetchLineCount(t *testing.T) {
	s, r := newSession(t)

	for _, g := range r.ListGraphs() {
		members, err := r.GraphMembers(g)
		require.NoError(t, err)

		reply, err := s.Handle("fetch " + g)
		require.NoError(t, err)
		require.Len(t, reply, len(members)+1, g)
		assert.Equal(t, ".", reply[len(reply)-1])
		for i, member := range members {
			assert.Regexp(t, `^`+member+`\.value -?[0-9]+(\.[0-9]{2})?$`, reply[i])
		}
	}
}

func TestSession_ConfigEndsWithSentinel(t *testing.T) {
	s, r := newSession(t)

	for _, g := range r.ListGraphs() {
		reply, err := s.Handle("config " + g)
		require.NoError(t, err)
		assert.Equal(t, ".", reply[len(reply)-1], g)
	}
}

func TestSession_ConfigCPU(t *testing.T) {
	src := testutil.NewFakeSource()
	src.CPU = []float64{10, 20}
	r := newRegistry(t, src)
	s := protocol.NewSession(r, protocol.Identity{Hostname: "h"}, nil)

	reply, err := s.Handle("config cpu")
	require.NoError(t, err)

	for _, cpu := range []string{"cpu0", "cpu1"} {
		assert.Contains(t, reply, cpu+".min 0")
		assert.Contains(t, reply, cpu+".type GAUGE")
		assert.Contains(t, reply, cpu+".draw AREASTACK")
	}
	assert.NotContains(t, reply, "cpu2.label cpu2")

	fetch, err := s.Handle("fetch cpu")
	require.NoError(t, err)
	assert.Equal(t, []string{"cpu0.value 10", "cpu1.value 20", "."}, fetch)
}

func TestSession_FetchUnknownGraph(t *testing.T) {
	s, r := newSession(t)
	before, err := s.Handle("fetch memory")
	require.NoError(t, err)
	graphs := r.ListGraphs()

	_, err = s.Handle("fetch unknown_graph")
	assert.ErrorIs(t, err, protocol.ErrNotFound)

	after, err := s.Handle("fetch memory")
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, graphs, r.ListGraphs())
}

func TestSession_Malformed(t *testing.T) {
	s, _ := newSession(t)

	for _, line := range []string{"fetch", "fetch ", "fetch cpu extra", "fetch  cpu", "config", "config a b"} {
		_, err := s.Handle(line)
		assert.ErrorIs(t, err, protocol.ErrMalformedCommand, line)
	}
}

func TestSession_Unknown(t *testing.T) {
	s, _ := newSession(t)

	reply, err := s.Handle("spawn shell")
	assert.ErrorIs(t, err, protocol.ErrUnknownCommand)
	assert.Nil(t, reply)
}

func TestSession_BeforeRefresh(t *testing.T) {
	r, err := registry.New(testutil.NewFakeSource(), plugins.Default(plugins.Options{}))
	require.NoError(t, err)
	s := protocol.NewSession(r, protocol.Identity{Hostname: "h"}, nil)

	reply, err := s.Handle("list")
	require.NoError(t, err)
	assert.Equal(t, []string{""}, reply)

	_, err = s.Handle("fetch cpu")
	assert.ErrorIs(t, err, protocol.ErrNotFound)
}

func TestIsQuit(t *testing.T) {
	assert.True(t, protocol.IsQuit(""))
	assert.True(t, protocol.IsQuit("quit"))
	assert.False(t, protocol.IsQuit("quitting"))
	assert.False(t, protocol.IsQuit("list"))
}

func TestCommandName(t *testing.T) {
	tests := map[string]string{
		"":             protocol.CmdQuit,
		"quit":         protocol.CmdQuit,
		"nodes":        protocol.CmdNodes,
		"version":      protocol.CmdVersion,
		"list":         protocol.CmdList,
		"list host":    protocol.CmdList,
		"cap":          protocol.CmdCap,
		"capabilities": protocol.CmdCap,
		"fetch cpu":    protocol.CmdFetch,
		"config cpu":   protocol.CmdConfig,
		"nodes extra":  protocol.CmdUnknown,
		"help":         protocol.CmdUnknown,
	}
	for line, want := range tests {
		assert.Equal(t, want, protocol.CommandName(line), line)
	}
}

func TestErrorReply(t *testing.T) {
	s, _ := newSession(t)

	_, err := s.Handle("fetch nope")
	assert.Equal(t, []string{"# Unknown service", "."}, protocol.ErrorReply(err))

	_, err = s.Handle("config")
	assert.Equal(t, []string{"# Malformed command", "."}, protocol.ErrorReply(err))

	_, err = s.Handle("bogus")
	assert.Equal(t, []string{"# Unknown command. Try cap, list, nodes, config, fetch, version or quit"}, protocol.ErrorReply(err))
}

func TestIdentity_Banner(t *testing.T) {
	assert.Equal(t, "# munin node at node1", protocol.Identity{Hostname: "node1"}.Banner())
}
