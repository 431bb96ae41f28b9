package server

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"munind.sh/internal/metrics"
	fake "munind.sh/internal/testutil"
)

func startServer(t *testing.T, opts Options) (*Server, context.CancelFunc, <-chan error) {
	t.Helper()
	if opts.Identity.Hostname == "" {
		opts.Identity = testIdentity
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := New(newTestRegistry(t, fake.NewFakeSource()), opts)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	require.Eventually(t, func() bool { return s.Addr() != nil }, time.Second, 5*time.Millisecond)
	t.Cleanup(cancel)
	return s, cancel, done
}

func dial(t *testing.T, s *Server) *client {
	t.Helper()
	conn, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return newClient(t, conn)
}

func TestServer_ServesClients(t *testing.T) {
	m := metrics.New(nil)
	s, cancel, done := startServer(t, Options{Metrics: m})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := dial(t, s)
			assert.Equal(t, "# munin node at node1", c.readLine())
			c.send("cap")
			assert.Equal(t, "cap multigraph dirtyconfig", c.readLine())
			c.send("fetch memory")
			assert.Len(t, c.readBlock(), 3)
			c.send("quit")
			c.expectEOF()
		}()
	}
	wg.Wait()

	cancel()
	require.NoError(t, waitDone(t, done))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.ConnectionsTotal))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ConnectionsActive))
}

func TestServer_ConfigFlagPerConnection(t *testing.T) {
	s, _, _ := startServer(t, Options{})

	first := dial(t, s)
	first.readLine()
	first.send("config uptime")
	first.readBlock()
	first.send("cap")
	assert.Equal(t, "cap multigraph", first.readLine())

	second := dial(t, s)
	second.readLine()
	second.send("cap")
	assert.Equal(t, "cap multigraph dirtyconfig", second.readLine())
}

func TestServer_ConfigFlagProcessWide(t *testing.T) {
	s, _, _ := startServer(t, Options{SharedConfigFlag: true})

	first := dial(t, s)
	first.readLine()
	first.send("config uptime")
	first.readBlock()
	first.send("quit")
	first.expectEOF()

	second := dial(t, s)
	second.readLine()
	second.send("cap")
	assert.Equal(t, "cap multigraph", second.readLine())
}

func TestServer_ShutdownClosesConnections(t *testing.T) {
	s, cancel, done := startServer(t, Options{})

	c := dial(t, s)
	c.readLine()
	require.Eventually(t, func() bool { return s.ActiveConnections() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, waitDone(t, done))
	c.expectEOF()

	_, err := net.DialTimeout("tcp", s.Addr().String(), 200*time.Millisecond)
	assert.Error(t, err)
}

func TestServer_MaxConnections(t *testing.T) {
	s, _, _ := startServer(t, Options{MaxConnections: 1})

	first := dial(t, s)
	first.readLine()

	second := dial(t, s)
	require.NoError(t, second.conn.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	_, err := second.r.ReadString('\n')
	require.Error(t, err, "second connection must wait for a free slot")

	first.send("quit")
	first.expectEOF()

	require.NoError(t, second.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	assert.Equal(t, "# munin node at node1", second.readLine())
}

func TestServer_AcceptRate(t *testing.T) {
	s, _, _ := startServer(t, Options{AcceptRate: 1000, AcceptBurst: 2})

	for i := 0; i < 3; i++ {
		c := dial(t, s)
		assert.Equal(t, "# munin node at node1", c.readLine())
		c.send("quit")
		c.expectEOF()
	}
}

func TestServer_ListenAndServeBadAddress(t *testing.T) {
	s := New(newTestRegistry(t, fake.NewFakeSource()), Options{Identity: testIdentity})
	err := s.ListenAndServe(context.Background(), "256.0.0.1:bad")
	assert.Error(t, err)
}

func TestNextBackoff(t *testing.T) {
	assert.Equal(t, 5*time.Millisecond, nextBackoff(0))
	assert.Equal(t, 10*time.Millisecond, nextBackoff(5*time.Millisecond))
	assert.Equal(t, time.Second, nextBackoff(800*time.Millisecond))
}
