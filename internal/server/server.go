// Package server accepts munin connections and runs one driver per
// connection.
package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"
	"golang.org/x/time/rate"

	"munind.sh/internal/metrics"
	"munind.sh/internal/protocol"
)

// Options configures a Server
type Options struct {
	Identity protocol.Identity

	// SharedConfigFlag makes the config-sent flag process wide instead of
	// per connection.
	SharedConfigFlag bool

	IdleTimeout    time.Duration
	MaxLineLength  int
	MaxConnections int     // 0 is unlimited
	AcceptRate     float64 // connections per second, 0 is unlimited
	AcceptBurst    int

	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Server serves the munin protocol on a listener
type Server struct {
	reg     Registry
	opts    Options
	shared  *protocol.ConfigFlag
	limiter *rate.Limiter
	logger  *zap.Logger

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	addr  net.Addr
	wg    sync.WaitGroup
}

// New creates a server over reg
func New(reg Registry, opts Options) *Server {
	s := &Server{
		reg:    reg,
		opts:   opts,
		logger: opts.Logger,
		conns:  make(map[net.Conn]struct{}),
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if opts.SharedConfigFlag {
		s.shared = &protocol.ConfigFlag{}
	}
	if opts.AcceptRate > 0 {
		burst := opts.AcceptBurst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.AcceptRate), burst)
	}
	return s
}

// ListenAndServe listens on the TCP address and serves until ctx is done
func (s *Server) ListenAndServe(ctx context.Context, address string) error {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Addr returns the listening address once Serve has started
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Serve accepts connections on ln until ctx is cancelled, then closes the
// listener and every open connection and waits for their drivers to exit.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.opts.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.opts.MaxConnections)
	}

	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()

	s.logger.Info("Serving munin protocol",
		zap.String("address", ln.Addr().String()),
		zap.String("hostname", s.opts.Identity.Hostname),
	)

	stop := make(chan struct{})
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		select {
		case <-ctx.Done():
		case <-stop:
		}
		ln.Close()
		s.closeAll()
	}()

	err := s.acceptLoop(ctx, ln)
	close(stop)
	<-closed
	s.wg.Wait()
	if ctx.Err() != nil {
		s.logger.Info("Stopped serving")
		return nil
	}
	return err
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	var backoff time.Duration
	for {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return nil
			}
		}

		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				backoff = nextBackoff(backoff)
				s.logger.Warn("Accept failed, retrying", zap.Error(err), zap.Duration("backoff", backoff))
				time.Sleep(backoff)
				continue
			}
			return err
		}
		backoff = 0

		if !s.track(conn) {
			conn.Close()
			return nil
		}
		s.wg.Add(1)
		go s.handle(ctx, conn)
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	if d *= 2; d > time.Second {
		d = time.Second
	}
	return d
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)
	defer conn.Close()

	logger := s.logger.With(
		zap.String("conn_id", uuid.NewString()),
		zap.String("remote_addr", conn.RemoteAddr().String()),
	)

	s.opts.Metrics.ConnectionOpened()
	defer s.opts.Metrics.ConnectionClosed()

	logger.Info("Connection opened")
	start := time.Now()

	c := NewConn(conn, s.reg, ConnOptions{
		Identity:      s.opts.Identity,
		ConfigFlag:    s.shared,
		IdleTimeout:   s.opts.IdleTimeout,
		MaxLineLength: s.opts.MaxLineLength,
		Logger:        logger,
		Metrics:       s.opts.Metrics,
	})
	if err := c.Serve(ctx); err != nil && ctx.Err() == nil {
		logger.Debug("Connection ended with error", zap.Error(err))
	}

	logger.Info("Connection closed", zap.Duration("duration", time.Since(start)))
}

// track registers conn, refusing it once shutdown has closed the set
func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns == nil {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		conn.Close()
	}
	s.conns = nil
}

// ActiveConnections returns the number of connections being served
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}
