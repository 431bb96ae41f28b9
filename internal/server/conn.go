package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"

	"munind.sh/internal/metrics"
	"munind.sh/internal/protocol"
)

// Registry is what a connection needs from the metric registry
type Registry interface {
	protocol.GraphSource
	Refresh(ctx context.Context) error
}

// Conn drives one munin connection: banner, one refresh, then strict
// request/response until the client quits or the transport fails.
type Conn struct {
	conn    net.Conn
	reg     Registry
	session *protocol.Session
	ident   protocol.Identity

	idleTimeout   time.Duration
	maxLineLength int

	logger  *zap.Logger
	metrics *metrics.Metrics
}

// ConnOptions tunes a connection driver
type ConnOptions struct {
	Identity      protocol.Identity
	ConfigFlag    *protocol.ConfigFlag // nil gives the connection its own
	IdleTimeout   time.Duration        // 0 disables
	MaxLineLength int                  // 0 uses bufio.MaxScanTokenSize
	Logger        *zap.Logger
	Metrics       *metrics.Metrics
}

// NewConn wraps an accepted connection
func NewConn(conn net.Conn, reg Registry, opts ConnOptions) *Conn {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxLine := opts.MaxLineLength
	if maxLine <= 0 {
		maxLine = bufio.MaxScanTokenSize
	}

	return &Conn{
		conn:          conn,
		reg:           reg,
		session:       protocol.NewSession(reg, opts.Identity, opts.ConfigFlag),
		ident:         opts.Identity,
		idleTimeout:   opts.IdleTimeout,
		maxLineLength: maxLine,
		logger:        logger,
		metrics:       opts.Metrics,
	}
}

// Serve runs the session until it ends. A clean quit, blank line or EOF
// returns nil. The caller closes the connection.
func (c *Conn) Serve(ctx context.Context) error {
	w := bufio.NewWriter(c.conn)

	if err := c.write(w, []string{c.ident.Banner()}); err != nil {
		return fmt.Errorf("failed to write banner: %w", err)
	}

	if err := c.reg.Refresh(ctx); err != nil {
		return fmt.Errorf("failed to refresh registry: %w", err)
	}

	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 0, min(512, c.maxLineLength)), c.maxLineLength)

	for {
		if c.idleTimeout > 0 {
			if err := c.conn.SetReadDeadline(time.Now().Add(c.idleTimeout)); err != nil {
				return err
			}
		}

		if !scanner.Scan() {
			err := scanner.Err()
			if err == nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				c.logger.Debug("Connection idle, closing", zap.Duration("idle_timeout", c.idleTimeout))
				return nil
			}
			return fmt.Errorf("failed to read command: %w", err)
		}

		line := strings.TrimSpace(scanner.Text())
		if protocol.IsQuit(line) {
			return nil
		}

		command := protocol.CommandName(line)
		reply, err := c.session.Handle(line)
		if err != nil {
			c.logger.Debug("Command failed", zap.String("command", command), zap.Error(err))
			c.metrics.RecordCommand(command, "error")
			reply = protocol.ErrorReply(err)
		} else {
			c.metrics.RecordCommand(command, "ok")
		}

		if err := c.write(w, reply); err != nil {
			return fmt.Errorf("failed to write reply: %w", err)
		}
	}
}

func (c *Conn) write(w *bufio.Writer, lines []string) error {
	if c.idleTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.idleTimeout)); err != nil {
			return err
		}
	}
	for _, line := range lines {
		if _, err := w.WriteString(line + "\n"); err != nil {
			return err
		}
	}
	return w.Flush()
}
