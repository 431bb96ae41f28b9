package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"munind.sh/internal/admin"
	"munind.sh/internal/config"
	"munind.sh/internal/discovery"
	"munind.sh/internal/metrics"
	"munind.sh/internal/observability"
	"munind.sh/internal/plugins"
	"munind.sh/internal/protocol"
	"munind.sh/internal/registry"
	"munind.sh/internal/server"
	"munind.sh/internal/stats"
	"munind.sh/internal/version"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the munin node",
		Long:  `Serve the munin node protocol until interrupted by SIGINT or SIGTERM.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts.configFile)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, nil)
		},
	}
	addConfigFlags(cmd)
	return cmd
}

// runServe runs the node until ctx is done. ready, when set, receives the
// bound munin address once the listener is up.
func runServe(ctx context.Context, cfg *config.Config, ready chan<- net.Addr) error {
	logger, err := observability.NewLogger(observability.LogConfig{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		OutputPath: cfg.Log.Output,
		Version:    version.Version,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(promReg)

	reg, err := registry.New(
		stats.NewCollector(),
		plugins.Default(plugins.Options{DiskPath: cfg.DiskPath}),
		registry.WithLogger(logger),
		registry.WithMetrics(m),
	)
	if err != nil {
		return fmt.Errorf("failed to create registry: %w", err)
	}

	srv := server.New(reg, server.Options{
		Identity: protocol.Identity{
			Hostname: cfg.Hostname,
			Version:  version.Version,
		},
		SharedConfigFlag: cfg.DirtyConfigScope == config.ScopeProcess,
		IdleTimeout:      cfg.IdleTimeout,
		MaxLineLength:    cfg.MaxLineLength,
		MaxConnections:   cfg.MaxConnections,
		AcceptRate:       cfg.AcceptRate,
		AcceptBurst:      cfg.AcceptBurst,
		Logger:           logger,
		Metrics:          m,
	})

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Listen, err)
	}

	logger.Info("Starting munin node",
		zap.String("address", ln.Addr().String()),
		zap.String("hostname", cfg.Hostname),
		zap.Strings("graphs", reg.Providers()),
		zap.String("dirtyconfig_scope", cfg.DirtyConfigScope))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(gctx, ln)
	})

	if cfg.Admin.Listen != "" {
		adm := admin.New(cfg.Admin.Listen, reg, promReg, logger)
		g.Go(func() error {
			return adm.Run(gctx)
		})
	}

	if cfg.MDNS.Enabled {
		port := ln.Addr().(*net.TCPAddr).Port
		adv := discovery.New(cfg.Hostname, port, cfg.MDNS.Service, version.Version)
		if err := adv.Start(); err != nil {
			// The node is still reachable by address
			logger.Warn("Failed to start mDNS advertisement", zap.Error(err))
		} else {
			logger.Info("Advertising node over mDNS", zap.String("service", cfg.MDNS.Service))
			defer adv.Stop()
		}
	}

	notifySystemd(logger, daemon.SdNotifyReady)
	g.Go(func() error {
		systemdWatchdog(gctx, logger)
		return nil
	})

	if ready != nil {
		ready <- ln.Addr()
	}

	err = g.Wait()
	notifySystemd(logger, daemon.SdNotifyStopping)
	logger.Info("Munin node stopped")
	return err
}

func notifySystemd(logger *zap.Logger, state string) {
	if _, err := daemon.SdNotify(false, state); err != nil {
		logger.Warn("Failed to notify systemd", zap.String("state", state), zap.Error(err))
	}
}

// systemdWatchdog sends keepalive signals to systemd at half the configured
// watchdog interval. It returns immediately when no watchdog is configured.
func systemdWatchdog(ctx context.Context, logger *zap.Logger) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}

	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			notifySystemd(logger, daemon.SdNotifyWatchdog)
		}
	}
}
