// Package admin serves the operator HTTP endpoints: prometheus metrics and
// health checks. It never speaks the munin protocol.
package admin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"munind.sh/internal/observability"
	"munind.sh/internal/registry"
)

const shutdownTimeout = 5 * time.Second

// Registry is the part of the graph registry the health check needs
type Registry interface {
	Refresh(ctx context.Context) error
	Snapshot() *registry.Snapshot
}

// Server is the admin HTTP listener
type Server struct {
	listen string
	router *mux.Router
	health *observability.HealthService
	logger *zap.Logger
}

// New builds the admin router. gatherer backs /metrics.
func New(listen string, reg Registry, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	logger = observability.OrNop(logger).With(zap.String("component", "admin"))

	health := observability.NewHealthService(logger)
	health.RegisterCheck("graphs", GraphsCheck(reg))

	router := mux.NewRouter()
	router.Use(observability.LoggerMiddleware(logger))
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	router.HandleFunc("/healthz", health.HTTPHandler()).Methods(http.MethodGet)
	router.HandleFunc("/livez", health.LivenessHandler()).Methods(http.MethodGet)

	return &Server{
		listen: listen,
		router: router,
		health: health,
		logger: logger,
	}
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run listens until ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve handles requests on ln until ctx is cancelled
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Admin server listening", zap.String("address", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("admin shutdown failed: %w", err)
		}
		return nil
	}
}

// GraphsCheck refreshes the registry and reports how many graphs it holds.
// An empty snapshot after a refresh means every provider is failing.
func GraphsCheck(reg Registry) observability.HealthChecker {
	return observability.HealthCheckFunc(func(ctx context.Context) observability.HealthCheck {
		start := time.Now()
		check := observability.HealthCheck{Name: "graphs"}

		err := reg.Refresh(ctx)
		snap := reg.Snapshot()
		graphs := snap.Graphs()

		check.LastChecked = time.Now()
		check.Duration = time.Since(start)
		check.Metadata = map[string]any{
			"graphs":    len(graphs),
			"refreshed":  snap.TakenAt(),
		}

		switch {
		case err != nil:
			check.Status = observability.HealthStatusUnhealthy
			check.Message = err.Error()
		case len(graphs) == 0:
			check.Status = observability.HealthStatusUnhealthy
			check.Message = "no graphs available"
		default:
			check.Status = observability.HealthStatusHealthy
			check.Message = fmt.Sprintf("%d graphs", len(graphs))
		}
		return check
	})
}
