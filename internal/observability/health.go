package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// HealthStatus represents the health status of a component
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck represents a single health check
type HealthCheck struct {
	Name        string        `json:"name"`
	Status      HealthStatus  `json:"status"`
	Message     string        `json:"message,omitempty"`
	LastChecked time.Time     `json:"last_checked"`
	Duration    time.Duration `json:"duration_ms"`
	Metadata    any           `json:"metadata,omitempty"`
}

// HealthChecker performs health checks
type HealthChecker interface {
	Check(ctx context.Context) HealthCheck
}

// HealthCheckFunc is a function that performs a health check
type HealthCheckFunc func(ctx context.Context) HealthCheck

// Check implements HealthChecker
func (f HealthCheckFunc) Check(ctx context.Context) HealthCheck {
	return f(ctx)
}

// HealthService manages health checks
type HealthService struct {
	checks  map[string]HealthChecker
	mu      sync.RWMutex
	logger  *zap.Logger
	timeout time.Duration
}

// NewHealthService creates a new health service
func NewHealthService(logger *zap.Logger) *HealthService {
	return &HealthService{
		checks:  make(map[string]HealthChecker),
		logger:  OrNop(logger).With(zap.String("component", "health")),
		timeout: 5 * time.Second,
	}
}

// RegisterCheck registers a health check
func (s *HealthService) RegisterCheck(name string, checker HealthChecker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = checker
	s.logger.Debug("Health check registered", zap.String("name", name))
}

// RegisterCheckFunc registers a health check function
func (s *HealthService) RegisterCheckFunc(name string, fn func(ctx context.Context) error) {
	s.RegisterCheck(name, HealthCheckFunc(func(ctx context.Context) HealthCheck {
		startTime := time.Now()
		err := fn(ctx)

		check := HealthCheck{
			Name:        name,
			LastChecked: time.Now(),
			Duration:    time.Since(startTime),
		}

		if err != nil {
			check.Status = HealthStatusUnhealthy
			check.Message = err.Error()
		} else {
			check.Status = HealthStatusHealthy
			check.Message = "OK"
		}

		return check
	}))
}

// Names returns the registered check names in sorted order
func (s *HealthService) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check performs all health checks concurrently
func (s *HealthService) Check(ctx context.Context) map[string]HealthCheck {
	s.mu.RLock()
	checkers := make(map[string]HealthChecker, len(s.checks))
	for name, checker := range s.checks {
		checkers[name] = checker
	}
	s.mu.RUnlock()

	results := make(map[string]HealthCheck, len(checkers))
	var resultsMu sync.Mutex
	var wg sync.WaitGroup

	for name, checker := range checkers {
		wg.Add(1)
		go func(name string, checker HealthChecker) {
			defer wg.Done()

			checkCtx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()

			check := checker.Check(checkCtx)
			if check.Status != HealthStatusHealthy {
				s.logger.Warn("Health check not healthy",
					zap.String("name", name),
					zap.String("status", string(check.Status)),
					zap.String("message", check.Message))
			}

			resultsMu.Lock()
			results[name] = check
			resultsMu.Unlock()
		}(name, checker)
	}

	wg.Wait()
	return results
}

// CheckSingle performs a single health check
func (s *HealthService) CheckSingle(ctx context.Context, name string) (*HealthCheck, error) {
	s.mu.RLock()
	checker, exists := s.checks[name]
	s.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("health check not found: %s", name)
	}

	check := checker.Check(ctx)
	return &check, nil
}

// Overall folds a set of results into a single status
func Overall(checks map[string]HealthCheck) HealthStatus {
	status := HealthStatusHealthy
	for _, check := range checks {
		switch check.Status {
		case HealthStatusUnhealthy:
			return HealthStatusUnhealthy
		case HealthStatusDegraded:
			status = HealthStatusDegraded
		}
	}
	return status
}

// HTTPHandler returns an HTTP handler for health checks
func (s *HealthService) HTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if checkName := r.URL.Query().Get("check"); checkName != "" {
			check, err := s.CheckSingle(ctx, checkName)
			if err != nil {
				http.Error(w, err.Error(), http.StatusNotFound)
				return
			}
			s.writeJSONResponse(w, check, check.Status)
			return
		}

		checks := s.Check(ctx)
		overallStatus := Overall(checks)

		response := struct {
			Status HealthStatus           `json:"status"`
			Checks map[string]HealthCheck `json:"checks"`
			Time   time.Time              `json:"time"`
		}{
			Status: overallStatus,
			Checks: checks,
			Time:   time.Now(),
		}

		s.writeJSONResponse(w, response, overallStatus)
	}
}

// LivenessHandler returns an HTTP handler for liveness checks
func (s *HealthService) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}
}

func (s *HealthService) writeJSONResponse(w http.ResponseWriter, data any, status HealthStatus) {
	w.Header().Set("Content-Type", "application/json")

	if status == HealthStatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode health response", zap.Error(err))
	}
}
