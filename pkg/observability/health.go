package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"golang.org/x/sync/errgroup"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// readinessTimeout bounds one readiness evaluation
const readinessTimeout = 5 * time.Second

// ProbeFunc checks one dependency. A *DegradedError marks the dependency
// usable but impaired; any other error marks it down.
type ProbeFunc func(ctx context.Context) error

// DegradedError reports an impaired but usable dependency
type DegradedError struct {
	Reason string
}

func (e *DegradedError) Error() string { return e.Reason }

type probe struct {
	name     string
	critical bool
	fn       ProbeFunc
}

// HealthChecker evaluates registered probes. A failing critical probe makes
// the service unhealthy; a failing optional probe only degrades it.
type HealthChecker struct {
	version string

	mu     sync.RWMutex
	probes []probe
}

// NewHealthChecker registers PostgreSQL as a critical probe and Redis, when
// configured, as an optional one
func NewHealthChecker(db *sql.DB, client *redis.Client, version string) *HealthChecker {
	h := &HealthChecker{version: version}
	if db != nil {
		h.AddProbe("database", true, databaseProbe(db))
	}
	if client != nil {
		h.AddProbe("redis", false, func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
	}
	return h
}

// AddProbe registers a named probe
func (h *HealthChecker) AddProbe(name string, critical bool, fn ProbeFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes = append(h.probes, probe{name: name, critical: critical, fn: fn})
}

func databaseProbe(db *sql.DB) ProbeFunc {
	return func(ctx context.Context) error {
		var one int
		if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
			return fmt.Errorf("query failed: %w", err)
		}
		stats := db.Stats()
		if stats.MaxOpenConnections > 0 && stats.InUse >= stats.MaxOpenConnections {
			return &DegradedError{Reason: "connection pool exhausted"}
		}
		return nil
	}
}

// HealthStatus is the readiness report
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Version      string                      `json:"version,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus is the outcome of one probe
type DependencyStatus struct {
	Status    string `json:"status"`
	Critical  bool   `json:"critical"`
	Message   string `json:"message,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// Check runs every probe concurrently and folds the results
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	h.mu.RLock()
	probes := append([]probe(nil), h.probes...)
	h.mu.RUnlock()

	results := make([]DependencyStatus, len(probes))
	var g errgroup.Group
	for i, p := range probes {
		g.Go(func() error {
			start := time.Now()
			err := p.fn(ctx)
			results[i] = dependencyStatus(p.critical, err, time.Since(start))
			return nil
		})
	}
	g.Wait()

	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now().UTC(),
		Version:      h.version,
		Dependencies: make(map[string]DependencyStatus, len(probes)),
	}
	for i, p := range probes {
		dep := results[i]
		status.Dependencies[p.name] = dep
		switch {
		case dep.Status == StatusUnhealthy && p.critical:
			status.Status = StatusUnhealthy
		case dep.Status != StatusHealthy && status.Status == StatusHealthy:
			status.Status = StatusDegraded
		}
	}
	return status
}

func dependencyStatus(critical bool, err error, latency time.Duration) DependencyStatus {
	dep := DependencyStatus{
		Status:    StatusHealthy,
		Critical:  critical,
		LatencyMS: latency.Milliseconds(),
	}
	if err == nil {
		return dep
	}

	dep.Message = err.Error()
	if _, ok := err.(*DegradedError); ok {
		dep.Status = StatusDegraded
	} else {
		dep.Status = StatusUnhealthy
	}
	return dep
}

// Liveness answers 200 while the process serves requests
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, http.StatusOK, map[string]any{
		"status":    StatusHealthy,
		"timestamp": time.Now().UTC(),
	})
}

// Readiness answers 503 when a critical dependency is down, 200 otherwise
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	status := h.Check(ctx)
	code := http.StatusOK
	if status.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeHealth(w, code, status)
}

func writeHealth(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

// RegisterHealthRoutes registers the probe endpoints
func RegisterHealthRoutes(router *http.ServeMux, checker *HealthChecker) {
	router.HandleFunc("/health", checker.Readiness)
	router.HandleFunc("/health/live", checker.Liveness)
	router.HandleFunc("/health/ready", checker.Readiness)
}
