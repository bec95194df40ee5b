package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

var startTime = time.Now()

// FuncHealthCheck adapts a function, usually a component's Ping or Health
// method, to HealthChecker.
//
// Example:
//
//	registry.Register(&observability.FuncHealthCheck{CheckName: "redis", CheckFunc: store.Ping})
type FuncHealthCheck struct {
	CheckName    string
	CheckFunc    func(ctx context.Context) error
	CheckTimeout time.Duration
	// Optional marks a dependency whose failure degrades the assistant
	// instead of taking it down (the response cache store, for example).
	Optional bool
}

// Name returns the name of this health check
func (c *FuncHealthCheck) Name() string { return c.CheckName }

// Check performs the health check
func (c *FuncHealthCheck) Check(ctx context.Context) error { return c.CheckFunc(ctx) }

// Timeout returns the timeout for this health check
func (c *FuncHealthCheck) Timeout() time.Duration { return c.CheckTimeout }

// HealthCheckRegistry runs a set of checks concurrently.
type HealthCheckRegistry struct {
	mu       sync.RWMutex
	checks   map[string]HealthChecker
	optional map[string]bool
	timeout  time.Duration
}

// NewHealthCheckRegistry creates a registry whose checks default to timeout.
func NewHealthCheckRegistry(timeout time.Duration) *HealthCheckRegistry {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthCheckRegistry{
		checks:   make(map[string]HealthChecker),
		optional: make(map[string]bool),
		timeout:  timeout,
	}
}

// Register adds a health check, replacing any check with the same name.
func (r *HealthCheckRegistry) Register(check HealthChecker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks[check.Name()] = check
	if fc, ok := check.(*FuncHealthCheck); ok && fc.Optional {
		r.optional[check.Name()] = true
	} else {
		delete(r.optional, check.Name())
	}
}

// Names returns the registered check names, sorted.
func (r *HealthCheckRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.checks))
	for n := range r.checks {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// RunAll runs every check and aggregates the report. A failing required
// check makes the report unhealthy; failing optional checks only degrade it.
func (r *HealthCheckRegistry) RunAll(ctx context.Context) HealthReport {
	r.mu.RLock()
	checks := make([]HealthChecker, 0, len(r.checks))
	for _, c := range r.checks {
		checks = append(checks, c)
	}
	optional := make(map[string]bool, len(r.optional))
	for k, v := range r.optional {
		optional[k] = v
	}
	r.mu.RUnlock()

	report := HealthReport{
		Status:    HealthStatusHealthy,
		Checks:    make(map[string]HealthCheckResult, len(checks)),
		Uptime:    time.Since(startTime),
		Timestamp: time.Now(),
	}

	results := make(chan HealthCheckResult, len(checks))
	var wg sync.WaitGroup
	for _, c := range checks {
		wg.Add(1)
		go func(c HealthChecker) {
			defer wg.Done()
			timeout := c.Timeout()
			if timeout == 0 {
				timeout = r.timeout
			}
			checkCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			start := time.Now()
			err := c.Check(checkCtx)
			res := HealthCheckResult{
				Name:     c.Name(),
				Status:   "ok",
				Latency:  time.Since(start),
				Optional: optional[c.Name()],
			}
			if err != nil {
				res.Status = "error"
				res.Error = err.Error()
			}
			results <- res
		}(c)
	}
	wg.Wait()
	close(results)

	for res := range results {
		report.Checks[res.Name] = res
		if res.Status == "ok" {
			continue
		}
		if res.Optional {
			if report.Status == HealthStatusHealthy {
				report.Status = HealthStatusDegraded
			}
			continue
		}
		report.Status = HealthStatusUnhealthy
	}
	return report
}

// ServeHTTP writes the report as JSON; unhealthy reports use status 503.
func (r *HealthCheckRegistry) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	report := r.RunAll(req.Context())
	w.Header().Set("Content-Type", "application/json")
	if report.Status == HealthStatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(report)
}
