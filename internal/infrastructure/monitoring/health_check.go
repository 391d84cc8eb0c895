package monitoring

import (
	"context"
	"sync"
	"time"
)

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
)

// HealthChecker runs named readiness checks. Checks run concurrently, each
// under its own timeout, so a hung Redis cannot hide the session state.
type HealthChecker struct {
	mu     sync.RWMutex
	checks []HealthCheck
}

type HealthCheck struct {
	Name    string
	Check   func(ctx context.Context) (bool, error)
	Timeout time.Duration
}

type CheckResult struct {
	Status   string        `json:"status"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{}
}

func (h *HealthChecker) AddCheck(name string, check func(ctx context.Context) (bool, error), timeout time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.checks = append(h.checks, HealthCheck{
		Name:    name,
		Check:   check,
		Timeout: timeout,
	})
}

func (h *HealthChecker) CheckAll(ctx context.Context) HealthStatus {
	h.mu.RLock()
	checks := append([]HealthCheck(nil), h.checks...)
	h.mu.RUnlock()

	results := make([]CheckResult, len(checks))
	var wg sync.WaitGroup
	for i, check := range checks {
		wg.Add(1)
		go func(i int, check HealthCheck) {
			defer wg.Done()
			results[i] = runCheck(ctx, check)
		}(i, check)
	}
	wg.Wait()

	status := HealthStatus{
		Status:    statusHealthy,
		Timestamp: time.Now(),
		Checks:    make(map[string]CheckResult, len(checks)),
	}
	for i, check := range checks {
		if results[i].Status != statusHealthy {
			status.Status = statusUnhealthy
		}
		status.Checks[check.Name] = results[i]
	}
	return status
}

// IsHealthy reports whether every registered check passes
func (h *HealthChecker) IsHealthy(ctx context.Context) bool {
	return h.CheckAll(ctx).Status == statusHealthy
}

func runCheck(ctx context.Context, check HealthCheck) CheckResult {
	timeout := check.Timeout
	if timeout <= 0 {
		timeout = time.Second
	}
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	healthy, err := check.Check(checkCtx)
	res := CheckResult{Status: statusHealthy, Duration: time.Since(start)}
	switch {
	case err != nil:
		res.Status = statusUnhealthy
		res.Error = err.Error()
	case !healthy:
		res.Status = statusUnhealthy
		res.Error = "check failed"
	}
	return res
}
