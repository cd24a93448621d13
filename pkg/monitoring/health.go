package monitoring

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// CheckTimeout bounds a single health check.
const CheckTimeout = 5 * time.Second

// HealthStatus is the /health response body.
type HealthStatus struct {
	Status    string                 `json:"status"`
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	Timestamp int64                  `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// HealthCheck checks one dependency. It must honour ctx.
type HealthCheck func(ctx context.Context) CheckResult

// HealthChecker runs registered checks concurrently and folds them into one
// status: any unhealthy (or unknown) result wins over degraded, which wins
// over healthy.
type HealthChecker struct {
	service string
	version string

	mu     sync.RWMutex
	checks map[string]HealthCheck
}

func NewHealthChecker(service, version string) *HealthChecker {
	return &HealthChecker{service: service, version: version, checks: map[string]HealthCheck{}}
}

// AddCheck registers check under name, replacing any previous one.
func (hc *HealthChecker) AddCheck(name string, check HealthCheck) {
	hc.mu.Lock()
	hc.checks[name] = check
	hc.mu.Unlock()
}

// Names lists the registered checks, sorted.
func (hc *HealthChecker) Names() []string {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	names := make([]string, 0, len(hc.checks))
	for name := range hc.checks {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func severity(status string) int {
	switch status {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

func (hc *HealthChecker) CheckHealth(ctx context.Context) HealthStatus {
	hc.mu.RLock()
	checks := make(map[string]HealthCheck, len(hc.checks))
	for name, check := range hc.checks {
		checks[name] = check
	}
	hc.mu.RUnlock()

	var (
		mu      sync.Mutex
		results = make(map[string]CheckResult, len(checks))
		g       errgroup.Group
	)
	for name, check := range checks {
		name, check := name, check
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, CheckTimeout)
			defer cancel()
			res := check(cctx)
			mu.Lock()
			results[name] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	overall := StatusHealthy
	for _, res := range results {
		if severity(res.Status) > severity(overall) {
			overall = res.Status
		}
	}
	if severity(overall) == 2 {
		overall = StatusUnhealthy
	}

	return HealthStatus{
		Status:    overall,
		Service:   hc.service,
		Version:   hc.version,
		Timestamp: time.Now().Unix(),
		Checks:    results,
	}
}

// Handler answers 503 when the folded status is unhealthy, 200 otherwise.
func (hc *HealthChecker) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		health := hc.CheckHealth(c.Request.Context())
		code := http.StatusOK
		if health.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, health)
	}
}

// timed stamps the check latency onto the result.
func timed(check func(ctx context.Context) CheckResult) HealthCheck {
	return func(ctx context.Context) CheckResult {
		start := time.Now()
		res := check(ctx)
		res.Latency = time.Since(start).String()
		return res
	}
}

// Pinger proves a backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingHealthCheck wraps a Pinger. A nil pinger reports unhealthy.
func PingHealthCheck(name string, p Pinger) HealthCheck {
	return timed(func(ctx context.Context) CheckResult {
		if p == nil {
			return CheckResult{Status: StatusUnhealthy, Message: name + " client is nil"}
		}
		if err := p.Ping(ctx); err != nil {
			return CheckResult{Status: StatusUnhealthy, Message: fmt.Sprintf("%s ping failed: %v", name, err)}
		}
		return CheckResult{Status: StatusHealthy, Message: name + " reachable"}
	})
}

// ErrorHealthCheck adapts a context-free check such as a Kafka client's
// HealthCheck method.
func ErrorHealthCheck(name string, check func() error) HealthCheck {
	return timed(func(context.Context) CheckResult {
		if err := check(); err != nil {
			return CheckResult{Status: StatusUnhealthy, Message: fmt.Sprintf("%s: %v", name, err)}
		}
		return CheckResult{Status: StatusHealthy}
	})
}

// ConfigurationHealthCheck is unhealthy while any of the named settings is empty.
func ConfigurationHealthCheck(required map[string]string) HealthCheck {
	return timed(func(context.Context) CheckResult {
		var missing []string
		for key, value := range required {
			if value == "" {
				missing = append(missing, key)
			}
		}
		if len(missing) == 0 {
			return CheckResult{Status: StatusHealthy}
		}
		slices.Sort(missing)
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: "missing configuration: " + strings.Join(missing, ", "),
		}
	})
}
