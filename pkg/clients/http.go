// Package clients holds the HTTP plumbing shared by the Farcaster, Neynar
// and subgraph clients: a pooled transport and a failsafe-go executor.
package clients

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"github.com/nounsdev/nouners-farcaster/pkg/logging"
	"github.com/nounsdev/nouners-farcaster/pkg/version"
)

// UserAgent is sent on every outgoing request.
var UserAgent = "nouns-radar/" + version.Version

// BreakerConfig configures an optional circuit breaker in front of one API.
type BreakerConfig struct {
	Name string
	// Threshold failures out of Window executions open the circuit. 5 of 10 by default.
	Threshold uint
	Window    uint
	// Delay is how long the circuit stays open. 30s by default.
	Delay  time.Duration
	Logger logging.Logger
}

// HTTPExecutorConfig configures retries for idempotent requests.
type HTTPExecutorConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration

	// ShouldRetry decides whether a result is retried. DefaultShouldRetry when nil.
	ShouldRetry func(resp *http.Response, err error) bool

	Breaker *BreakerConfig
}

func DefaultHTTPExecutorConfig() HTTPExecutorConfig {
	return HTTPExecutorConfig{
		MaxRetries:  3,
		BaseDelay:   250 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		ShouldRetry: DefaultShouldRetry,
	}
}

// WithBreaker returns a copy of cfg guarded by a breaker named name.
func (cfg HTTPExecutorConfig) WithBreaker(name string, logger logging.Logger) HTTPExecutorConfig {
	cfg.Breaker = &BreakerConfig{Name: name, Logger: logger}
	return cfg
}

// DefaultShouldRetry retries transport errors, 408, 429 and every 5xx except
// 501. The Farcaster APIs sit behind Cloudflare, which answers 520-524 when
// the origin is struggling.
func DefaultShouldRetry(resp *http.Response, err error) bool {
	if err != nil || resp == nil {
		return true
	}
	switch {
	case resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode == http.StatusTooManyRequests:
		return true
	case resp.StatusCode == http.StatusNotImplemented:
		return false
	default:
		return resp.StatusCode >= 500
	}
}

func (cfg HTTPExecutorConfig) normalized() HTTPExecutorConfig {
	cfg.MaxRetries = max(cfg.MaxRetries, 0)
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 250 * time.Millisecond
	}
	cfg.MaxDelay = max(cfg.MaxDelay, cfg.BaseDelay)
	if cfg.ShouldRetry == nil {
		cfg.ShouldRetry = DefaultShouldRetry
	}
	return cfg
}

//nolint:bodyclose // *http.Response is only a type parameter here
func NewHTTPRetryPolicy(cfg HTTPExecutorConfig) retrypolicy.RetryPolicy[*http.Response] {
	cfg = cfg.normalized()
	return retrypolicy.NewBuilder[*http.Response]().
		WithBackoff(cfg.BaseDelay, cfg.MaxDelay).
		WithMaxRetries(cfg.MaxRetries).
		WithJitterFactor(0.2).
		HandleIf(cfg.ShouldRetry).
		ReturnLastFailure().
		Build()
}

// NewHTTPCircuitBreaker opens on transport errors and 5xx responses. A 429
// does not count: rate limits are handled by retrying later, not by
// failing fast.
//
//nolint:bodyclose // *http.Response is only a type parameter here
func NewHTTPCircuitBreaker(cfg BreakerConfig) circuitbreaker.CircuitBreaker[*http.Response] {
	if cfg.Window == 0 {
		cfg.Window = 10
	}
	if cfg.Threshold == 0 || cfg.Threshold > cfg.Window {
		cfg.Threshold = max(cfg.Window/2, 1)
	}
	if cfg.Delay <= 0 {
		cfg.Delay = 30 * time.Second
	}

	builder := circuitbreaker.NewBuilder[*http.Response]().
		WithFailureThresholdRatio(cfg.Threshold, cfg.Window).
		WithDelay(cfg.Delay).
		WithSuccessThreshold(1).
		HandleIf(func(resp *http.Response, err error) bool {
			return err != nil || (resp != nil && resp.StatusCode >= 500)
		})
	if cfg.Logger != nil {
		builder = builder.OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			cfg.Logger.WithFields(logging.Fields{
				"api":  cfg.Name,
				"from": stateName(e.OldState),
				"to":   stateName(e.NewState),
			}).Warn("API circuit breaker changed state")
		})
	}
	return builder.Build()
}

func stateName(s circuitbreaker.State) string {
	switch s {
	case circuitbreaker.ClosedState:
		return "closed"
	case circuitbreaker.HalfOpenState:
		return "half-open"
	case circuitbreaker.OpenState:
		return "open"
	}
	return "unknown"
}

//nolint:bodyclose // *http.Response is only a type parameter here
func NewHTTPExecutor(cfg HTTPExecutorConfig) failsafe.Executor[*http.Response] {
	retry := NewHTTPRetryPolicy(cfg)
	if cfg.Breaker == nil {
		return failsafe.With[*http.Response](retry)
	}
	return failsafe.With[*http.Response](retry, NewHTTPCircuitBreaker(*cfg.Breaker))
}

// ExecuteHTTP runs fn through executor, bound to ctx.
func ExecuteHTTP(ctx context.Context, executor failsafe.Executor[*http.Response], fn func() (*http.Response, error)) (*http.Response, error) {
	return executor.WithContext(ctx).Get(fn)
}

// userAgent stamps requests that do not set their own User-Agent.
type userAgent struct {
	next http.RoundTripper
}

func (u userAgent) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" {
		return u.next.RoundTrip(req)
	}
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", UserAgent)
	return u.next.RoundTrip(req)
}

// NewTransport is a small pool: jobs call each API sequentially, so a
// handful of warm connections per host is enough.
func NewTransport() *http.Transport {
	return &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxConnsPerHost:     16,
		MaxIdleConnsPerHost: 4,
		MaxIdleConns:        32,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}

func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: userAgent{next: NewTransport()},
	}
}
