// Package server hosts the ops HTTP surface: health, metrics and operator
// endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nounsdev/nouners-farcaster/pkg/config"
	"github.com/nounsdev/nouners-farcaster/pkg/logging"
	"github.com/nounsdev/nouners-farcaster/pkg/middleware"
	"github.com/nounsdev/nouners-farcaster/pkg/monitoring"
)

type Config struct {
	Addr            string
	ServiceName     string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// ConfigFromEnv reads PORT (falling back to defaultPort) and
// HTTP_SHUTDOWN_TIMEOUT.
func ConfigFromEnv(serviceName, defaultPort string) Config {
	return Config{
		Addr:            ":" + config.GetEnv("PORT", defaultPort),
		ServiceName:     serviceName,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: config.GetEnvDuration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),
	}
}

// SetupServiceRouter returns a gin engine with request ID, logging and
// recovery middleware, plus /health and, when mc is set, /metrics.
func SetupServiceRouter(logger logging.Logger, serviceName string, hc *monitoring.HealthChecker, mc *monitoring.MetricsCollector) *gin.Engine {
	if config.GetEnv("GIN_MODE", gin.ReleaseMode) == gin.ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	middleware.SetupCommonMiddleware(router, logger)
	if mc != nil {
		router.Use(mc.MetricsMiddleware())
		router.GET("/metrics", mc.Handler())
	}

	if hc == nil {
		hc = monitoring.NewHealthChecker(serviceName, "")
	}
	router.GET("/health", hc.Handler())
	return router
}

// Start binds cfg.Addr and serves handler until ctx ends. A bind failure is
// returned immediately; on cancellation in-flight requests get
// cfg.ShutdownTimeout to finish.
func Start(ctx context.Context, cfg Config, handler http.Handler, logger logging.Logger) error {
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Addr, err)
	}
	return Serve(ctx, ln, cfg, handler, logger)
}

// Serve is Start on an existing listener.
func Serve(ctx context.Context, ln net.Listener, cfg Config, handler http.Handler, logger logging.Logger) error {
	srv := &http.Server{
		Handler:           handler,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	log := logger.WithFields(logging.Fields{"service": cfg.ServiceName, "addr": ln.Addr().String()})

	served := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening")
		served <- srv.Serve(ln)
	}()

	select {
	case err := <-served:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	grace := cfg.ShutdownTimeout
	if grace <= 0 {
		grace = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), grace)
	defer cancel()

	log.Info("HTTP server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
