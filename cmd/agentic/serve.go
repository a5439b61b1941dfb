package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/darrylbowler72/agenticframework-sub001/internal/api"
	"github.com/darrylbowler72/agenticframework-sub001/internal/config"
	"github.com/darrylbowler72/agenticframework-sub001/internal/tls"
)

// shutdownTimeout bounds graceful shutdown after a signal.
const shutdownTimeout = 30 * time.Second

// newEcho returns an Echo instance with the middleware every service shares.
func newEcho(service string, logger *slog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = api.HTTPErrorHandler(logger)

	e.Use(middleware.Recover())
	e.Use(otelecho.Middleware(service))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			level := slog.LevelInfo
			if v.Status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				attrs = append(attrs, slog.String("error", v.Error.Error()))
			}
			logger.LogAttrs(c.Request().Context(), level, "request", attrs...)
			return nil
		},
	}))
	return e
}

// serve runs e until SIGINT or SIGTERM, then shuts the HTTP server down
// and calls each cleanup in order with the remaining shutdown budget. The
// cleanups also run when the server fails to start or stops on its own.
func serve(cfg *config.Config, e *echo.Echo, logger *slog.Logger, cleanups ...func(context.Context) error) error {
	srvCfg := cfg.Server
	server := &http.Server{
		Addr:         srvCfg.Addr,
		Handler:      e,
		ReadTimeout:  srvCfg.ReadTimeout,
		WriteTimeout: srvCfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	if srvCfg.TLS.Enabled {
		created, err := tls.EnsureCertificate(srvCfg.TLS.CertFile, srvCfg.TLS.KeyFile, srvCfg.TLS.Hostnames)
		if err != nil {
			runCleanups(context.Background(), logger, cleanups)
			return fmt.Errorf("preparing TLS certificate: %w", err)
		}
		if created {
			logger.Warn("generated self-signed certificate", "cert_file", srvCfg.TLS.CertFile)
		}
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server starting", "address", srvCfg.Addr, "tls", srvCfg.TLS.Enabled)
		if srvCfg.TLS.Enabled {
			serverErrors <- server.ListenAndServeTLS(srvCfg.TLS.CertFile, srvCfg.TLS.KeyFile)
			return
		}
		serverErrors <- server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	select {
	case err := <-serverErrors:
		runCleanups(context.Background(), logger, cleanups)
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
		if err := server.Close(); err != nil {
			logger.Error("server close error", "error", err)
		}
	}
	runCleanups(ctx, logger, cleanups)
	logger.Info("server stopped gracefully")
	return nil
}

// runCleanups calls each cleanup in order within the shutdown budget.
func runCleanups(parent context.Context, logger *slog.Logger, cleanups []func(context.Context) error) {
	ctx, cancel := context.WithTimeout(parent, shutdownTimeout)
	defer cancel()
	for _, cleanup := range cleanups {
		if err := cleanup(ctx); err != nil {
			logger.Error("shutdown step failed", "error", err)
		}
	}
}
