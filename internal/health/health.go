// Package health serves the /health endpoint shared by every component.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Version is reported by every health endpoint.
var Version = "1.0.0"

// Check tests one dependency.
type Check func(ctx context.Context) error

// Status represents the health check response.
type Status struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Service   string            `json:"service"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// Handler reports "healthy" with 200 when every check passes and "degraded"
// with 503 otherwise.
func Handler(service string, checks map[string]Check) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 3*time.Second)
		defer cancel()

		status := Status{
			Status:    "healthy",
			Timestamp: time.Now().UTC(),
			Service:   service,
			Version:   Version,
		}
		code := http.StatusOK
		for name, check := range checks {
			if status.Checks == nil {
				status.Checks = make(map[string]string, len(checks))
			}
			if err := check(ctx); err != nil {
				status.Checks[name] = err.Error()
				status.Status = "degraded"
				code = http.StatusServiceUnavailable
				continue
			}
			status.Checks[name] = "ok"
		}
		return c.JSON(code, status)
	}
}
