package httpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dmitrymomot/usagegate/pkg/logger"
)

// Check probes one dependency.
type Check func(ctx context.Context) error

// HealthCheckHandler runs every named check with a per-request timeout and
// reports {"status": "ok"|"unavailable", "checks": {name: "ok"|"error"}}.
// Any failed check yields 503. With no checks it is a plain liveness probe.
func HealthCheckHandler(log *slog.Logger, timeout time.Duration, checks map[string]Check) http.HandlerFunc {
	if log == nil {
		log = logger.Nop()
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				log.ErrorContext(ctx, "readiness check failed",
					logger.Error(err),
					logger.Component("healthcheck"),
					slog.String("check", name),
				)
				results[name] = "error"
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}

		body := struct {
			Status string            `json:"status"`
			Checks map[string]string `json:"checks,omitempty"`
		}{Status: "ok", Checks: results}
		if status != http.StatusOK {
			body.Status = "unavailable"
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
