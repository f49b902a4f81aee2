package handler

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/boddenberg/tradedesk-bfa-go/internal/domain"
	"github.com/boddenberg/tradedesk-bfa-go/internal/infra/observability"
	"github.com/boddenberg/tradedesk-bfa-go/internal/port"
)

// ============================================================
// Metrics & Health
// ============================================================

const healthCheckTimeout = 3 * time.Second

func healthzHandler(checkers []port.HealthChecker, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		now := time.Now().Format(time.RFC3339)

		services := make([]domain.ServiceHealth, len(checkers)+1)
		services[0] = domain.ServiceHealth{Name: "bfa-api", Status: "healthy", LastChecked: now}

		// Every check reports into services; none fails the group.
		var g errgroup.Group
		for i, c := range checkers {
			g.Go(func() error {
				start := time.Now()
				err := c.Ping(ctx)
				sh := domain.ServiceHealth{
					Name:        c.Name(),
					Status:      "healthy",
					LatencyMs:   time.Since(start).Milliseconds(),
					LastChecked: now,
				}
				if err != nil {
					sh.Status = "degraded"
					sh.Error = err.Error()
					logger.Warn("health check failed", zap.String("service", c.Name()), zap.Error(err))
				}
				services[i+1] = sh
				return nil
			})
		}
		_ = g.Wait()

		overallStatus := "healthy"
		for _, s := range services {
			if s.Status == "unhealthy" {
				overallStatus = "unhealthy"
				break
			}
			if s.Status == "degraded" {
				overallStatus = "degraded"
			}
		}

		writeJSON(w, http.StatusOK, domain.HealthStatus{
			Status:   overallStatus,
			Services: services,
		})
	}
}

func readyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func authMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.GetAuthSnapshot())
	}
}
