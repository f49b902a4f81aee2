package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/boddenberg/tradedesk-bfa-go/internal/guard"
	"github.com/boddenberg/tradedesk-bfa-go/internal/infra/observability"
	"github.com/boddenberg/tradedesk-bfa-go/internal/port"
	"github.com/boddenberg/tradedesk-bfa-go/internal/service"
	"github.com/boddenberg/tradedesk-bfa-go/internal/session"
)

var tracer = otel.Tracer("handler")

// Deps are the router's collaborators.
type Deps struct {
	Registry *service.ClientRegistry
	Metrics  *observability.Metrics
	Logger   *zap.Logger

	// HealthCheckers are pinged by /healthz.
	HealthCheckers []port.HealthChecker

	LoginPath string
	// SettleTimeout bounds how long a request waits for bootstrap.
	SettleTimeout time.Duration
	CookieSecure  bool
	// AllowedOrigins enables CORS for a separately hosted front-end.
	AllowedOrigins []string
}

func (d *Deps) defaults() {
	if d.LoginPath == "" {
		d.LoginPath = session.DefaultLoginPath
	}
	if d.SettleTimeout <= 0 {
		d.SettleTimeout = guard.DefaultSettleTimeout
	}
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(d Deps) http.Handler {
	d.defaults()
	logger := d.Logger
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.TracingMiddleware)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))
	if len(d.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   d.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(d.HealthCheckers, logger))
	r.Get("/readyz", readyzHandler())
	r.Handle("/metrics", promhttp.HandlerFor(d.Metrics.Registry, promhttp.HandlerOpts{}))

	// Everything below is per browser client.
	r.Group(func(r chi.Router) {
		r.Use(ClientIDMiddleware(d.CookieSecure, logger))

		requireSession := guard.RequireSession(func(req *http.Request) guard.Awaiter {
			if d.Registry == nil {
				return nil
			}
			return d.Registry.Acquire(ClientIDFromContext(req.Context())).Controller
		}, d.LoginPath, d.SettleTimeout, logger)

		// --- Pages ---
		r.Get("/login", loginPageHandler(logger))
		r.Get("/clear-auth", clearAuthPageHandler(d.Registry, logger))
		r.Post("/api/auth/clear", clearAPIHandler(d.Registry, logger))

		// --- API v1 ---
		r.Route("/v1", func(r chi.Router) {
			r.Get("/metrics/auth", authMetricsHandler(d.Metrics))

			r.Route("/auth", func(r chi.Router) {
				r.Get("/session", sessionHandler(d.Registry, d.SettleTimeout, logger))
				r.Post("/login", loginHandler(d.Registry, logger))
				r.Post("/register", registerHandler(d.Registry, logger))
				r.Post("/logout", logoutHandler(d.Registry, logger))
				r.Get("/ws", sessionSocketHandler(d.Registry, d.LoginPath, d.AllowedOrigins, logger))
				r.With(requireSession).Patch("/profile", updateProfileHandler(d.Registry, logger))
			})

			r.With(requireSession).Get("/me", meHandler())
		})
	})

	return r
}
