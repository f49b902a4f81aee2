package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/boddenberg/tradedesk-bfa-go/internal/config"
	"github.com/boddenberg/tradedesk-bfa-go/internal/handler"
	"github.com/boddenberg/tradedesk-bfa-go/internal/identity"
	"github.com/boddenberg/tradedesk-bfa-go/internal/infra/observability"
	"github.com/boddenberg/tradedesk-bfa-go/internal/infra/postgres"
	"github.com/boddenberg/tradedesk-bfa-go/internal/infra/resilience"
	"github.com/boddenberg/tradedesk-bfa-go/internal/infra/storage"
	"github.com/boddenberg/tradedesk-bfa-go/internal/infra/supabase"
	"github.com/boddenberg/tradedesk-bfa-go/internal/port"
	"github.com/boddenberg/tradedesk-bfa-go/internal/service"
	"github.com/boddenberg/tradedesk-bfa-go/internal/session"
)

// storageTTL keeps persisted sessions around long after the in-memory
// client has been evicted, so a returning browser is restored.
const storageTTL = 7 * 24 * time.Hour

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the BFA HTTP server",
	Long:  `Starts the HTTP server with the session, hard-reset and health endpoints.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context(), cmd)
	},
}

func init() {
	serveCmd.Flags().Int("port", 0, "Listen port (env: PORT)")
	serveCmd.Flags().Bool("migrate", false, "Apply migrations before serving (PROFILE_BACKEND=postgres only)")
}

func serve(ctx context.Context, cmd *cobra.Command) error {
	if p, _ := cmd.Flags().GetInt("port"); p > 0 {
		cfg.Port = p
	}

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("profile_backend", cfg.ProfileBackend),
		zap.String("storage_backend", cfg.StorageBackend),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Duration("profile_timeout", cfg.ProfileTimeout),
		zap.Int("profile_query_retries", cfg.ProfileQueryRetries),
		zap.Duration("provisioning_delay", cfg.ProvisioningDelay),
		zap.Int("max_clients", cfg.MaxClients),
	)

	// --- Tracing ---
	shutdownTracer, err := observability.InitTracer(ctx, cfg.OTLPEndpoint, "tradedesk-bfa")
	if err != nil {
		return fmt.Errorf("failed to init tracer: %w", err)
	}
	defer shutdownTracer(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Resilience ---
	cb := resilience.NewCircuitBreaker("supabase")
	bulkhead := resilience.NewBulkhead(cfg.MaxConcurrency)

	// --- Supabase ---
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	sb := supabase.NewClient(httpClient, supabase.Options{
		URL:            cfg.SupabaseURL,
		AnonKey:        cfg.SupabaseAnonKey,
		ServiceRoleKey: cfg.SupabaseServiceKey,
		JWTSecret:      cfg.SupabaseJWTSecret,
	}, cb, bulkhead, metrics, logger)
	checkers := []port.HealthChecker{sb}

	// --- Profiles ---
	var profiles port.ProfileStore = sb
	if cfg.ProfileBackend == config.ProfileBackendPostgres {
		db, err := openProfilesDB(ctx, cmd)
		if err != nil {
			return err
		}
		defer db.Close()
		profiles = postgres.NewProfileStore(db, logger)
		checkers = append(checkers, postgres.Health{DB: db})
	}
	logger.Info("profile store ready", zap.String("backend", cfg.ProfileBackend))

	// --- Client storage ---
	base, closeStorage := newStorage()
	defer closeStorage()
	if hc, ok := base.(port.HealthChecker); ok {
		checkers = append(checkers, hc)
	}

	// --- Identity ---
	reconciler := identity.NewReconciler(profiles, identity.Options{
		Timeout: cfg.ProfileTimeout,
		Retry: resilience.Config{
			MaxRetries:     cfg.ProfileQueryRetries,
			InitialBackoff: cfg.InitialBackoff,
		},
	}, metrics, logger)
	logger.Info("identity reconciler ready",
		zap.Duration("timeout", reconciler.Timeout()),
		zap.Int("retries", cfg.ProfileQueryRetries),
	)

	// --- Clients ---
	registry := service.NewClientRegistry(service.RegistryOptions{
		MaxClients: cfg.MaxClients,
		IdleTTL:    cfg.SessionIdleTTL,
		Session: session.Options{
			ProvisioningDelay: cfg.ProvisioningDelay,
			FlowTimeout:       cfg.ProfileTimeout + cfg.HTTPTimeout,
		},
	}, func(st port.Storage) port.SessionStore {
		return supabase.NewSessionStore(sb, st, logger)
	}, base, reconciler, profiles, metrics, logger)
	defer registry.Close()

	// --- Router ---
	router := handler.NewRouter(handler.Deps{
		Registry:       registry,
		Metrics:        metrics,
		Logger:         logger,
		HealthCheckers: checkers,
		CookieSecure:   cfg.CookieSecure,
		AllowedOrigins: cfg.CORSAllowedOrigins,
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info("server shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func openProfilesDB(ctx context.Context, cmd *cobra.Command) (*sql.DB, error) {
	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if migrate, _ := cmd.Flags().GetBool("migrate"); migrate {
		if err := postgres.Migrate(ctx, db, logger); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return db, nil
}

// newStorage builds the shared store that holds every client's namespace.
func newStorage() (port.Storage, func()) {
	if cfg.StorageBackend == config.StorageBackendRedis {
		rs := storage.NewRedis(storage.RedisOptions{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: "tradedesk:",
			TTL:       storageTTL,
		}, logger)
		return rs, rs.Close
	}
	mem := storage.NewInMemory(storageTTL)
	return mem, mem.Close
}
