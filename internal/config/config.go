package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Profile and storage backends.
const (
	ProfileBackendPostgREST = "postgrest"
	ProfileBackendPostgres  = "postgres"

	StorageBackendMemory = "memory"
	StorageBackendRedis  = "redis"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port     int
	LogLevel string

	// HTTP client
	HTTPTimeout time.Duration

	// Resilience
	MaxRetries     int
	InitialBackoff time.Duration
	MaxConcurrency int

	// Observability
	OTLPEndpoint string

	// Supabase
	SupabaseURL        string
	SupabaseAnonKey    string
	SupabaseServiceKey string
	SupabaseJWTSecret  string

	// Profiles
	ProfileBackend      string
	DatabaseURL         string
	ProfileTimeout      time.Duration
	ProfileQueryRetries int

	// Client storage
	StorageBackend string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int

	// Session lifecycle
	ProvisioningDelay time.Duration
	SessionIdleTTL    time.Duration
	MaxClients        int

	// Browser
	CORSAllowedOrigins []string
	CookieSecure       bool
}

// Load reads configuration from the environment, after merging a local .env
// file when one exists.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 10*time.Second),

		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		InitialBackoff: getEnvDuration("INITIAL_BACKOFF", 100*time.Millisecond),
		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 50),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),

		SupabaseURL:        getEnv("SUPABASE_URL", ""),
		SupabaseAnonKey:    getEnv("SUPABASE_ANON_KEY", ""),
		SupabaseServiceKey: getEnv("SUPABASE_SERVICE_ROLE_KEY", ""),
		SupabaseJWTSecret:  getEnv("SUPABASE_JWT_SECRET", ""),

		ProfileBackend:      strings.ToLower(getEnv("PROFILE_BACKEND", ProfileBackendPostgREST)),
		DatabaseURL:         getEnv("DATABASE_URL", ""),
		ProfileTimeout:      getEnvDuration("PROFILE_TIMEOUT", 5*time.Second),
		ProfileQueryRetries: getEnvInt("PROFILE_QUERY_RETRIES", 0),

		StorageBackend: strings.ToLower(getEnv("STORAGE_BACKEND", StorageBackendMemory)),
		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisDB:        getEnvInt("REDIS_DB", 0),

		ProvisioningDelay: getEnvDuration("PROVISIONING_DELAY", time.Second),
		SessionIdleTTL:    getEnvDuration("SESSION_IDLE_TTL", 30*time.Minute),
		MaxClients:        getEnvInt("MAX_CLIENTS", 10000),

		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS"),
		CookieSecure:       getEnvBool("COOKIE_SECURE", false),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate rejects settings the server cannot start with.
func (c *Config) validate() error {
	var errs []error
	switch c.ProfileBackend {
	case ProfileBackendPostgREST:
	case ProfileBackendPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required when PROFILE_BACKEND=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown PROFILE_BACKEND %q", c.ProfileBackend))
	}
	switch c.StorageBackend {
	case StorageBackendMemory, StorageBackendRedis:
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend))
	}
	if c.ProfileQueryRetries < 0 {
		errs = append(errs, errors.New("PROFILE_QUERY_RETRIES must not be negative"))
	}
	return errors.Join(errs...)
}

// SupabaseConfigured reports whether the project URL and public key are set.
// Without them every auth operation fails with a configuration error.
func (c *Config) SupabaseConfigured() bool {
	return c.SupabaseURL != "" && c.SupabaseAnonKey != ""
}

// Warnings lists optional settings whose absence weakens the server.
func (c *Config) Warnings() []string {
	var out []string
	if c.SupabaseJWTSecret == "" {
		out = append(out, "SUPABASE_JWT_SECRET is not set; stored tokens are decoded without signature checks")
	}
	if c.ProfileBackend == ProfileBackendPostgREST && c.SupabaseServiceKey == "" {
		out = append(out, "SUPABASE_SERVICE_ROLE_KEY is not set; profile queries run with the user token only")
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// getEnvList splits a comma separated value, dropping empty items.
func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
