package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Supported database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds runtime configuration for the repository server.
type Config struct {
	Environment         string
	Addr                string
	DatabaseDriver      string
	DatabaseURL         string
	StorageDir          string
	WorkspaceDir        string
	JWTSecret           string
	AccessTokenTTL      time.Duration
	SessionCookieName   string
	SessionCookieSecure bool
	ContainerTimeout    time.Duration
	FetchParallelism    int
	ListingCacheTTL     time.Duration
	MaxUploadBytes      int64
	RateLimitRedisAddr  string
	RateLimitRedisPass  string
	RateLimitRedisDB    int
	SeedFile            string
	LogLevel            string
}

// Load constructs a Config from environment variables.
func Load() Config {
	return Config{
		Environment:         GetString("APP_ENV", "development"),
		Addr:                GetString("API_ADDR", ":8080"),
		DatabaseDriver:      strings.ToLower(strings.TrimSpace(GetString("DATABASE_DRIVER", DriverSQLite))),
		DatabaseURL:         GetString("DATABASE_URL", "file:csarrepo.db?_pragma=busy_timeout(5000)"),
		StorageDir:          GetString("STORAGE_DIR", "data/csars"),
		WorkspaceDir:        GetString("WORKSPACE_DIR", "data/workspace"),
		JWTSecret:           GetString("JWT_SECRET", "supersecuresecret"),
		AccessTokenTTL:      time.Duration(GetInt("ACCESS_TOKEN_TTL_MIN", 60)) * time.Minute,
		SessionCookieName:   GetString("SESSION_COOKIE_NAME", "csarrepo_session"),
		SessionCookieSecure: GetBool("SESSION_COOKIE_SECURE", false),
		ContainerTimeout:    GetSeconds("CONTAINER_TIMEOUT_SECONDS", 30),
		FetchParallelism:    GetInt("CONTAINER_FETCH_PARALLELISM", 4),
		ListingCacheTTL:     GetSeconds("LISTING_CACHE_TTL_SECONDS", 15),
		MaxUploadBytes:      int64(GetInt("MAX_UPLOAD_MB", 512)) << 20,
		RateLimitRedisAddr:  GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass:  GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:    GetInt("RATE_LIMIT_REDIS_DB", 0),
		SeedFile:            GetString("SEED_FILE", ""),
		LogLevel:            GetString("LOG_LEVEL", "info"),
	}
}

// Validate reports configuration that would prevent the server from starting.
func (c Config) Validate() error {
	switch c.DatabaseDriver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q", c.DatabaseDriver)
	}
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return errors.New("DATABASE_URL must be set")
	}
	if strings.TrimSpace(c.StorageDir) == "" {
		return errors.New("STORAGE_DIR must be set")
	}
	if strings.TrimSpace(c.WorkspaceDir) == "" {
		return errors.New("WORKSPACE_DIR must be set")
	}
	if c.Environment == "production" && c.JWTSecret == "supersecuresecret" {
		return errors.New("JWT_SECRET must be changed in production")
	}
	if c.FetchParallelism < 1 {
		return errors.New("CONTAINER_FETCH_PARALLELISM must be at least 1")
	}
	return nil
}
