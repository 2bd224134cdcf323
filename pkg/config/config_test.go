package config

import (
	"testing"
	"time"
)

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", " Postgres ")
	t.Setenv("CONTAINER_TIMEOUT_SECONDS", "7")
	t.Setenv("MAX_UPLOAD_MB", "2")
	t.Setenv("SESSION_COOKIE_SECURE", "true")

	cfg := Load()
	if cfg.DatabaseDriver != DriverPostgres {
		t.Fatalf("expected postgres driver, got %q", cfg.DatabaseDriver)
	}
	if cfg.ContainerTimeout != 7*time.Second {
		t.Fatalf("expected 7s container timeout, got %s", cfg.ContainerTimeout)
	}
	if cfg.MaxUploadBytes != 2<<20 {
		t.Fatalf("expected 2MiB upload limit, got %d", cfg.MaxUploadBytes)
	}
	if !cfg.SessionCookieSecure {
		t.Fatalf("expected secure cookies")
	}
}

func TestGetIntFallsBackOnGarbage(t *testing.T) {
	t.Setenv("CSARREPO_TEST_INT", "twelve")
	if got := GetInt("CSARREPO_TEST_INT", 12); got != 12 {
		t.Fatalf("expected fallback 12, got %d", got)
	}
}

func TestValidate(t *testing.T) {
	base := Config{
		DatabaseDriver:   DriverSQLite,
		DatabaseURL:      ":memory:",
		StorageDir:       "data",
		WorkspaceDir:     "work",
		FetchParallelism: 1,
	}
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "unknown driver", mutate: func(c *Config) { c.DatabaseDriver = "mysql" }, wantErr: true},
		{name: "missing dsn", mutate: func(c *Config) { c.DatabaseURL = " " }, wantErr: true},
		{name: "default secret in production", mutate: func(c *Config) {
			c.Environment = "production"
			c.JWTSecret = "supersecuresecret"
		}, wantErr: true},
		{name: "zero parallelism", mutate: func(c *Config) { c.FetchParallelism = 0 }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
