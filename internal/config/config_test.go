package config

import (
	"testing"
	"time"
)

func TestFromEnvDevelopmentDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("from env: %v", err)
	}
	if cfg.LockBackend != LockBackendLocal {
		t.Fatalf("expected local locks without redis, got %s", cfg.LockBackend)
	}
	if cfg.JWTSecret == "" || cfg.RefreshSecret == "" {
		t.Fatal("development should fall back to dev secrets")
	}
	if cfg.ReportLocation != time.UTC {
		t.Fatalf("expected UTC reports, got %s", cfg.ReportLocation)
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("unexpected address %s", cfg.Address())
	}
}

func TestFromEnvProductionRequirements(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	if _, err := FromEnv(); err == nil {
		t.Fatal("production without DATABASE_URL should fail")
	}

	t.Setenv("DATABASE_URL", "postgres://localhost/aurum")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("JWT_SECRET", "same")
	t.Setenv("REFRESH_SECRET", "same")
	if _, err := FromEnv(); err == nil {
		t.Fatal("identical secrets should be rejected")
	}

	t.Setenv("REFRESH_SECRET", "other")
	t.Setenv("LOCK_WAIT", "2")
	t.Setenv("REPORT_TIMEZONE", "Africa/Accra")
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("from env: %v", err)
	}
	if cfg.LockBackend != LockBackendRedis {
		t.Fatalf("redis url should select redis locks, got %s", cfg.LockBackend)
	}
	if cfg.LockWait != 2*time.Second {
		t.Fatalf("expected bare seconds to parse, got %s", cfg.LockWait)
	}
	if cfg.ReportLocation.String() != "Africa/Accra" {
		t.Fatalf("unexpected report zone %s", cfg.ReportLocation)
	}
}

func TestFromEnvRejectsBadValues(t *testing.T) {
	for name, env := range map[string][2]string{
		"duration":    {"LOCK_WAIT", "soon"},
		"backend":     {"LOCK_BACKEND", "etcd"},
		"redis-locks": {"LOCK_BACKEND", "redis"},
		"timezone":    {"REPORT_TIMEZONE", "Mars/Olympus"},
		"login-limit": {"LOGIN_RATE_PER_MINUTE", "many"},
	} {
		t.Run(name, func(t *testing.T) {
			t.Setenv("APP_ENV", "development")
			t.Setenv(env[0], env[1])
			if _, err := FromEnv(); err == nil {
				t.Fatalf("expected %s=%s to be rejected", env[0], env[1])
			}
		})
	}
}
