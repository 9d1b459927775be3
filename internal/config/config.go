package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultAppName        = "AurumPay"
	defaultAppEnv         = "development"
	defaultPort           = "8080"
	defaultLogLevel       = "info"
	defaultShutdownDelay  = 10 * time.Second
	defaultIdempotencyTTL = 24 * time.Hour
	defaultAccessTTL      = 15 * time.Minute
	defaultRefreshTTL     = 7 * 24 * time.Hour
	defaultLockWait       = 5 * time.Second
	defaultLockTTL        = 30 * time.Second
	defaultReportCacheTTL = time.Hour
	defaultNotifyTTL      = 30 * 24 * time.Hour
	defaultLoginPerMinute = 5
	devJWTSecret          = "dev-access-secret"
	devRefreshSecret      = "dev-refresh-secret"

	// LockBackendLocal serialises account access inside one process.
	LockBackendLocal = "local"
	// LockBackendRedis serialises account access across instances.
	LockBackendRedis = "redis"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	Env            string
	Port           string
	LogLevel       string
	CORSOrigins    string
	DatabaseURL    string
	RedisURL       string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration

	JWTSecret       string
	RefreshSecret   string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	LoginPerMinute  int
	AdminAPIKey     string

	LockBackend string
	LockWait    time.Duration
	LockTTL     time.Duration

	ReportLocation *time.Location
	ReportCacheTTL time.Duration

	NotificationTTL time.Duration
}

// Load reads an optional .env file, then configuration values from the
// environment. Variables already set in the environment win over .env.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the current process environment.
func FromEnv() (Config, error) {
	cfg := Config{
		AppName:       getEnv("APP_NAME", defaultAppName),
		Env:           strings.ToLower(getEnv("APP_ENV", defaultAppEnv)),
		Port:          getEnv("PORT", defaultPort),
		LogLevel:      strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisURL:      os.Getenv("REDIS_URL"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		RefreshSecret: os.Getenv("REFRESH_SECRET"),
		AdminAPIKey:   os.Getenv("ADMIN_API_KEY"),
		LockBackend:   strings.ToLower(os.Getenv("LOCK_BACKEND")),
		CORSOrigins:   getEnv("CORS_ORIGINS", "*"),
	}

	var err error
	durations := []struct {
		dst      *time.Duration
		name     string
		fallback time.Duration
	}{
		{&cfg.ShutdownPeriod, "SHUTDOWN_TIMEOUT", defaultShutdownDelay},
		{&cfg.IdempotencyTTL, "IDEMPOTENCY_TTL", defaultIdempotencyTTL},
		{&cfg.AccessTokenTTL, "ACCESS_TOKEN_TTL", defaultAccessTTL},
		{&cfg.RefreshTokenTTL, "REFRESH_TOKEN_TTL", defaultRefreshTTL},
		{&cfg.LockWait, "LOCK_WAIT", defaultLockWait},
		{&cfg.LockTTL, "LOCK_TTL", defaultLockTTL},
		{&cfg.ReportCacheTTL, "REPORT_CACHE_TTL", defaultReportCacheTTL},
		{&cfg.NotificationTTL, "NOTIFICATION_TTL", defaultNotifyTTL},
	}
	for _, d := range durations {
		if *d.dst, err = getDuration(d.name, d.fallback); err != nil {
			return Config{}, err
		}
	}

	if v := os.Getenv("LOGIN_RATE_PER_MINUTE"); v != "" {
		if cfg.LoginPerMinute, err = strconv.Atoi(v); err != nil {
			return Config{}, fmt.Errorf("invalid LOGIN_RATE_PER_MINUTE: %w", err)
		}
	} else {
		cfg.LoginPerMinute = defaultLoginPerMinute
	}

	if cfg.ReportLocation, err = time.LoadLocation(getEnv("REPORT_TIMEZONE", "UTC")); err != nil {
		return Config{}, fmt.Errorf("invalid REPORT_TIMEZONE: %w", err)
	}

	if cfg.LockBackend == "" {
		cfg.LockBackend = LockBackendLocal
		if cfg.RedisURL != "" {
			cfg.LockBackend = LockBackendRedis
		}
	}
	switch cfg.LockBackend {
	case LockBackendLocal:
	case LockBackendRedis:
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("LOCK_BACKEND=redis requires REDIS_URL")
		}
		if cfg.LockTTL <= cfg.LockWait {
			return Config{}, fmt.Errorf("LOCK_TTL (%s) must exceed LOCK_WAIT (%s)", cfg.LockTTL, cfg.LockWait)
		}
	default:
		return Config{}, fmt.Errorf("unknown LOCK_BACKEND %q", cfg.LockBackend)
	}

	if cfg.IsDev() {
		if cfg.JWTSecret == "" {
			cfg.JWTSecret = devJWTSecret
		}
		if cfg.RefreshSecret == "" {
			cfg.RefreshSecret = devRefreshSecret
		}
		return cfg, nil
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL must be set")
	}
	if cfg.RedisURL == "" {
		return Config{}, fmt.Errorf("REDIS_URL must be set")
	}
	if cfg.JWTSecret == "" || cfg.RefreshSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET and REFRESH_SECRET must be set")
	}
	if cfg.JWTSecret == cfg.RefreshSecret {
		return Config{}, fmt.Errorf("JWT_SECRET and REFRESH_SECRET must differ")
	}
	return cfg, nil
}

// IsDev reports whether the app runs in a development environment, where
// Postgres and Redis are optional and in-memory backends are used instead.
func (c Config) IsDev() bool {
	switch c.Env {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// getDuration accepts either a Go duration ("90s") or a bare number of seconds.
func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	if seconds, err := strconv.Atoi(v); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
